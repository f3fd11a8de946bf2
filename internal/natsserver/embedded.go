package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// Broker is the in-process message bus of a dictation session. Mirrored
// control events, remote control commands and the retained event stream all
// live on it, bound to loopback only.
type Broker struct {
	ns  *server.Server
	log *slog.Logger
}

// Start launches the broker when cfg asks for an embedded bus, otherwise it
// returns a nil *Broker whose methods are no-ops.
func Start(cfg config.BusConfig, log *slog.Logger) (*Broker, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	ns, err := server.NewServer(brokerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("create dictation broker: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("dictation broker not ready after %s", readyTimeout)
	}

	b := &Broker{ns: ns, log: log.With(slog.String("component", "broker"))}
	b.log.Info("dictation broker listening",
		slog.String("url", ns.ClientURL()),
		slog.String("store_dir", cfg.StoreDir),
		slog.Bool("auth", cfg.Token != "" || cfg.Username != ""),
	)
	return b, nil
}

// brokerOptions mirrors the client credentials so remote commands on the
// loopback port need the same secret as an external broker would.
func brokerOptions(cfg config.BusConfig) *server.Options {
	opts := &server.Options{
		ServerName: "loqa-dictate",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  cfg.Stream != "",
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
	}
	switch {
	case cfg.Token != "":
		opts.Authorization = cfg.Token
	case cfg.Username != "":
		opts.Username = cfg.Username
		opts.Password = cfg.Password
	}
	return opts
}

// ClientURL is the address the event mirror dials; empty without a broker.
func (b *Broker) ClientURL() string {
	if b == nil {
		return ""
	}
	return b.ns.ClientURL()
}

func (b *Broker) Shutdown() {
	if b == nil {
		return
	}
	b.log.Info("stopping dictation broker")
	b.ns.Shutdown()
	b.ns.WaitForShutdown()
}
