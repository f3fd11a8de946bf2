package bus

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "dictation"

// Client publishes the dictation event mirror and receives remote control
// requests. Subjects are rooted at the configured prefix.
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	servers := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(servers, connectOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("dial event bus %s: %w", servers, err)
	}
	js, err := conn.JetStream(nats.Context(ctx))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	c := &Client{
		conn:   conn,
		js:     js,
		prefix: cmp.Or(cfg.SubjectPrefix, defaultSubjectPrefix),
		log:    log.With(slog.String("component", "bus")),
	}
	c.log.Info("event bus connected", slog.String("servers", servers), slog.String("prefix", c.prefix))
	return c, nil
}

// connectOptions keeps retrying a dropped connection: the mirror is best
// effort and Healthy reports the gap to /readyz.
func connectOptions(cfg config.BusConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name("loqa-dictate"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

// Close flushes pending mirror publishes before disconnecting.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		c.log.Warn("event bus flush failed", slog.String("error", err.Error()))
	}
	c.conn.Close()
	c.log.Info("event bus disconnected")
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

// EventSubject is the subject an event with the given name is published on.
func (c *Client) EventSubject(name string) string {
	return c.prefix + ".event." + name
}

// CommandSubject receives remote control requests.
func (c *Client) CommandSubject() string {
	return c.prefix + ".command"
}

// EnsureEventStream creates the JetStream stream that retains published
// events, leaving an existing stream untouched.
func (c *Client) EnsureEventStream(name string, maxAge time.Duration) error {
	if name == "" {
		return nil
	}
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream %s: %w", name, err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{c.prefix + ".event.>"},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	c.log.Info("created event stream", slog.String("stream", name), slog.Duration("max_age", maxAge))
	return nil
}
