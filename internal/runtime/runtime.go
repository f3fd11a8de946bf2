package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/control"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/feedback"
	"github.com/loqalabs/loqa-dictate/internal/hotkey"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/paste"
	"github.com/loqalabs/loqa-dictate/internal/recorder"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Runtime assembles the dictation pipeline and serves the control protocol
// until the input closes or the context is cancelled.
type Runtime struct {
	store  *config.Store
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	newSource func(cfg config.Config) recorder.Source
	paster    paste.Paster
	player    feedback.Player

	history     historyReader
	httpServer  *http.Server
	tracerClose func(context.Context) error
	bus         *bus.Client
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(store *config.Store, logger *slog.Logger) *Runtime {
	return &Runtime{
		store:     store,
		logger:    logger,
		in:        os.Stdin,
		out:       os.Stdout,
		newSource: portAudioSource,
		paster:    paste.NewClipboardPaster(),
		player:    feedback.NewBeeper(logger),
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg := r.store.Get()

	tel, err := newTelemetry(ctx, cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	defer r.closeTelemetry()

	history, err := eventstore.Open(ctx, cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer history.Close()
	r.history = history
	observers := []control.Observer{history}

	embedded, err := natsserver.Start(cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()
	if client := r.connectBus(ctx, cfg.Bus, embedded); client != nil {
		r.bus = client
		defer client.Close()
		observers = append(observers, client)
	}

	service, err := stt.NewServiceFromConfig(cfg.STT, &stt.JSONLSink{}, r.logger)
	if err != nil {
		return err
	}
	defer service.Close()
	if spec, err := service.Reload(ctx, cfg.STT); err != nil {
		r.logger.Warn("initial model load failed", slogError(err))
	} else {
		r.logger.Info("model ready", slog.String("model", spec.Model), slog.String("device", spec.Device))
	}

	server := control.NewServer(ctx, control.Options{
		Config:      r.store,
		Transcriber: service,
		NewSource:   r.newSource,
		NewGate:     webRTCGate,
		Paster:      r.paster,
		Player:      r.player,
		Observers:   observers,
		Output:      r.out,
		Logger:      r.logger,
	})

	if r.bus != nil {
		if err := r.bus.ServeCommands(ctx, server); err != nil {
			r.logger.Warn("remote commands unavailable", slogError(err))
		}
	}

	if cfg.Hotkey.Enabled {
		trigger, err := hotkey.New(cfg.Hotkey, server.Toggle, r.logger)
		if err == nil {
			err = trigger.Start()
		}
		if err != nil {
			r.logger.Warn("hotkey unavailable", slog.String("combo", cfg.Hotkey.Combo), slogError(err))
		} else {
			defer trigger.Close()
		}
	}

	if cfg.HTTP.Enabled {
		r.serveHTTP(cfg.HTTP, tel.metrics)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("engine", cfg.STT.Engine))

	runErr := server.Run(ctx, r.in)
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	}
	r.wg.Wait()

	return runErr
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}
}

// connectBus returns nil when the bus is disabled or unreachable; dictation
// keeps working without the mirror.
func (r *Runtime) connectBus(ctx context.Context, cfg config.BusConfig, embedded *natsserver.Broker) *bus.Client {
	if !cfg.Enabled {
		return nil
	}
	if url := embedded.ClientURL(); url != "" {
		cfg.Servers = []string{url}
	}
	client, err := bus.Connect(ctx, cfg, r.logger)
	if err != nil {
		r.logger.Warn("event bus unavailable", slogError(err))
		return nil
	}
	maxAge := time.Duration(cfg.StreamMaxAgeH) * time.Hour
	if err := client.EnsureEventStream(cfg.Stream, maxAge); err != nil {
		r.logger.Warn("event stream unavailable", slog.String("stream", cfg.Stream), slogError(err))
	}
	return client
}

func (r *Runtime) routes(metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.history != nil {
		mux.HandleFunc("GET /history", r.handleHistory)
		mux.HandleFunc("GET /history/{trace_id}", r.handleCycleEvents)
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func (r *Runtime) serveHTTP(cfg config.HTTPConfig, metrics http.Handler) {
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", addr))
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func portAudioSource(cfg config.Config) recorder.Source {
	return recorder.NewPortAudioSource(cfg.Recording.SampleRate, cfg.Recording.ChunkSize, cfg.Recording.DeviceName)
}

func webRTCGate(cfg config.Config) (recorder.SpeechGate, error) {
	gate, err := recorder.NewWebRTCGate(cfg.Recording.SampleRate, cfg.Audio.VADMode)
	if err != nil {
		return nil, err
	}
	return gate, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
