package control

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/feedback"
	"github.com/loqalabs/loqa-dictate/internal/paste"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/recorder"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

const maxLineBytes = 1 << 20

// Transcriber is the slice of stt.Service the server drives.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, cfg config.Config) (stt.Result, error)
	Reload(ctx context.Context, cfg config.STTConfig) (stt.ModelSpec, error)
}

// Observer receives a copy of every emitted event.
type Observer interface {
	ObserveEvent(ctx context.Context, ev protocol.Event) error
}

type Options struct {
	Config      *config.Store
	Transcriber Transcriber
	// NewSource returns the audio source for one capture cycle.
	NewSource func(cfg config.Config) recorder.Source
	// NewGate is optional; it is consulted when audio.vad_mode >= 0.
	NewGate   func(cfg config.Config) (recorder.SpeechGate, error)
	Paster    paste.Paster
	Player    feedback.Player
	Observers []Observer
	Output    io.Writer
	Logger    *slog.Logger
}

// Server speaks the line-delimited JSON control protocol. Requests are
// handled concurrently; at most one capture cycle runs at a time.
type Server struct {
	cfg       *config.Store
	stt       Transcriber
	newSource func(cfg config.Config) recorder.Source
	newGate   func(cfg config.Config) (recorder.SpeechGate, error)
	paster    paste.Paster
	player    feedback.Player
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
	traceID   func() string

	out     io.Writer
	writeMu sync.Mutex

	stateMu   sync.Mutex
	listening bool
	closing   bool
	stop      atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func NewServer(parent context.Context, opts Options) *Server {
	ctx, cancel := context.WithCancel(parent)
	s := &Server{
		cfg:       opts.Config,
		stt:       opts.Transcriber,
		newSource: opts.NewSource,
		newGate:   opts.NewGate,
		paster:    opts.Paster,
		player:    opts.Player,
		observers: opts.Observers,
		logger:    opts.Logger.With(slog.String("component", "control")),
		now:       time.Now,
		traceID:   newTraceID,
		out:       opts.Output,
		ctx:       ctx,
		cancel:    cancel,
		shutdown:  make(chan struct{}),
	}
	if s.paster == nil {
		s.paster = paste.Noop{}
	}
	if s.player == nil {
		s.player = feedback.Silent{}
	}
	return s
}

// Run emits the initial ready status and serves requests from in until EOF,
// a shutdown request, or cancellation of ctx. It returns after in-flight
// handlers and the active cycle have finished.
func (s *Server) Run(ctx context.Context, in io.Reader) error {
	s.Emit(protocol.EventStatusChanged, map[string]any{"status": protocol.StatusReady})

	lines := make(chan inputLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReaderSize(in, 64*1024)
		for {
			line, tooLong, err := readLine(reader, maxLineBytes)
			if len(line) > 0 || tooLong {
				select {
				case lines <- inputLine{text: string(line), tooLong: tooLong}:
				case <-s.ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-s.shutdown:
			break loop
		case line, ok := <-lines:
			if !ok {
				select {
				case err = <-readErr:
				default:
				}
				break loop
			}
			if line.tooLong {
				s.Emit(protocol.EventRuntimeError, map[string]any{"message": "Line too long"})
				continue
			}
			s.handleLine(line.text)
		}
	}

	s.logger.Info("control loop stopping")
	s.stateMu.Lock()
	s.closing = true
	s.stateMu.Unlock()
	s.stop.Store(true)
	s.wg.Wait()
	s.cancel()
	if err != nil {
		return fmt.Errorf("read control input: %w", err)
	}
	return nil
}

type inputLine struct {
	text    string
	tooLong bool
}

// readLine returns the next newline-terminated line. A line longer than
// limit is consumed to its end and reported as tooLong without content.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

func (s *Server) handleLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	var req protocol.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.Emit(protocol.EventRuntimeError, map[string]any{"message": "Invalid JSON: " + err.Error()})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handleRequest(req)
	}()
}

func (s *Server) handleRequest(req protocol.Request) {
	s.write(s.HandleRequest(req))
}

// HandleRequest dispatches one request and returns its response without
// writing it. Remote command transports use it directly.
func (s *Server) HandleRequest(req protocol.Request) protocol.Response {
	result, err := s.dispatch(req)
	if err != nil {
		s.logger.Debug("request failed", slog.String("method", req.Method), slogError(err))
		return protocol.NewErrorResponse(req.ID, protocol.ErrorCodeRequestFailed, err.Error())
	}
	return protocol.NewResponse(req.ID, result)
}

func (s *Server) dispatch(req protocol.Request) (any, error) {
	switch req.Method {
	case protocol.MethodPing:
		return map[string]any{"pong": true}, nil
	case protocol.MethodStartListening:
		return s.StartListening(), nil
	case protocol.MethodStopListening:
		return s.StopListening(), nil
	case protocol.MethodGetConfig:
		return s.cfg.Get().Redacted(), nil
	case protocol.MethodUpdateConfig:
		return s.updateConfig(req.Params)
	case protocol.MethodShutdown:
		s.once.Do(func() { close(s.shutdown) })
		return map[string]any{"ok": true}, nil
	default:
		return nil, fmt.Errorf("unknown method: %s", req.Method)
	}
}

func (s *Server) updateConfig(params json.RawMessage) (config.Config, error) {
	var patch map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &patch); err != nil {
			return config.Config{}, errors.New("patch must be an object")
		}
	}
	cfg, err := s.cfg.Update(patch)
	if err != nil {
		return config.Config{}, err
	}
	if _, err := s.stt.Reload(s.ctx, cfg.STT); err != nil {
		return config.Config{}, fmt.Errorf("reload model: %w", err)
	}
	s.Emit(protocol.EventStatusChanged, map[string]any{"status": protocol.StatusReady})
	return cfg.Redacted(), nil
}

// Emit writes an event line and hands it to every observer.
func (s *Server) Emit(name string, data map[string]any) {
	ev := protocol.NewEvent(name, data, s.now())
	s.write(ev)
	for _, o := range s.observers {
		if err := o.ObserveEvent(s.ctx, ev); err != nil {
			s.logger.Warn("event observer failed", slog.String("event", name), slogError(err))
		}
	}
}

func (s *Server) write(v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		s.logger.Error("failed to encode control message", slogError(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(buf.Bytes()); err != nil {
		s.logger.Warn("failed to write control message", slogError(err))
	}
}

// Listening reports whether a capture cycle is active.
func (s *Server) Listening() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.listening
}

func newTraceID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
