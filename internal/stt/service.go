package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// ErrAudioFile wraps failures writing the transient WAV container.
var ErrAudioFile = errors.New("audio file")

const (
	lowConfidenceWarning = "low confidence result, please try again"
	basePrompt           = "Bu konusma cogunlukla Turkce. Ingilizce teknik terimler, marka ve urun adlarini aynen koru."
	maxPromptHints       = 12
)

// Result is the outcome of one transcription.
type Result struct {
	Text             string  `json:"text"`
	Accepted         bool    `json:"accepted"`
	Confidence       float64 `json:"confidence"`
	AvgLogprob       float64 `json:"avg_logprob"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	LatencySec       float64 `json:"latency_sec"`
	DurationAudioSec float64 `json:"duration_audio_sec"`
	Model            string  `json:"model"`
	Device           string  `json:"device"`
	Warning          string  `json:"warning,omitempty"`
	Attempts         int     `json:"attempts"`
}

type Service struct {
	models     *ModelManager
	controller *Controller
	sink       MetricsSink
	logger     *slog.Logger
	tempDir    string
	now        func() time.Time

	engineMu  sync.Mutex
	newEngine func(config.STTConfig) (Engine, error)
	engineKey engineKey

	latency    metric.Float64Histogram
	confidence metric.Float64Histogram
	results    metric.Int64Counter
}

func NewService(engine Engine, sink MetricsSink, logger *slog.Logger) *Service {
	s := &Service{
		models:     NewModelManager(engine, logger),
		controller: NewController(logger),
		sink:       sink,
		logger:     logger.With(slog.String("component", "stt")),
		tempDir:    os.TempDir(),
		now:        time.Now,
	}
	meter := otel.Meter(instrumentationName)
	var err error
	if s.latency, err = meter.Float64Histogram("dictation.transcribe.latency", metric.WithUnit("s")); err != nil {
		s.logger.Warn("failed to create latency histogram", slogError(err))
	}
	if s.confidence, err = meter.Float64Histogram("dictation.transcribe.confidence"); err != nil {
		s.logger.Warn("failed to create confidence histogram", slogError(err))
	}
	if s.results, err = meter.Int64Counter("dictation.transcribe.results"); err != nil {
		s.logger.Warn("failed to create results counter", slogError(err))
	}
	return s
}

// NewServiceFromConfig builds the engine selected by cfg and rebuilds it
// whenever a later config names a different engine, command, endpoint or
// key.
func NewServiceFromConfig(cfg config.STTConfig, sink MetricsSink, logger *slog.Logger) (*Service, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("create recognition engine: %w", err)
	}
	s := NewService(engine, sink, logger)
	s.newEngine = NewEngine
	s.engineKey = engineKeyOf(cfg)
	return s, nil
}

// Reload loads the model selected by cfg. It is a no-op when neither the
// engine settings nor the model key changed.
func (s *Service) Reload(ctx context.Context, cfg config.STTConfig) (ModelSpec, error) {
	if err := s.ensureEngine(cfg); err != nil {
		return ModelSpec{}, err
	}
	_, spec, err := s.models.Ensure(ctx, cfg)
	return spec, err
}

func (s *Service) ensureEngine(cfg config.STTConfig) error {
	if s.newEngine == nil {
		return nil
	}
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	key := engineKeyOf(cfg)
	if key == s.engineKey {
		return nil
	}
	engine, err := s.newEngine(cfg)
	if err != nil {
		return fmt.Errorf("create recognition engine: %w", err)
	}
	s.models.SetEngine(engine)
	s.engineKey = key
	s.logger.Info("recognition engine replaced", slog.String("engine", cfg.Engine))
	return nil
}

func (s *Service) Close() error {
	return s.models.Close()
}

// Transcribe decodes preprocessed PCM. Decode failures yield an empty,
// unaccepted result; model load and WAV write failures are returned.
func (s *Service) Transcribe(ctx context.Context, pcm []byte, cfg config.Config) (Result, error) {
	if err := s.ensureEngine(cfg.STT); err != nil {
		return Result{}, err
	}
	handle, spec, err := s.models.Ensure(ctx, cfg.STT)
	if err != nil {
		return Result{}, err
	}

	rec := cfg.Recording
	duration := float64(len(pcm)) / float64(rec.SampleRate*rec.Channels*2)
	start := s.now()

	path, err := audio.WriteTempWAV(s.tempDir, pcm, rec.SampleRate, rec.Channels)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrAudioFile, err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove temp audio", slog.String("path", path), slogError(err))
		}
	}()

	language := languageFor(cfg.STT)
	req := DecodeRequest{
		AudioPath: path,
		Language:  language,
		Prompt:    buildPrompt(language, cfg.STT.TermHints),
		Options:   OptionsFromConfig(cfg.STT),
		VAD:       DefaultVADParameters,
	}
	decodeCtx := ctx
	if cfg.STT.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		decodeCtx, cancel = context.WithTimeout(ctx, time.Duration(cfg.STT.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	outcome := s.controller.Decode(decodeCtx, handle, req, Policy{
		MinConfidence: cfg.STT.MinConfidenceForAccept,
		RetryEnabled:  cfg.STT.RetryOnLowConfidence,
	})

	pass := outcome.Pass
	result := Result{
		Text:             pass.Text,
		Accepted:         pass.Text != "" && pass.Confidence >= cfg.STT.MinConfidenceForAccept,
		Confidence:       pass.Confidence,
		AvgLogprob:       pass.AvgLogprob,
		NoSpeechProb:     pass.NoSpeechProb,
		LatencySec:       s.now().Sub(start).Seconds(),
		DurationAudioSec: duration,
		Model:            spec.Model,
		Device:           spec.Device,
		Attempts:         outcome.Attempts,
	}
	if !result.Accepted {
		result.Warning = lowConfidenceWarning
	}

	s.record(ctx, cfg.Telemetry, result)
	return result, nil
}

func (s *Service) record(ctx context.Context, cfg config.TelemetryConfig, r Result) {
	attrs := metric.WithAttributes(
		attribute.Bool("accepted", r.Accepted),
		attribute.String("device", r.Device),
	)
	if s.latency != nil {
		s.latency.Record(ctx, r.LatencySec, attrs)
	}
	if s.confidence != nil {
		s.confidence.Record(ctx, r.Confidence, attrs)
	}
	if s.results != nil {
		s.results.Add(ctx, 1, attrs)
	}

	if !cfg.MetricsEnabled || cfg.MetricsPath == "" || s.sink == nil {
		return
	}
	if err := s.sink.Append(cfg.MetricsPath, newMetricsLine(r, s.now())); err != nil {
		s.logger.Warn("failed to write transcription metrics", slogError(err))
	}
}

func languageFor(cfg config.STTConfig) string {
	if cfg.LanguageMode == "multilingual_auto" {
		return ""
	}
	return cfg.PrimaryLanguage
}

func buildPrompt(language string, hints []string) string {
	if language != "tr" {
		return ""
	}
	if len(hints) == 0 {
		return basePrompt
	}
	if len(hints) > maxPromptHints {
		hints = hints[:maxPromptHints]
	}
	return basePrompt + " Terim ipuclari: " + strings.Join(hints, ", ") + "."
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
