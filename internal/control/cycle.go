package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/feedback"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/recorder"
)

// minRecordFloor is the shortest recording ever sent for decoding.
const minRecordFloor = 0.12

// StartListening launches a capture cycle unless one is already running.
func (s *Server) StartListening() map[string]any {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closing {
		return map[string]any{"started": false, "reason": "shutting_down"}
	}
	if s.listening {
		return map[string]any{"started": false, "reason": "already_listening"}
	}
	s.listening = true
	s.stop.Store(false)
	s.wg.Add(1)
	go s.runCycle()
	return map[string]any{"started": true}
}

// StopListening asks the recorder to stop at its next chunk. It does not
// wait for the cycle to end.
func (s *Server) StopListening() map[string]any {
	s.stop.Store(true)
	return map[string]any{"stopping": true}
}

// Toggle starts a cycle when idle and requests a stop otherwise.
func (s *Server) Toggle() {
	if s.Listening() {
		s.StopListening()
		return
	}
	s.StartListening()
}

func (s *Server) runCycle() {
	defer s.wg.Done()
	cfg := s.cfg.Get()
	traceID := s.traceID()
	logger := s.logger.With(slog.String("trace_id", traceID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("capture cycle panicked", slog.Any("panic", r))
			s.fail(cfg, traceID, fmt.Errorf("internal error: %v", r))
		}
		s.stateMu.Lock()
		s.listening = false
		s.stop.Store(false)
		s.stateMu.Unlock()
		s.status(protocol.StatusReady, traceID)
	}()

	if err := s.capture(s.ctx, cfg, traceID, logger); err != nil {
		logger.Warn("capture cycle failed", slogError(err))
		s.fail(cfg, traceID, err)
	}
}

func (s *Server) capture(ctx context.Context, cfg config.Config, traceID string, logger *slog.Logger) error {
	s.status(protocol.StatusListening, traceID)
	s.beep(cfg, feedback.ToneReady)

	rec := recorder.New(recorder.OptionsFromConfig(cfg), s.speechGate(cfg, logger), logger)
	sess, err := rec.Record(s.newSource(cfg), &s.stop)
	if err != nil {
		return fmt.Errorf("record audio: %w", err)
	}

	if sess.Elapsed.Seconds() < max(minRecordFloor, cfg.Recording.MinRecordSeconds) {
		s.Emit(protocol.EventRuntimeError, map[string]any{"message": "Recording too short", "trace_id": traceID})
		s.status(protocol.StatusReady, traceID)
		s.beep(cfg, feedback.ToneTooShort)
		return nil
	}

	s.status(protocol.StatusTranscribing, traceID)
	processed, err := audio.Preprocess(sess.PCM, audio.PreprocessOptions{
		SampleRate:       cfg.Recording.SampleRate,
		HighpassHz:       cfg.Audio.HighpassHz,
		TargetDBFS:       cfg.Audio.NormalizeTargetDBFS,
		NoiseSuppression: cfg.Audio.NoiseSuppression,
	})
	if err != nil {
		return fmt.Errorf("preprocess audio: %w", err)
	}

	result, err := s.stt.Transcribe(ctx, processed, cfg)
	if err != nil {
		return err
	}
	if result.Text == "" {
		s.status(protocol.StatusLowConf, traceID)
		s.Emit(protocol.EventRuntimeError, map[string]any{"message": "No speech detected", "trace_id": traceID})
		return nil
	}

	canPaste := result.Accepted ||
		(cfg.STT.AllowLowConfidencePaste && result.Confidence >= cfg.STT.PasteMinConfidenceFloor)
	pasted := false
	if canPaste && cfg.Paste.Enabled {
		if err := s.paster.Paste(ctx, result.Text, cfg.Paste); err != nil {
			logger.Warn("paste failed", slogError(err))
			s.Emit(protocol.EventRuntimeError, map[string]any{"message": "Paste failed: " + err.Error(), "trace_id": traceID})
		} else {
			pasted = true
		}
	}

	s.Emit(protocol.EventTranscriptReady, map[string]any{
		"text":       result.Text,
		"confidence": result.Confidence,
		"accepted":   result.Accepted,
		"pasted":     pasted,
		"warning":    result.Warning,
		"trace_id":   traceID,
	})
	s.Emit(protocol.EventMetrics, map[string]any{
		"latency_sec":        result.LatencySec,
		"duration_audio_sec": result.DurationAudioSec,
		"device":             result.Device,
		"model":              result.Model,
		"avg_logprob":        result.AvgLogprob,
		"no_speech_prob":     result.NoSpeechProb,
		"confidence":         result.Confidence,
		"accepted":           result.Accepted,
		"trace_id":           traceID,
	})

	switch {
	case result.Accepted && (pasted || !cfg.Paste.Enabled):
		s.status(protocol.StatusReady, traceID)
		s.beep(cfg, feedback.ToneAccepted)
	case canPaste:
		s.status(protocol.StatusLowConf, traceID)
		s.beep(cfg, feedback.ToneLowConfidence)
	default:
		s.status(protocol.StatusLowConf, traceID)
		s.beep(cfg, feedback.ToneRejected)
	}
	return nil
}

func (s *Server) speechGate(cfg config.Config, logger *slog.Logger) recorder.SpeechGate {
	if cfg.Audio.VADMode < 0 || s.newGate == nil {
		return nil
	}
	gate, err := s.newGate(cfg)
	if err != nil {
		logger.Warn("speech gate unavailable, using energy only", slogError(err))
		return nil
	}
	return gate
}

func (s *Server) fail(cfg config.Config, traceID string, err error) {
	s.Emit(protocol.EventRuntimeError, map[string]any{"message": err.Error(), "trace_id": traceID})
	s.status(protocol.StatusError, traceID)
	s.beep(cfg, feedback.ToneError)
}

func (s *Server) status(status, traceID string) {
	s.Emit(protocol.EventStatusChanged, map[string]any{"status": status, "trace_id": traceID})
}

func (s *Server) beep(cfg config.Config, tone feedback.Tone) {
	if cfg.Feedback.BeepEnabled {
		s.player.Play(tone)
	}
}
