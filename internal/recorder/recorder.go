package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
)

var (
	// ErrOverflow reports an input overrun. It is not fatal; any data
	// returned alongside it is kept.
	ErrOverflow = errors.New("audio input overflow")
	// ErrSourceClosed is returned by sources read after Close.
	ErrSourceClosed = errors.New("audio source closed")
)

// calibrationHeadroom limits calibration samples to chunks quieter than
// this multiple of the static threshold.
const calibrationHeadroom = 1.2

// Source yields fixed-size chunks of 16-bit mono PCM. Open and Close bound a
// single recording.
type Source interface {
	Open() error
	Read(frames int) ([]byte, error)
	Close() error
}

// SpeechGate optionally confirms that a loud chunk holds speech.
type SpeechGate interface {
	IsSpeech(samples []int16) (bool, error)
}

type State int

const (
	Calibrating State = iota
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Calibrating:
		return "calibrating"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type StopReason string

const (
	StopCancelled   StopReason = "cancelled"
	StopSilence     StopReason = "silence"
	StopMaxDuration StopReason = "max_duration"
	StopSourceError StopReason = "source_error"
)

type Options struct {
	SampleRate          int
	ChunkSize           int
	SilenceThreshold    float64
	SilenceDuration     float64
	MaxRecordSeconds    float64
	CalibrationSeconds  float64
	AdaptiveMultiplier  float64
	MinSilenceThreshold float64
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SampleRate:          cfg.Recording.SampleRate,
		ChunkSize:           cfg.Recording.ChunkSize,
		SilenceThreshold:    cfg.Recording.SilenceThreshold,
		SilenceDuration:     cfg.Recording.SilenceDuration,
		MaxRecordSeconds:    cfg.Recording.MaxRecordSeconds,
		CalibrationSeconds:  cfg.Audio.SilenceCalibrationSeconds,
		AdaptiveMultiplier:  cfg.Audio.SilenceAdaptiveMultiplier,
		MinSilenceThreshold: cfg.Audio.MinSilenceThreshold,
	}
}

func (o Options) chunksFor(seconds float64) int {
	return int(seconds * float64(o.SampleRate) / float64(o.ChunkSize))
}

// Session is the outcome of one recording.
type Session struct {
	PCM       []byte
	Elapsed   time.Duration
	Chunks    int
	Threshold float64
	HasSpeech bool
	State     State
	Reason    StopReason
}

type Recorder struct {
	opts   Options
	gate   SpeechGate
	logger *slog.Logger
	now    func() time.Time
}

// New returns a recorder. gate may be nil.
func New(opts Options, gate SpeechGate, logger *slog.Logger) *Recorder {
	return &Recorder{
		opts:   opts,
		gate:   gate,
		logger: logger.With(slog.String("component", "recorder")),
		now:    time.Now,
	}
}

// Record reads from src until cancel is set, trailing silence follows
// speech, or the duration cap is hit. src is closed before Record returns.
func (r *Recorder) Record(src Source, cancel *atomic.Bool) (Session, error) {
	if err := src.Open(); err != nil {
		return Session{}, fmt.Errorf("open audio source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			r.logger.Warn("failed to close audio source", slogError(cerr))
		}
	}()

	var (
		sess              Session
		calibrationChunks = max(1, r.opts.chunksFor(r.opts.CalibrationSeconds))
		maxSilence        = r.opts.chunksFor(r.opts.SilenceDuration)
		maxChunks         = r.opts.chunksFor(r.opts.MaxRecordSeconds)
		static            = r.opts.SilenceThreshold
		calibration       []float64
		silent            int
		reads             int
	)
	sess.Threshold = static
	sess.State = Calibrating
	start := r.now()

	for {
		if cancel != nil && cancel.Load() {
			sess.Reason = StopCancelled
			break
		}
		if reads >= maxChunks {
			sess.Reason = StopMaxDuration
			break
		}

		chunk, rerr := src.Read(r.opts.ChunkSize)
		reads++
		switch {
		case rerr == nil:
		case errors.Is(rerr, ErrOverflow):
			r.logger.Debug("audio input overflow", slog.Int("bytes", len(chunk)))
		default:
			r.logger.Warn("audio source failed", slogError(rerr))
			sess.Reason = StopSourceError
		}
		if sess.Reason == StopSourceError {
			break
		}

		samples, derr := audio.DecodePCM16(chunk)
		if derr != nil {
			r.logger.Warn("dropping malformed chunk", slogError(derr))
			samples = nil
		}
		if len(samples) > 0 {
			sess.PCM = append(sess.PCM, chunk...)
			level := audio.RMS(samples)

			if sess.Chunks < calibrationChunks && !sess.HasSpeech {
				if level < calibrationHeadroom*static {
					calibration = append(calibration, level)
					sess.Threshold = math.Max(r.opts.MinSilenceThreshold, audio.Percentile(calibration, 90)*r.opts.AdaptiveMultiplier)
				}
			} else {
				sess.State = Listening
			}
			sess.Chunks++

			if r.isSpeech(level, sess.Threshold, samples) {
				sess.HasSpeech = true
				silent = 0
			} else {
				silent++
			}
		}

		if sess.HasSpeech && silent >= maxSilence {
			sess.Reason = StopSilence
			break
		}
	}

	sess.State = Stopped
	sess.Elapsed = r.now().Sub(start)
	r.logger.Debug("recording finished",
		slog.String("reason", string(sess.Reason)),
		slog.Int("chunks", sess.Chunks),
		slog.Float64("threshold", sess.Threshold),
		slog.Bool("has_speech", sess.HasSpeech),
	)
	return sess, nil
}

func (r *Recorder) isSpeech(level, threshold float64, samples []int16) bool {
	if level <= threshold {
		return false
	}
	if r.gate == nil {
		return true
	}
	ok, err := r.gate.IsSpeech(samples)
	if err != nil {
		r.logger.Debug("speech gate failed, using energy only", slogError(err))
		return true
	}
	return ok
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
