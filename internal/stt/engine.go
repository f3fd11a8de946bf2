package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// ModelSpec identifies a loaded model. Two equal specs never trigger a reload.
type ModelSpec struct {
	Model     string
	Device    string
	Precision string
}

// Segment is one recognizer output segment. Probabilities are nil when the
// backend does not report them.
type Segment struct {
	Text         string
	AvgLogprob   *float64
	NoSpeechProb *float64
}

// VADParameters tune the engine's own voice activity gating.
type VADParameters struct {
	MinSilenceDurationMS int
	SpeechPadMS          int
}

var DefaultVADParameters = VADParameters{MinSilenceDurationMS: 400, SpeechPadMS: 350}

// DecodeRequest is everything a single decode pass needs.
type DecodeRequest struct {
	AudioPath string
	Language  string // empty means auto-detect
	Prompt    string
	Options   DecodeOptions
	VAD       VADParameters
}

// Engine loads recognition models. Swapping recognizers means providing a
// different Engine; nothing upstream of stt changes.
type Engine interface {
	Load(ctx context.Context, spec ModelSpec) (Handle, error)
	// HasGPU reports whether auto device selection should try the GPU.
	HasGPU(ctx context.Context) bool
}

// Handle is a loaded model.
type Handle interface {
	Decode(ctx context.Context, req DecodeRequest) ([]Segment, error)
	Close() error
}

// engineKey is the part of the config an Engine is built from. A change
// requires a new Engine, not just a model reload.
type engineKey struct {
	engine   string
	command  string
	endpoint string
	apiKey   string
}

func engineKeyOf(cfg config.STTConfig) engineKey {
	return engineKey{engine: cfg.Engine, command: cfg.Command, endpoint: cfg.Endpoint, apiKey: cfg.APIKey}
}

// NewEngine builds the engine selected by cfg.Engine.
func NewEngine(cfg config.STTConfig) (Engine, error) {
	switch cfg.Engine {
	case "mock", "":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg)
	case "openai":
		return NewOpenAIEngine(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported stt engine %q", cfg.Engine)
	}
}
