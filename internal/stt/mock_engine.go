package stt

import (
	"context"
	"fmt"
	"os"
)

type mockEngine struct{}

// NewMockEngine returns an engine that reports the size of the audio it was
// given instead of recognizing speech.
func NewMockEngine() Engine {
	return mockEngine{}
}

func (mockEngine) Load(ctx context.Context, spec ModelSpec) (Handle, error) {
	return mockHandle{spec: spec}, nil
}

func (mockEngine) HasGPU(ctx context.Context) bool { return false }

type mockHandle struct {
	spec ModelSpec
}

func (h mockHandle) Decode(ctx context.Context, req DecodeRequest) ([]Segment, error) {
	info, err := os.Stat(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("stat audio: %w", err)
	}
	logprob, noSpeech := -0.2, 0.05
	return []Segment{{
		Text:         fmt.Sprintf("[mock transcript bytes=%d model=%s]", info.Size(), h.spec.Model),
		AvgLogprob:   &logprob,
		NoSpeechProb: &noSpeech,
	}}, nil
}

func (mockHandle) Close() error { return nil }
