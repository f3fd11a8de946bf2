package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seg(text string, logprob, noSpeech float64) Segment {
	return Segment{Text: text, AvgLogprob: &logprob, NoSpeechProb: &noSpeech}
}

type fakeHandle struct {
	mu       sync.Mutex
	results  [][]Segment
	errs     []error
	requests []DecodeRequest
	closed   bool
}

func (h *fakeHandle) Decode(ctx context.Context, req DecodeRequest) ([]Segment, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := len(h.requests)
	h.requests = append(h.requests, req)
	if i < len(h.errs) && h.errs[i] != nil {
		return nil, h.errs[i]
	}
	if len(h.results) == 0 {
		return nil, nil
	}
	if i >= len(h.results) {
		i = len(h.results) - 1
	}
	return h.results[i], nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

type fakeEngine struct {
	gpu         bool
	failDevices map[string]bool
	results     [][]Segment

	mu        sync.Mutex
	loads     []ModelSpec
	handles   []*fakeHandle
	gpuChecks int
}

func (e *fakeEngine) Load(ctx context.Context, spec ModelSpec) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads = append(e.loads, spec)
	if e.failDevices[spec.Device] {
		return nil, errors.New("device unavailable")
	}
	h := &fakeHandle{results: e.results}
	e.handles = append(e.handles, h)
	return h, nil
}

func (e *fakeEngine) HasGPU(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gpuChecks++
	return e.gpu
}
