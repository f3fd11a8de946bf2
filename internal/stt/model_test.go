package stt

import (
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestEnsureIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	m := NewModelManager(engine, newLogger())
	cfg := config.Default().STT
	cfg.Device = "cpu"

	for i := 0; i < 3; i++ {
		if _, _, err := m.Ensure(context.Background(), cfg); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}
	if len(engine.loads) != 1 {
		t.Fatalf("expected a single load, got %d", len(engine.loads))
	}
	want := ModelSpec{Model: "small", Device: "cpu", Precision: "int8"}
	if got, ok := m.Current(); !ok || got != want {
		t.Fatalf("unexpected current model %+v", got)
	}
}

func TestEnsureReloadsOnKeyChange(t *testing.T) {
	engine := &fakeEngine{}
	m := NewModelManager(engine, newLogger())
	cfg := config.Default().STT
	cfg.Device = "cpu"
	if _, _, err := m.Ensure(context.Background(), cfg); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	cfg.ComputeTypeCPU = "float32"
	if _, spec, err := m.Ensure(context.Background(), cfg); err != nil || spec.Precision != "float32" {
		t.Fatalf("expected reload with new precision: %+v %v", spec, err)
	}
	if len(engine.loads) != 2 {
		t.Fatalf("expected two loads, got %d", len(engine.loads))
	}
	if !engine.handles[0].closed {
		t.Fatalf("previous model must be released")
	}
}

func TestEnsureFallsBackToCPUOnce(t *testing.T) {
	engine := &fakeEngine{gpu: true, failDevices: map[string]bool{"cuda": true}}
	m := NewModelManager(engine, newLogger())
	cfg := config.Default().STT

	_, spec, err := m.Ensure(context.Background(), cfg)
	if err != nil {
		t.Fatalf("fallback should succeed: %v", err)
	}
	if spec.Device != "cpu" || spec.Model != "small" {
		t.Fatalf("expected cpu model, got %+v", spec)
	}
	if _, _, err := m.Ensure(context.Background(), cfg); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(engine.loads) != 2 {
		t.Fatalf("gpu must not be retried after a failed load, loads=%v", engine.loads)
	}
	if engine.gpuChecks != 1 {
		t.Fatalf("gpu detection should run once, ran %d times", engine.gpuChecks)
	}
}

func TestEnsureFailsOnFallbackDevice(t *testing.T) {
	engine := &fakeEngine{gpu: true, failDevices: map[string]bool{"cuda": true, "cpu": true}}
	m := NewModelManager(engine, newLogger())
	_, _, err := m.Ensure(context.Background(), config.Default().STT)
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("no model should be loaded")
	}
}
