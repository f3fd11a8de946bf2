package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// ErrModelUnavailable means the model could not be loaded on any device.
var ErrModelUnavailable = errors.New("speech model unavailable")

// ModelManager keeps one loaded model and reloads it only when the
// (model, device, precision) key changes.
type ModelManager struct {
	engine Engine
	logger *slog.Logger

	mu          sync.Mutex
	handle      Handle
	spec        ModelSpec
	gpuDisabled bool
	gpuChecked   bool
	gpuPresent  bool
}

func NewModelManager(engine Engine, logger *slog.Logger) *ModelManager {
	return &ModelManager{
		engine: engine,
		logger: logger.With(slog.String("component", "model")),
	}
}

// Ensure returns a handle matching cfg, loading it if needed. A failed GPU
// load falls back to the CPU model once and keeps the GPU disabled for the
// life of the manager.
func (m *ModelManager) Ensure(ctx context.Context, cfg config.STTConfig) (Handle, ModelSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := specFor(cfg, m.resolveDevice(ctx, cfg))
	if m.handle != nil && want == m.spec {
		return m.handle, m.spec, nil
	}

	handle, err := m.engine.Load(ctx, want)
	if err != nil {
		if want.Device != DeviceCUDA {
			return nil, ModelSpec{}, fmt.Errorf("%w: load %s on %s: %v", ErrModelUnavailable, want.Model, want.Device, err)
		}
		m.logger.Warn("gpu model load failed, falling back to cpu",
			slog.String("model", want.Model),
			slogError(err),
		)
		m.gpuDisabled = true
		want = specFor(cfg, DeviceCPU)
		if m.handle != nil && want == m.spec {
			return m.handle, m.spec, nil
		}
		handle, err = m.engine.Load(ctx, want)
		if err != nil {
			return nil, ModelSpec{}, fmt.Errorf("%w: load %s on %s: %v", ErrModelUnavailable, want.Model, want.Device, err)
		}
	}

	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			m.logger.Warn("failed to release previous model", slogError(err))
		}
	}
	m.handle = handle
	m.spec = want
	m.logger.Info("speech model loaded",
		slog.String("model", want.Model),
		slog.String("device", want.Device),
		slog.String("precision", want.Precision),
	)
	return handle, want, nil
}

// SetEngine replaces the engine, releasing the loaded model and any cached
// device decision. The next Ensure loads from the new engine.
func (m *ModelManager) SetEngine(engine Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			m.logger.Warn("failed to release previous model", slogError(err))
		}
	}
	m.engine = engine
	m.handle = nil
	m.spec = ModelSpec{}
	m.gpuDisabled = false
	m.gpuChecked = false
	m.gpuPresent = false
}

// Current reports the loaded model, if any.
func (m *ModelManager) Current() (ModelSpec, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spec, m.handle != nil
}

func (m *ModelManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return nil
	}
	err := m.handle.Close()
	m.handle = nil
	m.spec = ModelSpec{}
	return err
}

func (m *ModelManager) resolveDevice(ctx context.Context, cfg config.STTConfig) string {
	if m.gpuDisabled {
		return DeviceCPU
	}
	switch cfg.Device {
	case DeviceCPU, DeviceCUDA:
		return cfg.Device
	}
	if !m.gpuChecked {
		m.gpuPresent = m.engine.HasGPU(ctx)
		m.gpuChecked = true
	}
	if m.gpuPresent {
		return DeviceCUDA
	}
	return DeviceCPU
}

func specFor(cfg config.STTConfig, device string) ModelSpec {
	if device == DeviceCUDA {
		return ModelSpec{Model: cfg.ModelGPU, Device: DeviceCUDA, Precision: cfg.ComputeTypeGPU}
	}
	return ModelSpec{Model: cfg.ModelCPU, Device: DeviceCPU, Precision: cfg.ComputeTypeCPU}
}
