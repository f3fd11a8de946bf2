//go:build !hotkey

package hotkey

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestNewWithoutBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := New(config.HotkeyConfig{Enabled: true, Combo: "ctrl+shift+space"}, func() {}, logger)
	if !errors.Is(err, ErrUnsupported) || tr != nil {
		t.Fatalf("expected ErrUnsupported, got %v %v", tr, err)
	}
	if _, err := New(config.HotkeyConfig{Combo: "alt+f13"}, func() {}, logger); err == nil || errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected combo error before backend check, got %v", err)
	}
}
