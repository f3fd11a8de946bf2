package paste

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestClipboardFailureStopsPaste(t *testing.T) {
	p := NewClipboardPaster()
	p.writer = func(string) error { return errors.New("no display") }

	err := p.Paste(context.Background(), "merhaba", config.PasteConfig{Enabled: true})
	if err == nil {
		t.Fatalf("expected clipboard error")
	}
}

func TestPasteDelayHonorsContext(t *testing.T) {
	p := NewClipboardPaster()
	var copied string
	p.writer = func(s string) error {
		copied = s
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Paste(ctx, "merhaba", config.PasteConfig{Enabled: true, DelayMS: 5000})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if copied != "merhaba" {
		t.Fatalf("text must reach the clipboard before the delay, got %q", copied)
	}
}

func TestSleepZero(t *testing.T) {
	start := time.Now()
	if err := sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("zero sleep should return immediately")
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).Paste(context.Background(), "x", config.PasteConfig{}); err != nil {
		t.Fatalf("noop paste failed: %v", err)
	}
}
