package paste

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Paster hands finished text to the focused application.
type Paster interface {
	Paste(ctx context.Context, text string, cfg config.PasteConfig) error
}

// enterDelay separates the paste from the optional Enter press.
const enterDelay = 80 * time.Millisecond

// ClipboardPaster copies text to the clipboard and presses Ctrl+V.
type ClipboardPaster struct {
	once   sync.Once
	kb     keybd_event.KeyBonding
	kbErr  error
	mu     sync.Mutex
	writer func(string) error
}

func NewClipboardPaster() *ClipboardPaster {
	return &ClipboardPaster{writer: clipboard.WriteAll}
}

func (p *ClipboardPaster) Paste(ctx context.Context, text string, cfg config.PasteConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writer(text); err != nil {
		return fmt.Errorf("clipboard error: %w", err)
	}
	if err := sleep(ctx, time.Duration(cfg.DelayMS)*time.Millisecond); err != nil {
		return err
	}

	p.once.Do(func() {
		p.kb, p.kbErr = keybd_event.NewKeyBonding()
	})
	if p.kbErr != nil {
		return fmt.Errorf("keyboard unavailable: %w", p.kbErr)
	}

	p.kb.Clear()
	p.kb.HasCTRL(true)
	p.kb.SetKeys(keybd_event.VK_V)
	if err := p.kb.Launching(); err != nil {
		return fmt.Errorf("send ctrl+v: %w", err)
	}
	p.kb.HasCTRL(false)

	if cfg.AutoEnter {
		if err := sleep(ctx, enterDelay); err != nil {
			return err
		}
		p.kb.Clear()
		p.kb.SetKeys(keybd_event.VK_ENTER)
		if err := p.kb.Launching(); err != nil {
			return fmt.Errorf("send enter: %w", err)
		}
	}
	return nil
}

// Noop discards text. Used when no desktop session is available.
type Noop struct{}

func (Noop) Paste(context.Context, string, config.PasteConfig) error { return nil }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
