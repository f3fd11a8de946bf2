//go:build hotkey

package hotkey

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/hotkey"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// The x/hotkey backend connects to the display server in its package init,
// so it is linked only into builds tagged hotkey.

var modifiers = map[string]hotkey.Modifier{
	"ctrl":  hotkey.ModCtrl,
	"shift": hotkey.ModShift,
}

var keys = map[string]hotkey.Key{
	"space": hotkey.KeySpace,
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD, "e": hotkey.KeyE,
	"f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH, "i": hotkey.KeyI, "j": hotkey.KeyJ,
	"k": hotkey.KeyK, "l": hotkey.KeyL, "m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO,
	"p": hotkey.KeyP, "q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX, "y": hotkey.KeyY,
	"z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,
}

func bind(c Combo) ([]hotkey.Modifier, hotkey.Key) {
	mods := make([]hotkey.Modifier, 0, len(c.Modifiers))
	for _, m := range c.Modifiers {
		mods = append(mods, modifiers[m])
	}
	return mods, keys[c.Key]
}

// Trigger toggles dictation from a global hotkey.
type Trigger struct {
	hk       *hotkey.Hotkey
	combo    string
	toggle   func()
	debounce *Debouncer
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func New(cfg config.HotkeyConfig, toggle func(), logger *slog.Logger) (*Trigger, error) {
	combo, err := ParseCombo(cfg.Combo)
	if err != nil {
		return nil, err
	}
	mods, key := bind(combo)
	return &Trigger{
		hk:       hotkey.New(mods, key),
		combo:    cfg.Combo,
		toggle:   toggle,
		debounce: NewDebouncer(time.Duration(cfg.DebounceMS) * time.Millisecond),
		logger:   logger.With(slog.String("component", "hotkey")),
	}, nil
}

func (t *Trigger) Start() error {
	if err := t.hk.Register(); err != nil {
		return fmt.Errorf("register hotkey %s: %w", t.combo, err)
	}
	t.logger.Info("hotkey registered", slog.String("combo", t.combo))
	keydown := t.hk.Keydown()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for range keydown {
			if !t.debounce.Allow() {
				continue
			}
			t.toggle()
		}
	}()
	return nil
}

// Close unregisters the hotkey, which closes the keydown channel.
func (t *Trigger) Close() {
	if err := t.hk.Unregister(); err != nil {
		t.logger.Warn("failed to unregister hotkey", slog.String("error", err.Error()))
	}
	t.wg.Wait()
}
