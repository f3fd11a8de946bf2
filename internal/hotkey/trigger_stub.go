//go:build !hotkey

package hotkey

import (
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// Trigger is unavailable in builds without the hotkey tag.
type Trigger struct{}

// New validates the combo and reports ErrUnsupported.
func New(cfg config.HotkeyConfig, toggle func(), logger *slog.Logger) (*Trigger, error) {
	if _, err := ParseCombo(cfg.Combo); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func (*Trigger) Start() error { return ErrUnsupported }

func (*Trigger) Close() {}
