package hotkey

import (
	"fmt"
	"strings"
)

// Combo is a parsed hotkey: zero or more modifiers and exactly one key.
type Combo struct {
	Modifiers []string
	Key       string
}

// ParseCombo parses strings such as "ctrl+shift+space". Modifiers are ctrl
// and shift; the key is space, a-z or 0-9.
func ParseCombo(combo string) (Combo, error) {
	var c Combo
	for _, part := range strings.Split(strings.ToLower(combo), "+") {
		part = strings.TrimSpace(part)
		if part == "ctrl" || part == "shift" {
			c.Modifiers = append(c.Modifiers, part)
			continue
		}
		if !isKey(part) {
			return Combo{}, fmt.Errorf("unsupported hotkey part %q in %q", part, combo)
		}
		if c.Key != "" {
			return Combo{}, fmt.Errorf("hotkey %q has more than one key", combo)
		}
		c.Key = part
	}
	if c.Key == "" {
		return Combo{}, fmt.Errorf("hotkey %q has no key", combo)
	}
	return c, nil
}

func isKey(s string) bool {
	if s == "space" {
		return true
	}
	return len(s) == 1 && (s[0] >= 'a' && s[0] <= 'z' || s[0] >= '0' && s[0] <= '9')
}
