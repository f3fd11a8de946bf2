package config

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPatch = errors.New("invalid config patch")

// RedactedSecret replaces credentials in configs handed to clients. A patch
// carrying it leaves the stored credential unchanged.
const RedactedSecret = "***"

// Store owns the active configuration and persists updates to disk.
type Store struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func NewStore(path string, cfg Config) *Store {
	return &Store{path: path, cfg: cfg}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update deep-merges patch over the current config, validates and persists
// the result, and swaps it in. A failed update leaves the store untouched.
func (s *Store) Update(patch map[string]any) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Merge(s.cfg, patch)
	if err != nil {
		return s.cfg, err
	}
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			return s.cfg, err
		}
	}
	s.cfg = next
	return next, nil
}

// Merge returns base with patch deep-merged on top. Nested objects merge
// key by key; any other value replaces the existing one.
func Merge(base Config, patch map[string]any) (Config, error) {
	data, err := yaml.Marshal(base)
	if err != nil {
		return base, fmt.Errorf("encode config: %w", err)
	}
	current := map[string]any{}
	if err := yaml.Unmarshal(data, &current); err != nil {
		return base, fmt.Errorf("decode config: %w", err)
	}

	merged, err := yaml.Marshal(deepMerge(current, patch))
	if err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	next := Default()
	if err := yaml.Unmarshal(merged, &next); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	keepSecrets(&next, base)
	normalize(&next)
	if err := validate(next); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return next, nil
}

func deepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		nested, ok := v.(map[string]any)
		existing, isMap := out[k].(map[string]any)
		if ok && isMap {
			out[k] = deepMerge(existing, nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Redacted returns a copy of c with credentials masked.
func (c Config) Redacted() Config {
	for _, secret := range []*string{&c.STT.APIKey, &c.Bus.Password, &c.Bus.Token} {
		if *secret != "" {
			*secret = RedactedSecret
		}
	}
	return c
}

func keepSecrets(next *Config, base Config) {
	restore := func(dst *string, stored string) {
		if *dst == RedactedSecret {
			*dst = stored
		}
	}
	restore(&next.STT.APIKey, base.STT.APIKey)
	restore(&next.Bus.Password, base.Bus.Password)
	restore(&next.Bus.Token, base.Bus.Token)
}
