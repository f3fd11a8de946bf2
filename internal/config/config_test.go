package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recording.SampleRate != 16000 || cfg.Recording.ChunkSize != 1024 {
		t.Fatalf("unexpected recording defaults: %+v", cfg.Recording)
	}
	if cfg.STT.QualityProfile != "balanced" {
		t.Fatalf("expected balanced profile, got %q", cfg.STT.QualityProfile)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Engine != "mock" {
		t.Fatalf("expected default engine, got %q", cfg.STT.Engine)
	}
}

func TestLoadFileNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	doc := `
stt:
  primary_language: tr-TR
  quality_profile: " Quality "
  term_hints: ["  Proje  ", "", "API   Gateway"]
recording:
  silence_duration: 2.5
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.PrimaryLanguage != "tr" {
		t.Fatalf("expected coerced language, got %q", cfg.STT.PrimaryLanguage)
	}
	if cfg.STT.QualityProfile != "quality" {
		t.Fatalf("expected quality profile, got %q", cfg.STT.QualityProfile)
	}
	if strings.Join(cfg.STT.TermHints, "|") != "proje|api gateway" {
		t.Fatalf("unexpected hints %v", cfg.STT.TermHints)
	}
	if cfg.Recording.SilenceDuration != 2.5 || cfg.Recording.MaxRecordSeconds != 60 {
		t.Fatalf("unexpected recording config %+v", cfg.Recording)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_DICTATE_STT_DEVICE", "cpu")
	t.Setenv("LOQA_DICTATE_STT_TERM_HINTS", "Kubernetes, helm")
	t.Setenv("LOQA_DICTATE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_DICTATE_RECORDING_SILENCE_THRESHOLD", "650")
	t.Setenv("LOQA_DICTATE_AUDIO_NOISE_SUPPRESSION", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Device != "cpu" {
		t.Fatalf("expected device override, got %q", cfg.STT.Device)
	}
	if len(cfg.STT.TermHints) != 2 || cfg.STT.TermHints[0] != "kubernetes" {
		t.Fatalf("unexpected hints %v", cfg.STT.TermHints)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Recording.SilenceThreshold != 650 {
		t.Fatalf("expected threshold override, got %v", cfg.Recording.SilenceThreshold)
	}
	if !cfg.Audio.NoiseSuppression {
		t.Fatal("expected noise suppression override")
	}
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	t.Setenv("LOQA_DICTATE_STT_ENGINE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSanitizeHintsLimit(t *testing.T) {
	var hints []string
	for i := 0; i < 50; i++ {
		hints = append(hints, "Term")
	}
	if got := SanitizeHints(hints); len(got) != MaxTermHints {
		t.Fatalf("expected %d hints, got %d", MaxTermHints, len(got))
	}
}

func TestCoerceLanguage(t *testing.T) {
	cases := map[string]string{"tr": "tr", "tr-TR": "tr", "EN": "en", "": "tr"}
	for in, want := range cases {
		if got := CoerceLanguage(in); got != want {
			t.Fatalf("CoerceLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStoreUpdateMergesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	store := NewStore(path, Default())

	updated, err := store.Update(map[string]any{
		"stt":   map[string]any{"model_cpu": "medium", "min_confidence_for_accept": 0.5},
		"paste": map[string]any{"auto_enter": true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.STT.ModelCPU != "medium" || updated.STT.MinConfidenceForAccept != 0.5 {
		t.Fatalf("patch not applied: %+v", updated.STT)
	}
	if updated.STT.Device != "auto" || updated.STT.ModelGPU != "large-v3" {
		t.Fatalf("sibling keys lost: %+v", updated.STT)
	}
	if !updated.Paste.AutoEnter || updated.Paste.DelayMS != 500 {
		t.Fatalf("unexpected paste config %+v", updated.Paste)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.STT.ModelCPU != "medium" {
		t.Fatalf("expected persisted model, got %q", reloaded.STT.ModelCPU)
	}
}

func TestStoreUpdateRejectsInvalidPatch(t *testing.T) {
	store := NewStore("", Default())
	_, err := store.Update(map[string]any{"stt": map[string]any{"device": "tpu"}})
	if !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
	if store.Get().STT.Device != "auto" {
		t.Fatal("failed update must not change the store")
	}
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := Default()
	if _, err := Merge(base, map[string]any{"stt": map[string]any{"term_hints": []any{"x"}}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(base.STT.TermHints) != 12 {
		t.Fatalf("base hints mutated: %v", base.STT.TermHints)
	}
}

func TestRedactedMasksCredentials(t *testing.T) {
	cfg := Default()
	cfg.STT.APIKey = "sk-live-123"
	cfg.Bus.Password = "hunter2"

	red := cfg.Redacted()
	if red.STT.APIKey != RedactedSecret || red.Bus.Password != RedactedSecret {
		t.Fatalf("credentials not masked: %+v %+v", red.STT, red.Bus)
	}
	if red.Bus.Token != "" {
		t.Fatalf("empty token must stay empty, got %q", red.Bus.Token)
	}
	if cfg.STT.APIKey != "sk-live-123" {
		t.Fatalf("redaction must not touch the original")
	}
}

func TestMergeKeepsRedactedSecrets(t *testing.T) {
	base := Default()
	base.STT.APIKey = "sk-live-123"
	base.Bus.Token = "tok"

	next, err := Merge(base, map[string]any{
		"stt": map[string]any{"api_key": RedactedSecret, "quality_profile": "fast"},
		"bus": map[string]any{"token": "new-token"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if next.STT.APIKey != "sk-live-123" {
		t.Fatalf("redaction marker must keep the stored key, got %q", next.STT.APIKey)
	}
	if next.Bus.Token != "new-token" {
		t.Fatalf("explicit token must be applied, got %q", next.Bus.Token)
	}
}
