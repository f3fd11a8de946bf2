package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const MaxTermHints = 32

type Config struct {
	RuntimeName string          `yaml:"runtime_name" json:"runtime_name"`
	Environment string          `yaml:"environment" json:"environment"`
	HTTP        HTTPConfig      `yaml:"http" json:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Bus         BusConfig       `yaml:"bus" json:"bus"`
	History     HistoryConfig   `yaml:"history" json:"history"`
	Recording   RecordingConfig `yaml:"recording" json:"recording"`
	Audio       AudioConfig     `yaml:"audio" json:"audio"`
	STT         STTConfig       `yaml:"stt" json:"stt"`
	Paste       PasteConfig     `yaml:"paste" json:"paste"`
	Feedback    FeedbackConfig  `yaml:"feedback" json:"feedback"`
	Hotkey      HotkeyConfig    `yaml:"hotkey" json:"hotkey"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Bind    string `yaml:"bind" json:"bind"`
	Port    int    `yaml:"port" json:"port"`
}

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" json:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout" json:"trace_stdout"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath    string `yaml:"metrics_path" json:"metrics_path"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Embedded       bool     `yaml:"embedded" json:"embedded"`
	Port           int      `yaml:"port" json:"port"`
	StoreDir       string   `yaml:"store_dir" json:"store_dir"`
	Servers        []string `yaml:"servers" json:"servers"`
	Username       string   `yaml:"username" json:"username"`
	Password       string   `yaml:"password" json:"password"`
	Token          string   `yaml:"token" json:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" json:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" json:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix" json:"subject_prefix"`
	Stream         string   `yaml:"stream" json:"stream"` // empty disables the JetStream event stream
	StreamMaxAgeH  int      `yaml:"stream_max_age_hours" json:"stream_max_age_hours"`
}

type HistoryConfig struct {
	Path          string `yaml:"path" json:"path"`
	RetentionMode string `yaml:"retention_mode" json:"retention_mode"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
	MaxCycles     int    `yaml:"max_cycles" json:"max_cycles"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" json:"vacuum_on_start"`
}

type RecordingConfig struct {
	SampleRate       int     `yaml:"sample_rate" json:"sample_rate"`
	Channels         int     `yaml:"channels" json:"channels"`
	ChunkSize        int     `yaml:"chunk_size" json:"chunk_size"`
	DeviceName       string  `yaml:"device_name" json:"device_name"`
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`
	SilenceDuration  float64 `yaml:"silence_duration" json:"silence_duration"`
	MaxRecordSeconds float64 `yaml:"max_record_seconds" json:"max_record_seconds"`
	MinRecordSeconds float64 `yaml:"min_record_seconds" json:"min_record_seconds"`
}

type AudioConfig struct {
	NoiseSuppression          bool    `yaml:"noise_suppression" json:"noise_suppression"`
	HighpassHz                float64 `yaml:"highpass_hz" json:"highpass_hz"`
	NormalizeTargetDBFS       float64 `yaml:"normalize_target_dbfs" json:"normalize_target_dbfs"`
	SilenceCalibrationSeconds float64 `yaml:"silence_calibration_seconds" json:"silence_calibration_seconds"`
	SilenceAdaptiveMultiplier float64 `yaml:"silence_adaptive_multiplier" json:"silence_adaptive_multiplier"`
	MinSilenceThreshold       float64 `yaml:"min_silence_threshold" json:"min_silence_threshold"`
	VADMode                   int     `yaml:"vad_mode" json:"vad_mode"` // -1 disables the WebRTC gate
}

type STTConfig struct {
	Engine                  string   `yaml:"engine" json:"engine"` // mock, exec, openai
	Command                 string   `yaml:"command" json:"command"`
	Endpoint                string   `yaml:"endpoint" json:"endpoint"`
	APIKey                  string   `yaml:"api_key" json:"api_key"`
	TimeoutSeconds          int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	ModelCPU                string   `yaml:"model_cpu" json:"model_cpu"`
	ModelGPU                string   `yaml:"model_gpu" json:"model_gpu"`
	Device                  string   `yaml:"device" json:"device"`
	ComputeTypeCPU          string   `yaml:"compute_type_cpu" json:"compute_type_cpu"`
	ComputeTypeGPU          string   `yaml:"compute_type_gpu" json:"compute_type_gpu"`
	LanguageMode            string   `yaml:"language_mode" json:"language_mode"`
	PrimaryLanguage         string   `yaml:"primary_language" json:"primary_language"`
	QualityProfile          string   `yaml:"quality_profile" json:"quality_profile"`
	BeamSize                int      `yaml:"beam_size" json:"beam_size"`
	BestOf                  int      `yaml:"best_of" json:"best_of"`
	VADFilter               bool     `yaml:"vad_filter" json:"vad_filter"`
	MinConfidenceForAccept  float64  `yaml:"min_confidence_for_accept" json:"min_confidence_for_accept"`
	AllowLowConfidencePaste bool     `yaml:"allow_low_confidence_paste" json:"allow_low_confidence_paste"`
	PasteMinConfidenceFloor float64  `yaml:"paste_min_confidence_floor" json:"paste_min_confidence_floor"`
	RetryOnLowConfidence    bool     `yaml:"retry_on_low_confidence" json:"retry_on_low_confidence"`
	UseLegacyDecodeValues   bool     `yaml:"use_legacy_decode_values" json:"use_legacy_decode_values"`
	TermHints               []string `yaml:"term_hints" json:"term_hints"`
}

type PasteConfig struct {
	Enabled   bool `yaml:"enabled" json:"enabled"`
	DelayMS   int  `yaml:"delay_ms" json:"delay_ms"`
	AutoEnter bool `yaml:"auto_enter" json:"auto_enter"`
}

type FeedbackConfig struct {
	BeepEnabled bool `yaml:"beep_enabled" json:"beep_enabled"`
}

type HotkeyConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Combo      string `yaml:"combo" json:"combo"`
	DebounceMS int    `yaml:"debounce_ms" json:"debounce_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-dictate",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: false,
			Bind:    "127.0.0.1",
			Port:    9464,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPInsecure:   true,
			MetricsEnabled: true,
			MetricsPath:    "logs/transcribe_metrics.jsonl",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "dictation",
			Stream:         "DICTATION",
			StreamMaxAgeH:  24,
		},
		History: HistoryConfig{
			Path:          "./data/dictation-history.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxCycles:     5000,
		},
		Recording: RecordingConfig{
			SampleRate:       16000,
			Channels:         1,
			ChunkSize:        1024,
			SilenceThreshold: 500,
			SilenceDuration:  1.2,
			MaxRecordSeconds: 60,
			MinRecordSeconds: 0.12,
		},
		Audio: AudioConfig{
			NoiseSuppression:          false,
			HighpassHz:                80,
			NormalizeTargetDBFS:       -20,
			SilenceCalibrationSeconds: 0.25,
			SilenceAdaptiveMultiplier: 2.5,
			MinSilenceThreshold:       200,
			VADMode:                   -1,
		},
		STT: STTConfig{
			Engine:                  "mock",
			TimeoutSeconds:          120,
			ModelCPU:                "small",
			ModelGPU:                "large-v3",
			Device:                  "auto",
			ComputeTypeCPU:          "int8",
			ComputeTypeGPU:          "float16",
			LanguageMode:            "tr_en_mixed",
			PrimaryLanguage:         "tr",
			QualityProfile:          "balanced",
			BeamSize:                3,
			BestOf:                  3,
			VADFilter:               true,
			MinConfidenceForAccept:  0.35,
			AllowLowConfidencePaste: true,
			PasteMinConfidenceFloor: 0.25,
			RetryOnLowConfidence:    true,
			TermHints: []string{
				"proje", "projenin", "plani", "planini", "implementasyon", "entegrasyon",
				"api", "endpoint", "deployment", "microservice", "yapmamiz", "gerekiyor",
			},
		},
		Paste: PasteConfig{
			Enabled: true,
			DelayMS: 500,
		},
		Feedback: FeedbackConfig{
			BeepEnabled: true,
		},
		Hotkey: HotkeyConfig{
			Enabled:    false,
			Combo:      "ctrl+shift+space",
			DebounceMS: 400,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error: the defaults are used and the file is written on the first
// update.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path, replacing the previous file atomically.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_DICTATE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_DICTATE_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_DICTATE_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_DICTATE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_DICTATE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_DICTATE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_DICTATE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_DICTATE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "LOQA_DICTATE_TELEMETRY_METRICS_ENABLED")
	overrideString(&cfg.Telemetry.MetricsPath, "LOQA_DICTATE_TELEMETRY_METRICS_PATH")
	overrideBool(&cfg.Bus.Enabled, "LOQA_DICTATE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_DICTATE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_DICTATE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_DICTATE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_DICTATE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_DICTATE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_DICTATE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_DICTATE_BUS_TLS_INSECURE")
	overrideString(&cfg.History.Path, "LOQA_DICTATE_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "LOQA_DICTATE_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "LOQA_DICTATE_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxCycles, "LOQA_DICTATE_HISTORY_MAX_CYCLES")
	overrideString(&cfg.Recording.DeviceName, "LOQA_DICTATE_RECORDING_DEVICE_NAME")
	overrideFloat(&cfg.Recording.SilenceThreshold, "LOQA_DICTATE_RECORDING_SILENCE_THRESHOLD")
	overrideFloat(&cfg.Recording.SilenceDuration, "LOQA_DICTATE_RECORDING_SILENCE_DURATION")
	overrideFloat(&cfg.Recording.MaxRecordSeconds, "LOQA_DICTATE_RECORDING_MAX_RECORD_SECONDS")
	overrideBool(&cfg.Audio.NoiseSuppression, "LOQA_DICTATE_AUDIO_NOISE_SUPPRESSION")
	overrideFloat(&cfg.Audio.HighpassHz, "LOQA_DICTATE_AUDIO_HIGHPASS_HZ")
	overrideFloat(&cfg.Audio.NormalizeTargetDBFS, "LOQA_DICTATE_AUDIO_NORMALIZE_TARGET_DBFS")
	overrideInt(&cfg.Audio.VADMode, "LOQA_DICTATE_AUDIO_VAD_MODE")
	overrideString(&cfg.STT.Engine, "LOQA_DICTATE_STT_ENGINE")
	overrideString(&cfg.STT.Command, "LOQA_DICTATE_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "LOQA_DICTATE_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_DICTATE_STT_API_KEY")
	overrideString(&cfg.STT.Device, "LOQA_DICTATE_STT_DEVICE")
	overrideString(&cfg.STT.ModelCPU, "LOQA_DICTATE_STT_MODEL_CPU")
	overrideString(&cfg.STT.ModelGPU, "LOQA_DICTATE_STT_MODEL_GPU")
	overrideString(&cfg.STT.LanguageMode, "LOQA_DICTATE_STT_LANGUAGE_MODE")
	overrideString(&cfg.STT.PrimaryLanguage, "LOQA_DICTATE_STT_PRIMARY_LANGUAGE")
	overrideString(&cfg.STT.QualityProfile, "LOQA_DICTATE_STT_QUALITY_PROFILE")
	overrideFloat(&cfg.STT.MinConfidenceForAccept, "LOQA_DICTATE_STT_MIN_CONFIDENCE_FOR_ACCEPT")
	overrideBool(&cfg.STT.RetryOnLowConfidence, "LOQA_DICTATE_STT_RETRY_ON_LOW_CONFIDENCE")
	overrideStringSlice(&cfg.STT.TermHints, "LOQA_DICTATE_STT_TERM_HINTS")
	overrideBool(&cfg.Paste.Enabled, "LOQA_DICTATE_PASTE_ENABLED")
	overrideBool(&cfg.Paste.AutoEnter, "LOQA_DICTATE_PASTE_AUTO_ENTER")
	overrideBool(&cfg.Feedback.BeepEnabled, "LOQA_DICTATE_FEEDBACK_BEEP_ENABLED")
	overrideBool(&cfg.Hotkey.Enabled, "LOQA_DICTATE_HOTKEY_ENABLED")
	overrideString(&cfg.Hotkey.Combo, "LOQA_DICTATE_HOTKEY_COMBO")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

var whitespace = regexp.MustCompile(`\s+`)

func normalize(cfg *Config) {
	cfg.STT.PrimaryLanguage = CoerceLanguage(cfg.STT.PrimaryLanguage)
	cfg.STT.TermHints = SanitizeHints(cfg.STT.TermHints)
	cfg.STT.QualityProfile = strings.ToLower(strings.TrimSpace(cfg.STT.QualityProfile))
}

// CoerceLanguage reduces a locale such as "tr-TR" to its lowercase language
// code. Empty input falls back to "tr".
func CoerceLanguage(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return "tr"
	}
	if i := strings.Index(language, "-"); i >= 0 {
		language = language[:i]
	}
	return strings.ToLower(language)
}

// SanitizeHints lowercases hints, collapses whitespace, drops empties and
// keeps at most MaxTermHints entries.
func SanitizeHints(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		cleaned := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), " ")
		if cleaned != "" {
			out = append(out, cleaned)
		}
		if len(out) == MaxTermHints {
			break
		}
	}
	return out
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionMode != "ephemeral" && cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Recording.SampleRate <= 0 {
		return errors.New("recording.sample_rate must be positive")
	}
	if cfg.Recording.Channels != 1 {
		return errors.New("recording.channels must be 1")
	}
	if cfg.Recording.ChunkSize <= 0 {
		return errors.New("recording.chunk_size must be positive")
	}
	if cfg.Recording.SilenceDuration < 0 || cfg.Recording.MaxRecordSeconds <= 0 {
		return errors.New("recording.silence_duration must be >= 0 and max_record_seconds positive")
	}
	if cfg.Audio.VADMode > 3 {
		return errors.New("audio.vad_mode must be -1 (off) or 0-3")
	}
	switch cfg.STT.Engine {
	case "mock", "exec", "openai":
	default:
		return errors.New("stt.engine must be one of mock|exec|openai")
	}
	if cfg.STT.Engine == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when engine=exec")
	}
	if cfg.STT.Engine == "openai" && cfg.STT.Endpoint == "" && cfg.STT.APIKey == "" {
		return errors.New("stt.endpoint or stt.api_key must be set when engine=openai")
	}
	switch cfg.STT.Device {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("stt.device must be one of auto|cpu|cuda")
	}
	if cfg.STT.MinConfidenceForAccept < 0 || cfg.STT.MinConfidenceForAccept > 1 {
		return errors.New("stt.min_confidence_for_accept must be within [0,1]")
	}
	if cfg.Hotkey.Enabled && cfg.Hotkey.Combo == "" {
		return errors.New("hotkey.combo must be set when hotkey is enabled")
	}
	return nil
}
