package stt

import (
	"github.com/loqalabs/loqa-dictate/internal/config"
)

// DecodeOptions are the decoding parameters of one pass.
type DecodeOptions struct {
	BeamSize    int       `json:"beam_size"`
	BestOf      int       `json:"best_of"`
	Temperature []float64 `json:"temperature"`
	VADFilter   bool      `json:"vad_filter"`
}

var qualityProfiles = map[string]DecodeOptions{
	"fast":     {BeamSize: 1, BestOf: 1, Temperature: []float64{0.0}, VADFilter: true},
	"balanced": {BeamSize: 3, BestOf: 3, Temperature: []float64{0.0, 0.2}, VADFilter: true},
	"quality":  {BeamSize: 5, BestOf: 5, Temperature: []float64{0.0, 0.2, 0.4}, VADFilter: true},
}

// OptionsFromConfig derives first-pass options from the quality profile.
// Unknown profiles fall back to balanced. With legacy decode values the
// beam/best_of/vad settings come verbatim from cfg.
func OptionsFromConfig(cfg config.STTConfig) DecodeOptions {
	profile, ok := qualityProfiles[cfg.QualityProfile]
	if !ok {
		profile = qualityProfiles["balanced"]
	}
	opts := DecodeOptions{
		BeamSize:    profile.BeamSize,
		BestOf:      profile.BestOf,
		Temperature: append([]float64(nil), profile.Temperature...),
		VADFilter:   profile.VADFilter,
	}
	if cfg.UseLegacyDecodeValues {
		opts.BeamSize = cfg.BeamSize
		opts.BestOf = cfg.BestOf
		opts.VADFilter = cfg.VADFilter
	}
	return opts
}

// RetryOptions returns a strictly higher-effort variant of first.
func RetryOptions(first DecodeOptions) DecodeOptions {
	return DecodeOptions{
		BeamSize:    max(5, first.BeamSize),
		BestOf:      max(5, first.BestOf),
		Temperature: []float64{0.0, 0.2, 0.4},
		VADFilter:   true,
	}
}
