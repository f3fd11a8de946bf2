package stt

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MetricsLine is one JSONL record per completed transcription.
type MetricsLine struct {
	TS               int64   `json:"ts"`
	DurationAudioSec float64 `json:"duration_audio_sec"`
	LatencySec       float64 `json:"latency_sec"`
	Device           string  `json:"device"`
	Model            string  `json:"model"`
	AvgLogprob       float64 `json:"avg_logprob"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	Confidence       float64 `json:"confidence"`
	Accepted         bool    `json:"accepted"`
}

func newMetricsLine(r Result, at time.Time) MetricsLine {
	return MetricsLine{
		TS:               at.Unix(),
		DurationAudioSec: round(r.DurationAudioSec, 3),
		LatencySec:       round(r.LatencySec, 3),
		Device:           r.Device,
		Model:            r.Model,
		AvgLogprob:       round(r.AvgLogprob, 4),
		NoSpeechProb:     round(r.NoSpeechProb, 4),
		Confidence:       round(r.Confidence, 4),
		Accepted:         r.Accepted,
	}
}

// MetricsSink receives one line per transcription.
type MetricsSink interface {
	Append(path string, line MetricsLine) error
}

// JSONLSink appends lines to a file, creating parent directories on demand.
type JSONLSink struct {
	mu sync.Mutex
}

func (s *JSONLSink) Append(path string, line MetricsLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode metrics line: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write metrics line: %w", err)
	}
	return f.Close()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
