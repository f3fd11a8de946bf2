package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// execEngine drives an external recognizer process. The command is invoked
// with --detect-gpu, --check (model load) or --audio (decode) and must print
// JSON on stdout.
type execEngine struct {
	cmd []string
	mu  sync.Mutex
}

type execGPUReport struct {
	GPU bool `json:"gpu"`
}

type execSegment struct {
	Text         string   `json:"text"`
	AvgLogprob   *float64 `json:"avg_logprob"`
	NoSpeechProb *float64 `json:"no_speech_prob"`
}

type execResult struct {
	Segments []execSegment `json:"segments"`
}

func NewExecEngine(cfg config.STTConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) HasGPU(ctx context.Context) bool {
	out, err := e.run(ctx, "--detect-gpu")
	if err != nil {
		return false
	}
	var report execGPUReport
	if err := json.Unmarshal(out, &report); err != nil {
		return false
	}
	return report.GPU
}

func (e *execEngine) Load(ctx context.Context, spec ModelSpec) (Handle, error) {
	if _, err := e.run(ctx, append([]string{"--check"}, modelArgs(spec)...)...); err != nil {
		return nil, err
	}
	return &execHandle{engine: e, spec: spec}, nil
}

func (e *execEngine) run(ctx context.Context, extra ...string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append(append([]string{}, e.cmd[1:]...), extra...)
	command := exec.CommandContext(ctx, e.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type execHandle struct {
	engine *execEngine
	spec   ModelSpec
}

func (h *execHandle) Decode(ctx context.Context, req DecodeRequest) ([]Segment, error) {
	args := []string{"--audio", req.AudioPath}
	args = append(args, modelArgs(h.spec)...)
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}
	if req.Prompt != "" {
		args = append(args, "--prompt", req.Prompt)
	}
	args = append(args,
		"--beam-size", strconv.Itoa(req.Options.BeamSize),
		"--best-of", strconv.Itoa(req.Options.BestOf),
		"--temperature", joinFloats(req.Options.Temperature),
	)
	if req.Options.VADFilter {
		args = append(args,
			"--vad-filter",
			"--vad-min-silence-ms", strconv.Itoa(req.VAD.MinSilenceDurationMS),
			"--vad-speech-pad-ms", strconv.Itoa(req.VAD.SpeechPadMS),
		)
	}

	out, err := h.engine.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var resp execResult
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("decode stt response: %w", err)
	}
	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, Segment(seg))
	}
	return segments, nil
}

func (h *execHandle) Close() error { return nil }

func modelArgs(spec ModelSpec) []string {
	args := []string{"--model", spec.Model, "--device", spec.Device}
	if spec.Precision != "" {
		args = append(args, "--compute-type", spec.Precision)
	}
	return args
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
