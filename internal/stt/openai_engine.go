package stt

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

// openaiEngine talks to an OpenAI-compatible transcription endpoint. The
// server owns device placement, so every spec is loaded as-is.
type openaiEngine struct {
	client *openai.Client
}

func NewOpenAIEngine(cfg config.STTConfig) Engine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	return &openaiEngine{client: openai.NewClientWithConfig(clientCfg)}
}

func (e *openaiEngine) Load(ctx context.Context, spec ModelSpec) (Handle, error) {
	if spec.Model == "" {
		return nil, fmt.Errorf("model name is empty")
	}
	return &openaiHandle{client: e.client, model: spec.Model}, nil
}

func (e *openaiEngine) HasGPU(ctx context.Context) bool { return false }

type openaiHandle struct {
	client *openai.Client
	model  string
}

func (h *openaiHandle) Decode(ctx context.Context, req DecodeRequest) ([]Segment, error) {
	audioReq := openai.AudioRequest{
		Model:    h.model,
		FilePath: req.AudioPath,
		Prompt:   req.Prompt,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	// The API takes a single temperature; use the first rung of the ladder.
	if len(req.Options.Temperature) > 0 {
		audioReq.Temperature = float32(req.Options.Temperature[0])
	}
	resp, err := h.client.CreateTranscription(ctx, audioReq)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	if len(resp.Segments) == 0 {
		if resp.Text == "" {
			return nil, nil
		}
		return []Segment{{Text: resp.Text}}, nil
	}
	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		logprob, noSpeech := seg.AvgLogprob, seg.NoSpeechProb
		segments = append(segments, Segment{
			Text:         seg.Text,
			AvgLogprob:   &logprob,
			NoSpeechProb: &noSpeech,
		})
	}
	return segments, nil
}

func (h *openaiHandle) Close() error { return nil }
