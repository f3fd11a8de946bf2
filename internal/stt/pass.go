package stt

import (
	"context"
	"math"
	"strings"
)

const (
	defaultAvgLogprob   = -2.0
	defaultNoSpeechProb = 0.35
)

// DecodePass is the scored outcome of one engine invocation.
type DecodePass struct {
	Text         string
	AvgLogprob   float64
	NoSpeechProb float64
	Confidence   float64
}

// NewDecodePass aggregates segments into a pass. Probabilities are averaged
// over the segments that report them; defaults apply when none do.
func NewDecodePass(segments []Segment) DecodePass {
	texts := make([]string, 0, len(segments))
	var logprobs, noSpeech []float64
	for _, seg := range segments {
		texts = append(texts, strings.TrimSpace(seg.Text))
		if seg.AvgLogprob != nil {
			logprobs = append(logprobs, *seg.AvgLogprob)
		}
		if seg.NoSpeechProb != nil {
			noSpeech = append(noSpeech, *seg.NoSpeechProb)
		}
	}
	pass := DecodePass{
		Text:         strings.TrimSpace(strings.Join(texts, " ")),
		AvgLogprob:   meanOr(logprobs, defaultAvgLogprob),
		NoSpeechProb: meanOr(noSpeech, defaultNoSpeechProb),
	}
	pass.Confidence = Confidence(pass.AvgLogprob, pass.NoSpeechProb)
	return pass
}

// emptyPass stands in for a pass whose decode failed.
func emptyPass() DecodePass {
	return NewDecodePass(nil)
}

// Confidence maps an average log-probability and a no-speech probability to
// [0,1].
func Confidence(avgLogprob, noSpeechProb float64) float64 {
	lp := math.Exp(math.Min(0, avgLogprob))
	speech := 1 - clamp01(noSpeechProb)
	return clamp01(0.6*lp + 0.4*speech)
}

// RunPass performs a single decode with the given request.
func RunPass(ctx context.Context, handle Handle, req DecodeRequest) (DecodePass, error) {
	segments, err := handle.Decode(ctx, req)
	if err != nil {
		return DecodePass{}, err
	}
	return NewDecodePass(segments), nil
}

func meanOr(values []float64, fallback float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
