package stt

import (
	"context"
	"errors"
	"math"
	"testing"
)

// logprob yielding confidence 0.20 when no-speech is 1.
var lowLogprob = math.Log(1.0 / 3)

func firstRequest() DecodeRequest {
	return DecodeRequest{
		AudioPath: "clip.wav",
		Language:  "tr",
		Options:   DecodeOptions{BeamSize: 3, BestOf: 3, Temperature: []float64{0, 0.2}, VADFilter: true},
		VAD:       DefaultVADParameters,
	}
}

func TestControllerRetriesLowConfidence(t *testing.T) {
	h := &fakeHandle{results: [][]Segment{
		{seg("deployment planini yarin gozden gecirecegiz", lowLogprob, 1.0)},
		{seg("deployment planini yarin gozden gecirecegiz", -0.1, 0.05)},
	}}
	c := NewController(newLogger())
	out := c.Decode(context.Background(), h, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: true})

	if h.calls() != 2 {
		t.Fatalf("expected two engine invocations, got %d", h.calls())
	}
	if math.Abs(NewDecodePass(h.results[0]).Confidence-0.20) > 1e-9 {
		t.Fatalf("first pass confidence should be 0.20")
	}
	if !out.Retried || !out.RetryKept || out.Attempts != 2 {
		t.Fatalf("expected retry to be kept: %+v", out)
	}
	retry := h.requests[1].Options
	if retry.BeamSize != 5 || retry.BestOf != 5 || len(retry.Temperature) != 3 || !retry.VADFilter {
		t.Fatalf("unexpected retry options: %+v", retry)
	}
	if h.requests[1].Language != "tr" || h.requests[1].AudioPath != "clip.wav" {
		t.Fatalf("retry must reuse audio and language: %+v", h.requests[1])
	}
}

func TestControllerKeepsBetterFirstPass(t *testing.T) {
	h := &fakeHandle{results: [][]Segment{
		{seg("deployment planini yarin gozden gecirecegiz", lowLogprob, 1.0)},
		{seg("bu ve şu bir iş", lowLogprob, 1.0)},
	}}
	c := NewController(newLogger())
	out := c.Decode(context.Background(), h, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: true})

	if h.calls() != 2 {
		t.Fatalf("expected two engine invocations, got %d", h.calls())
	}
	if out.RetryKept {
		t.Fatalf("fragmented retry must not replace the first pass")
	}
	if out.Pass.Text != "deployment planini yarin gozden gecirecegiz" {
		t.Fatalf("unexpected text %q", out.Pass.Text)
	}
}

func TestControllerRetryWinsTies(t *testing.T) {
	same := []Segment{seg("deployment planini yarin gozden gecirecegiz", lowLogprob, 1.0)}
	h := &fakeHandle{results: [][]Segment{same, same}}
	c := NewController(newLogger())
	out := c.Decode(context.Background(), h, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: true})
	if !out.RetryKept {
		t.Fatalf("equal scores must keep the retry")
	}
}

func TestControllerSkipsRetry(t *testing.T) {
	good := []Segment{seg("deployment planini yarin gozden gecirecegiz", -0.1, 0.05)}
	h := &fakeHandle{results: [][]Segment{good}}
	c := NewController(newLogger())
	out := c.Decode(context.Background(), h, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: true})
	if h.calls() != 1 || out.Retried {
		t.Fatalf("confident clean pass must not retry: calls=%d", h.calls())
	}

	low := &fakeHandle{results: [][]Segment{{seg("kısa", lowLogprob, 1.0)}}}
	out = c.Decode(context.Background(), low, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: false})
	if low.calls() != 1 || out.Retried {
		t.Fatalf("disabled retry must run a single pass: calls=%d", low.calls())
	}
}

func TestControllerDecodeErrorYieldsEmptyPass(t *testing.T) {
	h := &fakeHandle{
		errs:    []error{errors.New("engine crashed")},
		results: [][]Segment{nil, {seg("merhaba", -3, 0.9)}},
	}
	c := NewController(newLogger())
	out := c.Decode(context.Background(), h, firstRequest(), Policy{MinConfidence: 0.35, RetryEnabled: true})
	if h.calls() != 2 {
		t.Fatalf("failed first pass must trigger a retry, got %d calls", h.calls())
	}
	if out.Pass.Text != "merhaba" || !out.RetryKept {
		t.Fatalf("retry with text must replace an empty first pass: %+v", out)
	}
}
