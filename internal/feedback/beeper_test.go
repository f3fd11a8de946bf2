package feedback

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestBeeperPassesToneAndSwallowsErrors(t *testing.T) {
	b := NewBeeper(slog.New(slog.NewTextHandler(io.Discard, nil)))
	var gotFreq float64
	var gotMS int
	b.beep = func(freq float64, ms int) error {
		gotFreq, gotMS = freq, ms
		return errors.New("no speaker")
	}

	b.Play(ToneError)
	if gotFreq != 420 || gotMS != 260 {
		t.Fatalf("unexpected tone %v/%d", gotFreq, gotMS)
	}
}
