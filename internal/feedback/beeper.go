package feedback

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
)

// Tone is a single audible cue.
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

var (
	ToneReady         = Tone{Frequency: 850, Duration: 120 * time.Millisecond}
	ToneAccepted      = Tone{Frequency: 1200, Duration: 100 * time.Millisecond}
	ToneLowConfidence = Tone{Frequency: 950, Duration: 100 * time.Millisecond}
	ToneRejected      = Tone{Frequency: 420, Duration: 220 * time.Millisecond}
	ToneTooShort      = Tone{Frequency: 420, Duration: 140 * time.Millisecond}
	ToneError         = Tone{Frequency: 420, Duration: 260 * time.Millisecond}
)

type Player interface {
	Play(Tone)
}

// Beeper plays tones on the system speaker. Failures are logged and
// otherwise ignored.
type Beeper struct {
	logger *slog.Logger
	beep   func(freq float64, durationMS int) error
}

func NewBeeper(logger *slog.Logger) *Beeper {
	return &Beeper{
		logger: logger.With(slog.String("component", "feedback")),
		beep:   beeep.Beep,
	}
}

func (b *Beeper) Play(t Tone) {
	if err := b.beep(t.Frequency, int(t.Duration/time.Millisecond)); err != nil {
		b.logger.Debug("beep failed", slog.String("error", err.Error()))
	}
}

// Silent discards every tone.
type Silent struct{}

func (Silent) Play(Tone) {}
