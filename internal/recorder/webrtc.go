package recorder

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCGate confirms speech with the WebRTC voice activity detector. A
// chunk counts as speech when any 10ms frame in it is voiced.
type WebRTCGate struct {
	vad        *webrtcvad.VAD
	sampleRate int
}

func NewWebRTCGate(sampleRate, mode int) (*WebRTCGate, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad does not support %d Hz", sampleRate)
	}
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("create webrtc vad: %w", err)
	}
	if err := vad.SetMode(min(max(mode, 0), 3)); err != nil {
		return nil, fmt.Errorf("set webrtc vad mode: %w", err)
	}
	return &WebRTCGate{vad: vad, sampleRate: sampleRate}, nil
}

func (g *WebRTCGate) IsSpeech(samples []int16) (bool, error) {
	frame := g.sampleRate / 100
	if len(samples) < frame {
		padded := make([]int16, frame)
		copy(padded, samples)
		samples = padded
	}
	buf := make([]byte, frame*2)
	for i := 0; i+frame <= len(samples); i += frame {
		for j, v := range samples[i : i+frame] {
			binary.LittleEndian.PutUint16(buf[j*2:], uint16(v))
		}
		active, err := g.vad.Process(g.sampleRate, buf)
		if err != nil {
			return false, fmt.Errorf("webrtc vad: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}
