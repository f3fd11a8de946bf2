package audio

import (
	"encoding/binary"
	"errors"
)

// FullScale is the reference amplitude for 16-bit dBFS.
const FullScale = 32768.0

var ErrUnaligned = errors.New("pcm payload not aligned")

// DecodePCM16 converts little-endian 16-bit PCM into samples.
func DecodePCM16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrUnaligned
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples, nil
}

// EncodePCM16 hard-clips at ±32767 and encodes little-endian.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clip16(s)))
	}
	return out
}

func clip16(v float32) int16 {
	switch {
	case v >= 32767:
		return 32767
	case v <= -32767:
		return -32767
	default:
		return int16(v)
	}
}

func toFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}
