package recorder

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures mono 16-bit audio from the default input device,
// or from the named device when one is configured and present.
type PortAudioSource struct {
	sampleRate float64
	frames     int
	deviceName string

	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
}

func NewPortAudioSource(sampleRate, frames int, deviceName string) *PortAudioSource {
	return &PortAudioSource{
		sampleRate: float64(sampleRate),
		frames:     frames,
		deviceName: deviceName,
	}
}

func (s *PortAudioSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return fmt.Errorf("audio source already open")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	s.buffer = make([]int16, s.frames)
	stream, err := s.openStream()
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start audio stream: %w", err)
	}
	s.stream = stream
	return nil
}

func (s *PortAudioSource) openStream() (*portaudio.Stream, error) {
	if s.deviceName != "" && s.deviceName != "default" {
		if device, err := findInputDevice(s.deviceName); err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: 1,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      s.sampleRate,
				FramesPerBuffer: s.frames,
			}
			return portaudio.OpenStream(params, s.buffer)
		}
	}
	return portaudio.OpenDefaultStream(1, 0, s.sampleRate, s.frames, s.buffer)
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", name)
}

// Read blocks until frames samples are captured. The stream buffer size is
// fixed at Open, so frames must match it. Overflow is reported as
// ErrOverflow together with the captured data.
func (s *PortAudioSource) Read(frames int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil, ErrSourceClosed
	}
	if frames != len(s.buffer) {
		return nil, fmt.Errorf("read of %d frames from a %d frame stream", frames, len(s.buffer))
	}
	err := s.stream.Read()
	if err != nil && err != portaudio.InputOverflowed {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	out := make([]byte, len(s.buffer)*2)
	for i, v := range s.buffer {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	if err != nil {
		return out, ErrOverflow
	}
	return out, nil
}

func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	s.stream = nil
	termErr := portaudio.Terminate()
	switch {
	case stopErr != nil:
		return fmt.Errorf("stop audio stream: %w", stopErr)
	case closeErr != nil:
		return fmt.Errorf("close audio stream: %w", closeErr)
	case termErr != nil:
		return fmt.Errorf("terminate portaudio: %w", termErr)
	}
	return nil
}
