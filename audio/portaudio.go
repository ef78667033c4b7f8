package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures signed 16-bit interleaved samples from the
// default input device.
type PortAudioSource struct {
	stream      *portaudio.Stream
	audioBuffer []int16
	config      Config
}

var _ Source = (*PortAudioSource)(nil)

func NewPortAudioSource(config Config) *PortAudioSource {
	return &PortAudioSource{
		config:      config,
		audioBuffer: make([]int16, config.BlockLen()),
	}
}

func (a *PortAudioSource) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(
		a.config.Channels,
		0,
		float64(a.config.SampleRate),
		a.config.FramesPerBuffer,
		a.audioBuffer,
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	a.stream = stream
	return nil
}

// Read always delivers a full block; PortAudio blocking reads do not return
// partial buffers.
func (a *PortAudioSource) Read(block []int16) (int, error) {
	if a.stream == nil {
		return 0, errors.New("stream not opened")
	}
	if err := a.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return 0, fmt.Errorf("%w: %v", ErrOverrun, err)
		}
		return 0, err
	}
	return copy(block, a.audioBuffer), nil
}

// Rearm restarts the stream, discarding whatever the device had queued.
func (a *PortAudioSource) Rearm() error {
	if a.stream == nil {
		return errors.New("stream not opened")
	}
	// Stop fails on an already stopped stream, which is fine here.
	_ = a.stream.Stop()
	return a.stream.Start()
}

func (a *PortAudioSource) Close() error {
	if a.stream == nil {
		return nil
	}
	var err error
	if stopErr := a.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := a.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	a.stream = nil
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	return err
}
