package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to interleaved stereo S16LE.
const mp3FrameBytes = 4

// pcmStream is decoded interleaved stereo S16LE that can be rewound.
type pcmStream interface {
	io.ReadSeeker
	SampleRate() int
}

// ReplaySource feeds the sensor from an MP3 file instead of a microphone.
// The file loops forever; the last block of each pass is usually short.
type ReplaySource struct {
	path    string
	config  Config
	file    io.Closer
	decoder pcmStream
	raw     []byte
	open    func(path string) (pcmStream, io.Closer, error)
}

var _ Source = (*ReplaySource)(nil)

func NewReplaySource(path string, config Config) *ReplaySource {
	return &ReplaySource{
		path:   path,
		config: config,
		raw:    make([]byte, config.FramesPerBuffer*mp3FrameBytes),
		open:   openMP3,
	}
}

func openMP3(path string) (pcmStream, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return dec, f, nil
}

func (r *ReplaySource) Open() error {
	if r.config.Channels != 1 && r.config.Channels != 2 {
		return fmt.Errorf("replay supports mono or stereo, got %d channels", r.config.Channels)
	}
	dec, f, err := r.open(r.path)
	if err != nil {
		return err
	}
	if dec.SampleRate() != r.config.SampleRate {
		f.Close()
		return fmt.Errorf("%s is %d Hz, want %d Hz", r.path, dec.SampleRate(), r.config.SampleRate)
	}
	r.file = f
	r.decoder = dec
	return nil
}

func (r *ReplaySource) Read(block []int16) (int, error) {
	if r.decoder == nil {
		return 0, errors.New("replay source not opened")
	}
	frames := len(block) / r.config.Channels
	if frames > r.config.FramesPerBuffer {
		frames = r.config.FramesPerBuffer
	}
	raw := r.raw[:frames*mp3FrameBytes]

	n, err := io.ReadFull(r.decoder, raw)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if _, serr := r.decoder.Seek(0, io.SeekStart); serr != nil {
			return 0, fmt.Errorf("failed to rewind replay: %w", serr)
		}
		if n == 0 {
			n, err = io.ReadFull(r.decoder, raw)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = nil
			}
		} else {
			err = nil
		}
	}
	if err != nil {
		return 0, err
	}
	return convertFrames(block, raw[:n-n%mp3FrameBytes], r.config.Channels), nil
}

// Rearm is a no-op: a file cannot overrun.
func (r *ReplaySource) Rearm() error {
	return nil
}

func (r *ReplaySource) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.decoder = nil
	return err
}

// convertFrames turns decoded stereo frames into block samples, averaging
// left and right for mono output. It returns the number of samples written.
func convertFrames(block []int16, raw []byte, channels int) int {
	frames := len(raw) / mp3FrameBytes
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(raw[i*mp3FrameBytes:]))
		rt := int16(binary.LittleEndian.Uint16(raw[i*mp3FrameBytes+2:]))
		if channels == 1 {
			block[i] = int16((int32(l) + int32(rt)) / 2)
			continue
		}
		block[2*i] = l
		block[2*i+1] = rt
	}
	return frames * channels
}
