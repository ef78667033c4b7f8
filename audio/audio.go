package audio

import "errors"

// ErrOverrun reports that the device dropped input because it was not read
// in time. The stream is still usable after Rearm.
var ErrOverrun = errors.New("input overrun")

type Config struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// BlockLen is the number of int16 samples in one full block.
func (c Config) BlockLen() int {
	return c.FramesPerBuffer * c.Channels
}

// Source defines the interface for capture devices feeding the sensor
type Source interface {
	// Open acquires and configures the device
	Open() error

	// Read blocks until the next block is available and copies it into
	// block, returning the number of samples written. A count smaller than
	// len(block) is a short read, not an error.
	Read(block []int16) (int, error)

	// Rearm brings the device back to a readable state after a Read error
	Rearm() error

	// Close releases the device
	Close() error
}
