// Package frame implements the data channel wire format: a 4-byte
// big-endian sequence number followed by raw little-endian int16 PCM.
package frame

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the length of the sequence number prefix.
const HeaderSize = 4

var ErrShortFrame = errors.New("frame shorter than header")

// Encode builds the payload for one block. The result never aliases samples.
func Encode(seq uint32, samples []int16) []byte {
	out := make([]byte, HeaderSize+len(samples)*2)
	binary.BigEndian.PutUint32(out, seq)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[HeaderSize+2*i:], uint16(s))
	}
	return out
}

// Decode splits a payload back into its sequence number and samples.
// A trailing odd byte is an error since samples are always two bytes wide.
func Decode(payload []byte) (uint32, []int16, error) {
	if len(payload) < HeaderSize {
		return 0, nil, ErrShortFrame
	}
	body := payload[HeaderSize:]
	if len(body)%2 != 0 {
		return 0, nil, errors.New("frame body has odd length")
	}
	samples := make([]int16, len(body)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(body[2*i:]))
	}
	return binary.BigEndian.Uint32(payload), samples, nil
}
