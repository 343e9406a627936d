// Package encoder packs 16-bit mono PCM into the upload containers the
// recognition services accept.
package encoder

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitsPerSample     = 16
	BlockSize         = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	ContentType() string
	Extension() string
}

// New returns an encoder for format ("flac" or "wav") at sampleRate Hz.
// A non-positive rate means DefaultSampleRate.
func New(format string, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	switch format {
	case "flac":
		return NewFlac(sampleRate)
	case "wav":
		return NewWav(sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Encode runs little-endian 16-bit PCM through enc block by block and
// returns the finished container bytes.
func Encode(enc Encoder, pcm []byte) ([]byte, error) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	start := time.Now()
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	enc.AddEncodeTime(time.Since(start))
	return enc.Bytes(), nil
}

// counters is the frame and timing bookkeeping every encoder reports.
type counters struct {
	cmu     sync.Mutex
	frames  uint64
	elapsed time.Duration
}

func (c *counters) addFrames(n int) {
	c.cmu.Lock()
	c.frames += uint64(n)
	c.cmu.Unlock()
}

func (c *counters) TotalFrames() uint64 {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.frames
}

func (c *counters) AddEncodeTime(d time.Duration) {
	c.cmu.Lock()
	c.elapsed += d
	c.cmu.Unlock()
}

func (c *counters) EncodeTime() time.Duration {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return c.elapsed
}
