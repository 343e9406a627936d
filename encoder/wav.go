package encoder

import (
	"fmt"
	"io"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// WavEncoder produces a RIFF/WAVE container with 16-bit PCM, the lowest
// common denominator every recognition API accepts.
type WavEncoder struct {
	counters

	mu     sync.Mutex
	ws     *writerseeker.WriterSeeker
	enc    *wav.Encoder
	format *goaudio.Format
	out    []byte
	closed bool
}

func NewWav(sampleRate int) *WavEncoder {
	ws := &writerseeker.WriterSeeker{}
	return &WavEncoder{
		ws:     ws,
		enc:    wav.NewEncoder(ws, sampleRate, BitsPerSample, Channels, 1),
		format: &goaudio.Format{NumChannels: Channels, SampleRate: sampleRate},
	}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	data := make([]int, len(block))
	for i, s := range block {
		data[i] = int(s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("wav encoder is closed")
	}
	buf := &goaudio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitsPerSample}
	if err := e.enc.Write(buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	e.addFrames(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("closing wav encoder: %w", err)
	}
	out, err := io.ReadAll(e.ws.Reader())
	if err != nil {
		return fmt.Errorf("reading wav into memory: %w", err)
	}
	e.out = out
	return nil
}

func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WavEncoder) ContentType() string { return "audio/wav" }

func (e *WavEncoder) Extension() string { return "wav" }
