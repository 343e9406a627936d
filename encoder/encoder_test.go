package encoder

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mewkiz/flac"
)

func tonePCM(samples int) []byte {
	pcm := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i%200)*100-10000)))
	}
	return pcm
}

func TestNew(t *testing.T) {
	for _, tt := range []struct{ format, contentType string }{
		{"flac", "audio/flac"},
		{"wav", "audio/wav"},
	} {
		t.Run(tt.format, func(t *testing.T) {
			enc, err := New(tt.format, 0)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.format, err)
			}
			if enc.ContentType() != tt.contentType {
				t.Errorf("ContentType = %q, want %q", enc.ContentType(), tt.contentType)
			}
			if enc.Extension() != tt.format {
				t.Errorf("Extension = %q, want %q", enc.Extension(), tt.format)
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		if _, err := New("mp3", 0); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestEncodeFlac(t *testing.T) {
	samples := BlockSize*2 + BlockSize/3
	enc, err := NewFlac(DefaultSampleRate)
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(enc, tonePCM(samples))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
	if enc.TotalFrames() != uint64(samples) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), samples)
	}
}

func TestEncodeWav(t *testing.T) {
	samples := BlockSize + 17
	enc := NewWav(DefaultSampleRate)
	data, err := Encode(enc, tonePCM(samples))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("output is not a RIFF/WAVE container: % x", data[:min(12, len(data))])
	}
	if want := 44 + samples*2; len(data) < want {
		t.Errorf("len = %d, want at least %d", len(data), want)
	}
	if enc.TotalFrames() != uint64(samples) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), samples)
	}
}

func TestSampleRateInHeader(t *testing.T) {
	const rate = 48000
	pcm := tonePCM(BlockSize)

	wenc, _ := New("wav", rate)
	wavData, err := Encode(wenc, pcm)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(wavData[24:28]); got != rate {
		t.Errorf("wav sample rate = %d, want %d", got, rate)
	}

	fenc, _ := New("flac", rate)
	flacData, err := Encode(fenc, pcm)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := flac.New(bytes.NewReader(flacData))
	if err != nil {
		t.Fatalf("parse flac: %v", err)
	}
	if stream.Info.SampleRate != rate {
		t.Errorf("flac sample rate = %d, want %d", stream.Info.SampleRate, rate)
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac(DefaultSampleRate)
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
	if err := enc.EncodeBlock([]int16{1, 2, 3}); err == nil {
		t.Error("EncodeBlock after Close succeeded")
	}
}
