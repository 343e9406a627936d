// Package beep plays the short chimes that mark listening start, stop and
// failure.
package beep

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

const (
	sampleRate = 44100

	// Start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// tick renders a decaying sine as mono 16-bit samples.
func tick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n)
	for i := range n {
		t := float64(i) / sampleRate
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

type tones struct {
	start, end, fail []int16
}

func newTones() tones {
	return tones{
		start: tick(startFreq, 0.2, startVolume, startDecay),
		end:   tick(endFreq, 0.2, endVolume, endDecay),
		fail:  doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay),
	}
}

func toBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func PlayStart() {
	if Enabled() {
		play(kindStart)
	}
}

func PlayEnd() {
	if Enabled() {
		play(kindEnd)
	}
}

func PlayError() {
	if Enabled() {
		play(kindError)
	}
}

type kind int

const (
	kindStart kind = iota
	kindEnd
	kindError
)

func (t tones) of(k kind) []int16 {
	switch k {
	case kindStart:
		return t.start
	case kindEnd:
		return t.end
	}
	return t.fail
}
