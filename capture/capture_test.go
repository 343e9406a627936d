package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"scribe/audio"
)

func pcmOf(d time.Duration, amplitude float64) []byte {
	n := int(d.Seconds() * audio.SampleRate)
	pcm := make([]byte, n*2)
	for i := range n {
		v := amplitude * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate) * 32767
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm
}

func openFake(t *testing.T, pcm []byte, cfg Config) *Source {
	t.Helper()
	ctx := audio.NewFakeContextPCM(pcm, false)
	src, err := Open(ctx, nil, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(src.Close)
	return src
}

func TestCalibrateRaisesThresholdAboveAmbient(t *testing.T) {
	ambient := pcmOf(2*time.Second, 0.05)
	src := openFake(t, ambient, DefaultConfig())

	if err := src.Calibrate(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	// a 0.05 sine has RMS ≈ 0.035
	want := 0.05 / math.Sqrt2 * 1.5
	if got := src.Threshold(); math.Abs(got-want) > 0.005 {
		t.Errorf("Threshold = %.4f, want ≈ %.4f", got, want)
	}
}

func TestCalibrateKeepsFloorInSilence(t *testing.T) {
	src := openFake(t, nil, DefaultConfig())
	if err := src.Calibrate(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got := src.Threshold(); got != DefaultConfig().MinEnergy {
		t.Errorf("Threshold = %v, want floor %v", got, DefaultConfig().MinEnergy)
	}
}

func TestListenCapturesOneUtterance(t *testing.T) {
	var pcm []byte
	pcm = append(pcm, pcmOf(500*time.Millisecond, 0)...)
	pcm = append(pcm, pcmOf(time.Second, 0.5)...)
	src := openFake(t, pcm, DefaultConfig())

	utt, err := src.Listen(context.Background(), 5*time.Second, 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if utt.SampleRate != audio.SampleRate || utt.Channels != 1 {
		t.Errorf("format = %d Hz x%d", utt.SampleRate, utt.Channels)
	}
	// speech + pre-roll + trailing pause
	if utt.Duration < time.Second || utt.Duration > 2500*time.Millisecond {
		t.Errorf("Duration = %v, want between 1s and 2.5s", utt.Duration)
	}
	if len(utt.PCM) == 0 || len(utt.PCM)%2 != 0 {
		t.Errorf("PCM length %d is not whole samples", len(utt.PCM))
	}
}

func TestListenTimesOutWithoutSpeech(t *testing.T) {
	src := openFake(t, nil, DefaultConfig())

	_, err := src.Listen(context.Background(), time.Second, 0)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestListenHonoursPhraseLimit(t *testing.T) {
	src := openFake(t, pcmOf(5*time.Second, 0.5), DefaultConfig())

	utt, err := src.Listen(context.Background(), time.Second, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if utt.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", utt.Duration)
	}
}

func TestListenReportsStalledDevice(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallTimeout = 50 * time.Millisecond
	src := openFake(t, nil, cfg)
	src.dev.(*audio.FakeCapture).Unplug()
	// drain whatever was delivered before the unplug
	src.mu.Lock()
	src.pending = nil
	src.mu.Unlock()

	_, err := src.Listen(context.Background(), 10*time.Second, 0)
	var se *audio.SubsystemError
	if !errors.As(err, &se) || !errors.Is(err, ErrDeviceStalled) {
		t.Fatalf("err = %v, want SubsystemError wrapping ErrDeviceStalled", err)
	}
}

func TestListenRespectsContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StallTimeout = time.Minute
	src := openFake(t, nil, cfg)
	src.dev.(*audio.FakeCapture).Unplug()
	src.mu.Lock()
	src.pending = nil
	src.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Listen(ctx, 0, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
	full := make([]byte, 4)
	binary.LittleEndian.PutUint16(full[0:], 0x8000)
	binary.LittleEndian.PutUint16(full[2:], 0x8000)
	if got := RMS(full); math.Abs(got-1) > 1e-9 {
		t.Errorf("RMS(full scale) = %v, want 1", got)
	}
}
