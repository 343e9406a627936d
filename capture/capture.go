// Package capture turns a raw audio device into utterances: it calibrates
// an energy threshold against ambient noise and then cuts speech out of the
// stream between silence boundaries.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"scribe/audio"
)

var (
	// ErrWaitTimeout is returned by Listen when no phrase starts within the timeout.
	ErrWaitTimeout = errors.New("listening timed out while waiting for phrase to start")

	// ErrDeviceStalled means the device stopped delivering audio, usually because it was unplugged.
	ErrDeviceStalled = errors.New("capture device stopped delivering audio")
)

const (
	frameDuration = 20 * time.Millisecond
	maxPending    = 60 * time.Second
)

type Config struct {
	SampleRate     int
	MinEnergy      float64 // normalized RMS floor for the speech threshold
	DynamicRatio   float64 // threshold = ambient RMS * ratio
	PauseThreshold time.Duration
	PreRoll        time.Duration
	StallTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     audio.SampleRate,
		MinEnergy:      0.01,
		DynamicRatio:   1.5,
		PauseThreshold: 800 * time.Millisecond,
		PreRoll:        500 * time.Millisecond,
		StallTimeout:   3 * time.Second,
	}
}

// Utterance is one span of 16-bit little-endian mono PCM.
type Utterance struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Source is an open capture handle. It must be released with Close.
type Source struct {
	dev        audio.CaptureDevice
	cfg        Config
	frameBytes int

	mu        sync.Mutex
	pending   []byte
	threshold float64
	onLevel   func(float64)
	notify    chan struct{}
	closeOnce sync.Once
}

// Open starts capturing from device. A nil device means the system default.
func Open(actx audio.Context, device *audio.DeviceInfo, cfg Config) (*Source, error) {
	def := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.DynamicRatio <= 0 {
		cfg.DynamicRatio = def.DynamicRatio
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = def.PauseThreshold
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = def.StallTimeout
	}
	dev, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: uint32(cfg.SampleRate),
		Channels:   audio.Channels,
	})
	if err != nil {
		return nil, asSubsystem(err)
	}

	s := &Source{
		dev:        dev,
		cfg:        cfg,
		frameBytes: cfg.SampleRate * int(frameDuration/time.Millisecond) / 1000 * audio.BytesPerFrame,
		threshold:  cfg.MinEnergy,
		notify:     make(chan struct{}, 1),
	}
	maxBytes := int(maxPending/time.Second) * cfg.SampleRate * audio.BytesPerFrame

	dev.SetCallback(func(data []byte, _ uint32) {
		s.mu.Lock()
		s.pending = append(s.pending, data...)
		if over := len(s.pending) - maxBytes; over > 0 {
			s.pending = s.pending[over:]
		}
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, asSubsystem(err)
	}
	return s, nil
}

func asSubsystem(err error) error {
	var se *audio.SubsystemError
	if errors.As(err, &se) {
		return err
	}
	return &audio.SubsystemError{Op: "capture", Err: err}
}

func (s *Source) Close() {
	s.closeOnce.Do(func() {
		s.dev.Stop()
		s.dev.ClearCallback()
		s.dev.Close()
	})
}

func (s *Source) DeviceName() string { return s.dev.DeviceName() }

// OnLevel registers a callback that receives the RMS level of every analysed frame.
func (s *Source) OnLevel(fn func(float64)) {
	s.mu.Lock()
	s.onLevel = fn
	s.mu.Unlock()
}

func (s *Source) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Calibrate samples ambient noise for d and sets the speech threshold from it.
func (s *Source) Calibrate(ctx context.Context, d time.Duration) error {
	n := int(d / frameDuration)
	if n < 1 {
		n = 1
	}
	var sum float64
	for range n {
		f, err := s.next(ctx)
		if err != nil {
			return err
		}
		sum += s.level(f)
	}
	ambient := sum / float64(n)

	s.mu.Lock()
	s.threshold = math.Max(s.cfg.MinEnergy, ambient*s.cfg.DynamicRatio)
	s.mu.Unlock()
	return nil
}

// Listen blocks until one utterance has been captured. It waits at most
// timeout (0 = forever) for speech to start and stops recording after
// PauseThreshold of silence or once phraseLimit (0 = unlimited) is reached.
// Durations are measured in captured audio time.
func (s *Source) Listen(ctx context.Context, timeout, phraseLimit time.Duration) (Utterance, error) {
	threshold := s.Threshold()
	preRollFrames := max(1, int(s.cfg.PreRoll/frameDuration))

	var preRoll [][]byte
	var waited time.Duration
	for {
		if timeout > 0 && waited >= timeout {
			return Utterance{}, ErrWaitTimeout
		}
		f, err := s.next(ctx)
		if err != nil {
			return Utterance{}, err
		}
		waited += frameDuration
		preRoll = append(preRoll, f)
		if len(preRoll) > preRollFrames {
			preRoll = preRoll[1:]
		}
		if s.level(f) > threshold {
			break
		}
	}

	var pcm []byte
	for _, f := range preRoll {
		pcm = append(pcm, f...)
	}
	phrase := time.Duration(len(preRoll)) * frameDuration
	var pause time.Duration
	for {
		if phraseLimit > 0 && phrase >= phraseLimit {
			break
		}
		f, err := s.next(ctx)
		if err != nil {
			return Utterance{}, err
		}
		pcm = append(pcm, f...)
		phrase += frameDuration
		if s.level(f) > threshold {
			pause = 0
		} else {
			pause += frameDuration
		}
		if pause >= s.cfg.PauseThreshold {
			break
		}
	}

	return Utterance{
		PCM:        pcm,
		SampleRate: s.cfg.SampleRate,
		Channels:   audio.Channels,
		Duration:   phrase,
	}, nil
}

func (s *Source) level(frame []byte) float64 {
	rms := RMS(frame)
	s.mu.Lock()
	fn := s.onLevel
	s.mu.Unlock()
	if fn != nil {
		fn(rms)
	}
	return rms
}

// next returns the next analysis frame, waiting for the device to deliver it.
func (s *Source) next(ctx context.Context) ([]byte, error) {
	stall := time.NewTimer(s.cfg.StallTimeout)
	defer stall.Stop()
	for {
		s.mu.Lock()
		if len(s.pending) >= s.frameBytes {
			f := make([]byte, s.frameBytes)
			copy(f, s.pending)
			s.pending = s.pending[s.frameBytes:]
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stall.C:
			return nil, &audio.SubsystemError{Op: "capture", Err: ErrDeviceStalled}
		}
	}
}

// RMS returns the normalized root-mean-square level of 16-bit PCM.
func RMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(data[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
