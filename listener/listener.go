// Package listener runs the background listen loop: one worker that
// captures utterances from the selected microphone, sends each to the
// recognizer and appends what comes back to the transcript.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scribe/audio"
	"scribe/capture"
	"scribe/log"
	"scribe/recognizer"
	"scribe/transcript"
)

var (
	ErrAlreadyListening = errors.New("already listening")
	ErrNoDevice         = errors.New("no microphone selected")
	ErrTestRunning      = errors.New("microphone test in progress")
)

type State int32

const (
	Idle State = iota
	Calibrating
	Listening
	Processing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Status lines reported while the loop runs.
const (
	StatusCalibrating = "Adjusting for ambient noise..."
	StatusListening   = "Listening..."
	StatusTimeout     = "Timeout - Listening again..."
	StatusUnknown     = "Speech not recognized"
	StatusSuccess     = "Success - Listening..."
	StatusStopped     = "Stopped"
)

func StatusAPIError(msg string) string { return "API error: " + msg }

// Capturer is an open microphone the loop can calibrate and listen on.
type Capturer interface {
	Calibrate(ctx context.Context, d time.Duration) error
	Listen(ctx context.Context, timeout, phraseLimit time.Duration) (capture.Utterance, error)
	DeviceName() string
	Close()
}

type OpenFunc func(device *audio.DeviceInfo) (Capturer, error)

// CaptureOpener opens real capture sources on actx.
func CaptureOpener(actx audio.Context, cfg capture.Config, onLevel func(float64)) OpenFunc {
	return func(device *audio.DeviceInfo) (Capturer, error) {
		src, err := capture.Open(actx, device, cfg)
		if err != nil {
			return nil, err
		}
		if onLevel != nil {
			src.OnLevel(onLevel)
		}
		return src, nil
	}
}

// Observer receives everything the loop reports. Calls come from the
// worker goroutine.
type Observer interface {
	Status(msg string)
	Entry(e transcript.Entry)
	StateChanged(s State)
	Critical(err error)
}

type Config struct {
	Calibration     time.Duration
	ListenTimeout   time.Duration
	PhraseLimit     time.Duration // 0 = unlimited
	TestTimeout     time.Duration
	TestPhraseLimit time.Duration
}

func DefaultConfig() Config {
	return Config{
		Calibration:     time.Second,
		ListenTimeout:   10 * time.Second,
		TestTimeout:     5 * time.Second,
		TestPhraseLimit: 5 * time.Second,
	}
}

type Loop struct {
	open  OpenFunc
	rec   recognizer.Recognizer
	store *transcript.Store
	obs   Observer
	cfg   Config
	now   func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	active  bool
	testing bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func New(open OpenFunc, rec recognizer.Recognizer, store *transcript.Store, obs Observer, cfg Config) *Loop {
	return &Loop{
		open:  open,
		rec:   rec,
		store: store,
		obs:   obs,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) {
	l.notify(State(l.state.Swap(int32(s))), s)
}

func (l *Loop) notify(prev, s State) {
	if prev == s {
		return
	}
	log.StateChange(prev.String(), s.String())
	l.obs.StateChanged(s)
}

// Active reports whether a worker is running. It changes together with
// State under mu, so an observer that sees Idle also sees Active false.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Start spawns the worker on device.
func (l *Loop) Start(device *audio.DeviceInfo) error {
	if device == nil {
		return ErrNoDevice
	}
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return ErrAlreadyListening
	}
	if l.testing {
		l.mu.Unlock()
		return ErrTestRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.active = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.cancel = cancel
	stop, done := l.stop, l.done
	prev := State(l.state.Swap(int32(Calibrating)))
	l.mu.Unlock()

	l.notify(prev, Calibrating)
	go l.run(ctx, *device, stop, done)
	return nil
}

// Stop asks the worker to exit. The request is seen between captures, so
// a capture in progress runs to completion first.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Wait blocks until the current worker, if any, has exited.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Shutdown stops the worker and interrupts any blocking capture or request.
func (l *Loop) Shutdown() {
	l.Stop()
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.Wait()
}

func (l *Loop) run(ctx context.Context, device audio.DeviceInfo, stop, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.active = false
		l.cancel()
		prev := State(l.state.Swap(int32(Idle)))
		l.mu.Unlock()
		l.notify(prev, Idle)
		close(done)
	}()

	l.obs.Status(StatusCalibrating)
	src, err := l.open(&device)
	if err != nil {
		l.fail(ctx, err)
		return
	}
	defer src.Close()

	if err := src.Calibrate(ctx, l.cfg.Calibration); err != nil {
		l.fail(ctx, err)
		return
	}
	log.SessionStart(l.rec.Name(), src.DeviceName())
	started := time.Now()
	count := 0
	defer func() { log.SessionEnd(count, time.Since(started)) }()

	l.setState(Listening)
	l.obs.Status(StatusListening)

	for {
		select {
		case <-stop:
			l.obs.Status(StatusStopped)
			return
		default:
		}

		out, err := l.cycle(ctx, src, l.cfg.ListenTimeout, l.cfg.PhraseLimit)
		if err != nil {
			l.fail(ctx, err)
			return
		}
		ok, err := l.handle(out)
		if err != nil {
			l.fail(ctx, err)
			return
		}
		if ok {
			count++
		}
		l.setState(Listening)
	}
}

// cycle captures one utterance and recognizes it. A capture that times out
// before speech starts becomes a Timeout outcome.
func (l *Loop) cycle(ctx context.Context, src Capturer, timeout, phraseLimit time.Duration) (recognizer.Outcome, error) {
	utt, err := src.Listen(ctx, timeout, phraseLimit)
	if errors.Is(err, capture.ErrWaitTimeout) {
		return recognizer.TimedOut(), nil
	}
	if err != nil {
		return recognizer.Outcome{}, err
	}

	l.setState(Processing)
	start := time.Now()
	out, err := l.recognize(ctx, utt)
	if err != nil {
		return recognizer.Outcome{}, err
	}
	logRecognition(l.rec.Name(), utt, out, time.Since(start))
	return out, nil
}

// recognize asks the recognizer for text. Recognized text that is blank
// counts as unrecognized.
func (l *Loop) recognize(ctx context.Context, utt capture.Utterance) (recognizer.Outcome, error) {
	out, err := l.rec.Recognize(ctx, utt)
	if err != nil {
		return recognizer.Outcome{}, err
	}
	if out.Kind == recognizer.Recognized && strings.TrimSpace(out.Text) == "" {
		out.Kind = recognizer.Unrecognized
	}
	return out, nil
}

func logRecognition(provider string, utt capture.Utterance, out recognizer.Outcome, latency time.Duration) {
	ev := log.Recognition{
		Provider:   provider,
		Outcome:    out.Kind.String(),
		AudioS:     utt.Duration.Seconds(),
		UploadKB:   float64(out.Upload) / 1024,
		EncodeMs:   float64(out.EncodeTime.Microseconds()) / 1000,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
		RateLimit:  out.RateLimit,
		Confidence: out.Confidence,
	}
	if m := out.Metrics; m != nil {
		ev.DNSMs = float64(m.DNS.Microseconds()) / 1000
		ev.TLSMs = float64(m.TLS.Microseconds()) / 1000
		ev.TTFBMs = float64(m.TTFB.Microseconds()) / 1000
		ev.ConnReused = m.ConnReused
		ev.TLSProto = m.TLSProtocol
	}
	log.RecognitionEvent(ev)
}

// handle applies one outcome. It reports whether an entry was appended.
func (l *Loop) handle(out recognizer.Outcome) (bool, error) {
	switch out.Kind {
	case recognizer.Timeout:
		l.obs.Status(StatusTimeout)
	case recognizer.Unrecognized:
		l.obs.Status(StatusUnknown)
	case recognizer.ServiceError:
		log.Warnf("recognition failed: %s", out.Message)
		l.obs.Status(StatusAPIError(out.Message))
	case recognizer.Recognized:
		e := transcript.Entry{Time: l.now(), Text: out.Text}
		if err := l.store.Append(e); err != nil {
			return false, err
		}
		l.obs.Entry(e)
		l.obs.Status(StatusSuccess)
		return true, nil
	default:
		return false, fmt.Errorf("unexpected outcome %v", out.Kind)
	}
	return false, nil
}

func (l *Loop) fail(ctx context.Context, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	log.Errorf("listen loop: %v", err)
	l.setState(Failed)
	l.obs.Critical(err)
}

// TestOnce captures and recognizes a single utterance on device without
// touching the loop state.
func (l *Loop) TestOnce(ctx context.Context, device *audio.DeviceInfo) (recognizer.Outcome, error) {
	if device == nil {
		return recognizer.Outcome{}, ErrNoDevice
	}
	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		return recognizer.Outcome{}, ErrAlreadyListening
	}
	if l.testing {
		l.mu.Unlock()
		return recognizer.Outcome{}, ErrTestRunning
	}
	l.testing = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.testing = false
		l.mu.Unlock()
	}()

	src, err := l.open(device)
	if err != nil {
		return recognizer.Outcome{}, err
	}
	defer src.Close()

	if err := src.Calibrate(ctx, l.cfg.Calibration); err != nil {
		return recognizer.Outcome{}, err
	}
	utt, err := src.Listen(ctx, l.cfg.TestTimeout, l.cfg.TestPhraseLimit)
	if errors.Is(err, capture.ErrWaitTimeout) {
		return recognizer.TimedOut(), nil
	}
	if err != nil {
		return recognizer.Outcome{}, err
	}
	start := time.Now()
	out, err := l.recognize(ctx, utt)
	if err != nil {
		return recognizer.Outcome{}, err
	}
	logRecognition(l.rec.Name(), utt, out, time.Since(start))
	return out, nil
}
