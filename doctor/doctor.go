// Package doctor runs interactive system diagnostics: configuration, the
// recognition service, the microphone and the clipboard.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"scribe/audio"
	"scribe/capture"
	"scribe/config"
	"scribe/log"
	"scribe/recognizer"
	"scribe/shutdown"
)

type Options struct {
	Config config.Config

	// NewAudio and NewRecognizer default to the real implementations.
	NewAudio      func() (audio.Context, error)
	NewRecognizer func(ctx context.Context) (recognizer.Recognizer, error)

	SkipClipboard bool
	In            io.Reader
	Out           io.Writer
}

type check struct {
	name     string
	run      func(*runner) error
	needsRec bool
}

type runner struct {
	opts Options
	in   *bufio.Reader
	out  io.Writer
	rec  recognizer.Recognizer
}

var errNotConfirmed = errors.New("not confirmed")

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). The microphone check is skipped without a working service.
func Run(opts Options) int {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.NewAudio == nil {
		opts.NewAudio = audio.NewContext
	}
	if opts.NewRecognizer == nil {
		cfg := opts.Config
		opts.NewRecognizer = func(ctx context.Context) (recognizer.Recognizer, error) {
			return recognizer.New(ctx, recognizer.Options{
				Provider:          cfg.Provider,
				Language:          cfg.Language,
				Timeout:           cfg.RequestTimeout,
				GoogleCredentials: cfg.GoogleCredentials,
			})
		}
	}
	if opts.In == os.Stdin {
		resetTerminal()
		stop := interruptExits()
		defer stop()
	}

	r := &runner{opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}
	defer func() {
		if r.rec != nil {
			recognizer.Close(r.rec)
		}
	}()

	checks := []check{
		{name: "Log directory", run: (*runner).checkLogDir},
		{name: "Recognition service", run: (*runner).checkService},
		{name: "Microphone and recognition", run: (*runner).checkMicrophone, needsRec: true},
	}
	if !opts.SkipClipboard {
		checks = append(checks, check{name: "Clipboard", run: (*runner).checkClipboard})
	}

	r.printf("scribe doctor - interactive system diagnostics\n")
	r.printf("==============================================\n")

	allPass := true
	for i, c := range checks {
		r.printf("\n[%d/%d] %s\n", i+1, len(checks), c.name)
		if c.needsRec && r.rec == nil {
			r.printf("  SKIP: no recognition service\n")
			allPass = false
			continue
		}
		if err := c.run(r); err != nil {
			r.printf("  FAIL: %v\n", err)
			log.Warnf("doctor %s: %v", c.name, err)
			allPass = false
		}
	}

	r.printf("\n")
	if allPass {
		r.printf("All checks passed!\n")
		return 0
	}
	r.printf("Some checks failed. See details above.\n")
	return 1
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *runner) ask(prompt string) string {
	r.printf("%s", prompt)
	line, _ := r.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (r *runner) confirm(prompt string) bool {
	answer := strings.ToLower(r.ask(prompt + " [y/n]: "))
	return answer == "y" || answer == "yes"
}

func (r *runner) checkLogDir() error {
	if err := log.EnsureDir(); err != nil {
		return err
	}
	probe := filepath.Join(log.Dir(), ".doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("log directory not writable: %w", err)
	}
	os.Remove(probe)
	r.printf("  PASS: %s\n", log.Dir())
	return nil
}

func (r *runner) checkService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := r.opts.NewRecognizer(ctx)
	if err != nil {
		return err
	}
	r.rec = rec
	r.printf("  Provider: %s, language: %s\n", rec.Name(), rec.GetLanguage())

	tls, warmable, err := recognizer.Warm(ctx, rec)
	switch {
	case !warmable:
		r.printf("  PASS: client ready\n")
	case err != nil:
		return fmt.Errorf("cannot reach %s: %w", rec.Name(), err)
	default:
		r.printf("  PASS: connected (TLS handshake %dms)\n", tls.Milliseconds())
	}
	return nil
}

func (r *runner) checkMicrophone() error {
	actx, err := r.opts.NewAudio()
	if err != nil {
		return fmt.Errorf("cannot connect to audio: %w", err)
	}
	defer actx.Close()

	devices, err := audio.ListDevices(actx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return errors.New("no capture devices found")
	}

	device, err := r.pickDevice(devices)
	if err != nil {
		return err
	}
	if audio.IsBluetooth(device.Name) {
		r.printf("  Warning: Bluetooth microphones record at reduced quality\n")
	}

	cfg := r.opts.Config
	src, err := capture.Open(actx, &device, cfg.CaptureConfig())
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := context.Background()
	r.printf("  Calibrating, stay quiet...\n")
	if err := src.Calibrate(ctx, cfg.CalibrationDuration); err != nil {
		return err
	}
	r.printf("  Threshold %.4f. Speak now (%s)...\n", src.Threshold(), cfg.TestTimeout)
	utt, err := src.Listen(ctx, cfg.TestTimeout, cfg.TestPhraseLimit)
	if errors.Is(err, capture.ErrWaitTimeout) {
		return errors.New("no speech detected; check the input volume")
	}
	if err != nil {
		return err
	}
	r.printf("  Captured %.1fs, recognizing...\n", utt.Duration.Seconds())

	start := time.Now()
	out, err := r.rec.Recognize(ctx, utt)
	if err != nil {
		return err
	}
	switch out.Kind {
	case recognizer.Recognized:
	case recognizer.ServiceError:
		return fmt.Errorf("service error: %s", out.Message)
	default:
		return fmt.Errorf("%s; speak more clearly or check the language", out.Kind)
	}

	r.printf("\n  Heard: %s (%dms)\n\n", out.Text, time.Since(start).Milliseconds())
	if !r.confirm("Is this correct?") {
		return fmt.Errorf("recognition %w", errNotConfirmed)
	}
	r.printf("  PASS: recognition verified by user\n")
	return nil
}

// pickDevice uses the configured device when present, otherwise asks.
func (r *runner) pickDevice(devices []audio.DeviceInfo) (audio.DeviceInfo, error) {
	if d, ok := audio.FindDevice(devices, r.opts.Config.Device); ok {
		r.printf("  Using configured device: %s\n", d.Name)
		return d, nil
	}
	if len(devices) == 1 {
		r.printf("  Using device: %s\n", devices[0].Name)
		return devices[0], nil
	}

	r.printf("  Select input device:\n")
	for i, d := range devices {
		r.printf("    %d. %s\n", i+1, d.Label())
	}
	choice := r.ask(fmt.Sprintf("  Choice [1-%d]: ", len(devices)))
	idx := 1
	if choice != "" {
		if _, err := fmt.Sscanf(choice, "%d", &idx); err != nil {
			return audio.DeviceInfo{}, fmt.Errorf("invalid choice %q", choice)
		}
	}
	if idx < 1 || idx > len(devices) {
		return audio.DeviceInfo{}, fmt.Errorf("invalid choice %d", idx)
	}
	return devices[idx-1], nil
}

func (r *runner) checkClipboard() error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility found (install xclip, xsel or wl-clipboard)")
	}
	previous, _ := clipboard.ReadAll()
	defer clipboard.WriteAll(previous)

	const sentinel = "scribe-doctor-test"
	if err := clipboard.WriteAll(sentinel); err != nil {
		return fmt.Errorf("copy failed: %w", err)
	}
	got, err := clipboard.ReadAll()
	if err != nil {
		return fmt.Errorf("read back failed: %w", err)
	}
	if got != sentinel {
		return fmt.Errorf("read back %q, want %q", got, sentinel)
	}
	r.printf("  PASS: copy and read back\n")
	return nil
}

func interruptExits() (stop func()) {
	return shutdown.OnSignal(func() {
		resetTerminal()
		fmt.Fprintln(os.Stderr, "\nInterrupted")
		os.Exit(1)
	})
}
