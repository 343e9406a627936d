package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/atotto/clipboard"

	"scribe/audio"
	"scribe/beep"
	"scribe/capture"
	"scribe/config"
	"scribe/doctor"
	"scribe/log"
	"scribe/recognizer"
	"scribe/session"
	"scribe/shutdown"
	"scribe/transcript"
	"scribe/tui"
)

var version = "dev"

type flags struct {
	config     string
	logPath    string
	provider   string
	lang       string
	device     string
	transcript string
	setup      bool
	doctor     bool
	test       string
	benchmark  string
	runs       int
	version    bool
	gui        bool
	noBeep     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.config, "config", "", "config file (default: "+config.DefaultPath()+")")
	flag.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.StringVar(&f.provider, "provider", "", "recognition provider: groq, openai, deepgram or google (default: from API keys)")
	flag.StringVar(&f.lang, "lang", "", "language code for recognition (e.g., en, de, fr)")
	flag.StringVar(&f.device, "device", "", "use named microphone device")
	flag.StringVar(&f.transcript, "transcript", "", "transcript sink file")
	flag.BoolVar(&f.setup, "setup", false, "select microphone device interactively before starting")
	flag.BoolVar(&f.doctor, "doctor", false, "run system diagnostics and exit")
	flag.StringVar(&f.test, "test", "", "headless stdin-driven mode over a WAV file")
	flag.StringVar(&f.benchmark, "benchmark", "", "recognize a WAV file and print timings")
	flag.IntVar(&f.runs, "runs", 3, "number of benchmark iterations")
	flag.BoolVar(&f.version, "version", false, "print version and exit")
	flag.BoolVar(&f.gui, "gui", false, "run the desktop window instead of the terminal UI")
	flag.BoolVar(&f.noBeep, "nobeep", false, "disable start/stop sounds")
	flag.Parse()
	return f
}

func main() {
	os.Exit(run())
}

func run() int {
	f := parseFlags()
	if f.version {
		fmt.Printf("scribe %s\n", version)
		return 0
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, f)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logDir, err := log.ResolveDir(f.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logDir)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if !cfg.Beep {
		beep.Disable()
	}

	switch {
	case f.doctor:
		return doctor.Run(doctor.Options{Config: cfg})
	case f.test != "":
		return runTestMode(f.test, cfg)
	case f.benchmark != "":
		return runBenchmark(f.benchmark, f.runs, cfg)
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	if f.setup {
		dev, err := audio.SelectDevice(actx)
		switch {
		case errors.Is(err, audio.ErrSelectionAborted):
			return 0
		case err != nil:
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\n", err)
		default:
			cfg.Device = dev.Name
		}
	}

	ctx := context.Background()
	rec, err := newRecognizer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer recognizer.Close(rec)
	go warm(ctx, rec)

	store := transcript.Open(transcript.Options{SinkPath: cfg.TranscriptPath, SaveTimestamps: cfg.SaveTimestamps})
	opts := sessionOptions(cfg, actx, rec, store)

	if f.gui {
		err = runGUI(opts, shellInfo{provider: rec.Name(), language: rec.GetLanguage(), transcript: cfg.TranscriptPath})
	} else {
		err = runTUI(opts, shellInfo{provider: rec.Name(), language: rec.GetLanguage(), transcript: cfg.TranscriptPath})
	}
	if err != nil {
		log.Errorf("ui: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// applyFlags gives command-line flags the last word over file and environment.
func applyFlags(cfg *config.Config, f flags) {
	if f.provider != "" {
		cfg.Provider = f.provider
	}
	if f.lang != "" {
		cfg.Language = f.lang
	}
	if f.device != "" {
		cfg.Device = f.device
	}
	if f.transcript != "" {
		cfg.TranscriptPath = f.transcript
	}
	if f.noBeep {
		cfg.Beep = false
	}
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func newRecognizer(ctx context.Context, cfg config.Config) (recognizer.Recognizer, error) {
	rec, err := recognizer.New(ctx, recognizer.Options{
		Provider:          cfg.Provider,
		Language:          cfg.Language,
		Timeout:           cfg.RequestTimeout,
		GoogleCredentials: cfg.GoogleCredentials,
	})
	if err != nil {
		log.Errorf("recognizer init: %v", err)
		return nil, err
	}
	return rec, nil
}

func warm(ctx context.Context, rec recognizer.Recognizer) {
	tls, warmable, err := recognizer.Warm(ctx, rec)
	switch {
	case !warmable:
	case err != nil:
		log.Warnf("%s warm-up failed: %v", rec.Name(), err)
	default:
		log.Infof("%s connection warmed (tls %dms)", rec.Name(), tls.Milliseconds())
	}
}

func sessionOptions(cfg config.Config, actx audio.Context, rec recognizer.Recognizer, store *transcript.Store) session.Options {
	return session.Options{
		Audio:      actx,
		Recognizer: rec,
		Store:      store,
		Loop:       cfg.ListenerConfig(),
		Capture:    cfg.CaptureConfig(),
		Preferred:  cfg.Device,
		Beep:       cfg.Beep,
		Copy:       clipboard.WriteAll,
	}
}

type shellInfo struct {
	provider   string
	language   string
	transcript string
}

func runTUI(opts session.Options, info shellInfo) error {
	sink := tui.NewSink()
	opts.OnLevel = sink.Level
	sess := session.New(opts)
	defer sess.Close()

	p := tui.NewProgram(sess, tui.Info{
		Provider:   info.provider,
		Language:   info.language,
		Transcript: info.transcript,
		Version:    version,
	})
	sink.Bind(p)
	sess.Attach(sink)

	stop := shutdown.OnSignal(p.Quit)
	defer stop()

	_, err := p.Run()
	return err
}

// runBenchmark recognizes a WAV file runs times and prints each outcome
// with its network timings.
func runBenchmark(wavPath string, runs int, cfg config.Config) int {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		return 1
	}
	if len(data) < audio.WAVHeaderSize {
		fmt.Fprintln(os.Stderr, "Error: invalid WAV file")
		return 1
	}
	pcm := data[audio.WAVHeaderSize:]
	utt := capture.Utterance{
		PCM:        pcm,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Duration:   time.Duration(len(pcm)/audio.BytesPerFrame) * time.Second / audio.SampleRate,
	}

	ctx := context.Background()
	rec, err := newRecognizer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer recognizer.Close(rec)

	fmt.Printf("Benchmark: %s, %.1fs of audio, %s (%d runs)\n", wavPath, utt.Duration.Seconds(), rec.Name(), runs)
	for i := 1; i <= runs; i++ {
		start := time.Now()
		out, err := rec.Recognize(ctx, utt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("=== Run %d: %s (%dms)\n", i, out, time.Since(start).Milliseconds())
		if m := out.Metrics; m != nil {
			fmt.Printf("  dns %dms  tcp %dms  tls %dms  ttfb %dms  reused=%v %s\n",
				m.DNS.Milliseconds(), m.TCP.Milliseconds(), m.TLS.Milliseconds(), m.TTFB.Milliseconds(), m.ConnReused, m.TLSProtocol)
		}
		if out.RateLimit != "" {
			fmt.Printf("  rate limit %s\n", out.RateLimit)
		}
		if i < runs {
			time.Sleep(500 * time.Millisecond)
		}
	}
	return 0
}
