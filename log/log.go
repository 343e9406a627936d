package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const FileName = "diagnostics_log.txt"

var (
	diagLog   zerolog.Logger
	diagFile  *os.File
	logMu     sync.Mutex
	logReady  bool
	pid       int
	sessionID string
	dir       string
)

// Recognition describes one round trip to the speech service.
type Recognition struct {
	Provider   string
	Outcome    string
	AudioS     float64
	UploadKB   float64
	EncodeMs   float64
	LatencyMs  float64
	DNSMs      float64
	TLSMs      float64
	TTFBMs     float64
	ConnReused bool
	TLSProto   string
	RateLimit  string
	Confidence float64
}

func ResolveDir(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if envPath := os.Getenv("SCRIBE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}
	return defaultDir()
}

// defaultDir follows each OS's place for application logs: ~/Library/Logs
// on macOS, %LOCALAPPDATA% on Windows and the XDG config dir elsewhere.
func defaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "scribe"), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "scribe", "logs"), nil
		}
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "scribe", "logs"), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func Path() string {
	return filepath.Join(dir, FileName)
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()
	sessionID = uuid.NewString()

	var err error
	diagFile, err = os.OpenFile(Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().
		Timestamp().
		Int("pid", pid).
		Str("session", sessionID[:8]).
		Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

// SessionID identifies this run in the diagnostics file.
func SessionID() string { return sessionID }

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func RecognitionEvent(r Recognition) {
	if !logReady {
		return
	}

	connStatus := "new"
	if r.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", r.Provider).
		Str("outcome", r.Outcome).
		Str("conn", connStatus)
	if r.TLSProto != "" {
		ev = ev.Str("tls_proto", r.TLSProto)
	}
	if r.RateLimit != "" {
		ev = ev.Str("rate_limit", r.RateLimit)
	}
	if r.Confidence > 0 {
		ev = ev.Float64("confidence", r.Confidence)
	}
	ev.Float64("audio_s", r.AudioS).
		Float64("upload_kb", r.UploadKB).
		Float64("encode_ms", r.EncodeMs).
		Float64("dns_ms", r.DNSMs).
		Float64("tls_ms", r.TLSMs).
		Float64("ttfb_ms", r.TTFBMs).
		Float64("latency_ms", r.LatencyMs).
		Msg("recognition")
}

func StateChange(from, to string) {
	if !logReady {
		return
	}
	diagLog.Debug().Str("from", from).Str("to", to).Msg("state")
}

func SessionStart(provider, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(count int, elapsed time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Dur("elapsed", elapsed).
		Msg("session_end")
}
