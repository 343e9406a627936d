// Package config loads settings from a YAML file, a .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scribe/capture"
	"scribe/listener"
)

var Providers = []string{"groq", "openai", "deepgram", "google"}

type Config struct {
	Provider          string `yaml:"provider"` // empty picks from credentials
	Language          string `yaml:"language"`
	Device            string `yaml:"device"`
	GoogleCredentials string `yaml:"google_credentials"`

	TranscriptPath string `yaml:"transcript_path"`
	SaveTimestamps bool   `yaml:"save_timestamps"`

	CalibrationDuration time.Duration `yaml:"calibration_duration"`
	ListenTimeout       time.Duration `yaml:"listen_timeout"`
	PhraseLimit         time.Duration `yaml:"phrase_limit"` // 0 = unlimited
	TestTimeout         time.Duration `yaml:"test_timeout"`
	TestPhraseLimit     time.Duration `yaml:"test_phrase_limit"`
	PauseThreshold      time.Duration `yaml:"pause_threshold"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	SampleRate          int           `yaml:"sample_rate"`

	Beep bool `yaml:"beep"`
}

func Default() Config {
	return Config{
		Language:            "en",
		TranscriptPath:      "transcript.txt",
		CalibrationDuration: time.Second,
		ListenTimeout:       10 * time.Second,
		TestTimeout:         5 * time.Second,
		TestPhraseLimit:     5 * time.Second,
		PauseThreshold:      800 * time.Millisecond,
		RequestTimeout:      30 * time.Second,
		SampleRate:          16000,
		Beep:                true,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/scribe/config.yaml or its OS equivalent.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "scribe", "config.yaml")
}

// Load reads path on top of the defaults and applies environment overrides.
// An empty path means DefaultPath, which may be missing; a path given
// explicitly must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		case err != nil:
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads API keys from a .env file. Variables already set in the
// environment win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Provider, "SCRIBE_PROVIDER")
	overrideString(&cfg.Language, "SCRIBE_LANGUAGE")
	overrideString(&cfg.Device, "SCRIBE_DEVICE")
	overrideString(&cfg.TranscriptPath, "SCRIBE_TRANSCRIPT")
	overrideString(&cfg.GoogleCredentials, "GOOGLE_APPLICATION_CREDENTIALS")
	overrideBool(&cfg.Beep, "SCRIBE_BEEP")
	overrideDuration(&cfg.ListenTimeout, "SCRIBE_LISTEN_TIMEOUT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

// CaptureConfig applies the capture settings to the capture defaults.
func (c Config) CaptureConfig() capture.Config {
	cc := capture.DefaultConfig()
	if c.SampleRate > 0 {
		cc.SampleRate = c.SampleRate
	}
	if c.PauseThreshold > 0 {
		cc.PauseThreshold = c.PauseThreshold
	}
	return cc
}

func (c Config) ListenerConfig() listener.Config {
	return listener.Config{
		Calibration:     c.CalibrationDuration,
		ListenTimeout:   c.ListenTimeout,
		PhraseLimit:     c.PhraseLimit,
		TestTimeout:     c.TestTimeout,
		TestPhraseLimit: c.TestPhraseLimit,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Provider != "" && !isProvider(c.Provider) {
		errs = append(errs, fmt.Errorf("unknown provider %q (use %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"calibration_duration", c.CalibrationDuration},
		{"listen_timeout", c.ListenTimeout},
		{"test_timeout", c.TestTimeout},
		{"test_phrase_limit", c.TestPhraseLimit},
		{"pause_threshold", c.PauseThreshold},
		{"request_timeout", c.RequestTimeout},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", d.name, d.v))
		}
	}
	if c.PhraseLimit < 0 {
		errs = append(errs, fmt.Errorf("phrase_limit must not be negative, got %v", c.PhraseLimit))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.TranscriptPath == "" {
		errs = append(errs, errors.New("transcript_path must not be empty"))
	}
	return errors.Join(errs...)
}

func isProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}
