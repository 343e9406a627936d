package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SCRIBE_PROVIDER", "SCRIBE_LANGUAGE", "SCRIBE_DEVICE", "SCRIBE_TRANSCRIPT", "SCRIBE_BEEP", "SCRIBE_LISTEN_TIMEOUT", "GOOGLE_APPLICATION_CREDENTIALS"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenTimeout != 10*time.Second || cfg.TranscriptPath != "transcript.txt" || !cfg.Beep {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
provider: deepgram
language: de
device: "USB Mic"
save_timestamps: true
listen_timeout: 15s
phrase_limit: 30s
beep: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "deepgram" || cfg.Language != "de" || cfg.Device != "USB Mic" {
		t.Errorf("strings = %+v", cfg)
	}
	if !cfg.SaveTimestamps || cfg.Beep {
		t.Errorf("bools = %+v", cfg)
	}
	if cfg.ListenTimeout != 15*time.Second || cfg.PhraseLimit != 30*time.Second {
		t.Errorf("durations = %v %v", cfg.ListenTimeout, cfg.PhraseLimit)
	}
	if cfg.CalibrationDuration != time.Second {
		t.Errorf("unset field lost its default: %v", cfg.CalibrationDuration)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "provider: groq\nlanguage: de\n")
	t.Setenv("SCRIBE_PROVIDER", "openai")
	t.Setenv("SCRIBE_TRANSCRIPT", "/tmp/out.txt")
	t.Setenv("SCRIBE_BEEP", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" || cfg.Language != "de" || cfg.TranscriptPath != "/tmp/out.txt" || cfg.Beep {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"provider", func(c *Config) { c.Provider = "whisper.cpp" }, "unknown provider"},
		{"listen timeout", func(c *Config) { c.ListenTimeout = 0 }, "listen_timeout"},
		{"phrase limit", func(c *Config) { c.PhraseLimit = -time.Second }, "phrase_limit"},
		{"transcript", func(c *Config) { c.TranscriptPath = "" }, "transcript_path"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("SCRIBE_TEST_KEY", "")
	os.Unsetenv("SCRIBE_TEST_KEY")
	t.Setenv("SCRIBE_TEST_KEPT", "from-env")
	path := writeFile(t, ".env", "SCRIBE_TEST_KEY=secret\nSCRIBE_TEST_KEPT=from-file\n")

	if err := LoadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("SCRIBE_TEST_KEY"); got != "secret" {
		t.Errorf("SCRIBE_TEST_KEY = %q", got)
	}
	if got := os.Getenv("SCRIBE_TEST_KEPT"); got != "from-env" {
		t.Errorf("existing variable overridden: %q", got)
	}
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.PauseThreshold = 500 * time.Millisecond
	cfg.PhraseLimit = 20 * time.Second

	cc := cfg.CaptureConfig()
	if cc.PauseThreshold != 500*time.Millisecond || cc.SampleRate != 16000 || cc.MinEnergy <= 0 {
		t.Errorf("CaptureConfig = %+v", cc)
	}
	lc := cfg.ListenerConfig()
	if lc.ListenTimeout != 10*time.Second || lc.PhraseLimit != 20*time.Second || lc.Calibration != time.Second {
		t.Errorf("ListenerConfig = %+v", lc)
	}
}
