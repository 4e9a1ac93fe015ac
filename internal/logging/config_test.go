package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestProfilesAndEnvOverrides(t *testing.T) {
	cfg := DefaultConfig(ProfileTest)
	if cfg.Level != zerolog.DebugLevel || cfg.Timestamp {
		t.Fatalf("unexpected test profile: %+v", cfg)
	}
	env := map[string]string{
		EnvLogLevel:     "warning",
		EnvLogTimestamp: "true",
		EnvLogNoColor:   "1",
		EnvLogJSON:      "true",
	}
	ApplyEnvOverrides(&cfg, func(k string) string { return env[k] })
	if cfg.Level != zerolog.WarnLevel || !cfg.Timestamp || !cfg.NoColor || !cfg.JSON {
		t.Fatalf("unexpected overridden config: %+v", cfg)
	}

	runtime := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&runtime, func(string) string { return "bogus" })
	if runtime.Level != zerolog.InfoLevel || !runtime.Timestamp {
		t.Fatalf("invalid overrides must be ignored: %+v", runtime)
	}
}

func TestQuietOnlyRaisesLevel(t *testing.T) {
	if got := (Config{Level: zerolog.DebugLevel}).Quiet().Level; got != zerolog.WarnLevel {
		t.Fatalf("unexpected quiet level: %s", got)
	}
	if got := (Config{Level: zerolog.ErrorLevel}).Quiet().Level; got != zerolog.ErrorLevel {
		t.Fatalf("quiet must not lower level: %s", got)
	}
}
