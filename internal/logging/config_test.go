package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("expected empty level to be rejected")
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogBypass, "1")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if cfg.Timestamp || !cfg.NoColor || !cfg.Bypass {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
}

func TestDefaultProfiles(t *testing.T) {
	rt := defaultConfig(ProfileRuntime)
	if rt.Level != zerolog.InfoLevel || !rt.Timestamp {
		t.Fatalf("unexpected runtime defaults: %+v", rt)
	}
	tc := defaultConfig(ProfileTest)
	if tc.Level != zerolog.DebugLevel || tc.Timestamp {
		t.Fatalf("unexpected test defaults: %+v", tc)
	}
}

func TestApplyWithoutTimestampDropsTimeColumn(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})
	log.Info().Msg("hello")
	line := buf.String()
	if !strings.HasPrefix(line, "INF hello") {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Contains(line, "<nil>") {
		t.Fatalf("time column rendered without a timestamp: %q", line)
	}
}
