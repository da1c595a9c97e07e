package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"off":     zerolog.Disabled,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for input, want := range tests {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewJSONWithInstanceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf})

	instance := WithInstance(logger, "abc", "EURUSD/h1/line")
	instance.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["instance_id"] != "abc" || line["key"] != "EURUSD/h1/line" {
		t.Fatalf("missing instance fields: %v", line)
	}
}

func TestAutoFormatIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "auto", Output: &buf})
	logger.Info().Msg("plain")

	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected json when output is not a terminal, got %q", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "console", Output: &buf})
	keyed := WithKey(logger, "GBPUSD/h1/line")
	keyed.Info().Msg("ready")

	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected console output, got %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("key=GBPUSD/h1/line")) {
		t.Fatalf("expected key field in %q", buf.String())
	}
}
