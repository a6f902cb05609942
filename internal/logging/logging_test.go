package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWriterFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", false)
	log.Info().Msg("hidden")
	log.Warn().Int("iteration", 3).Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "shown" || entry["iteration"] != 3.0 {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewWriterPretty(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", true)
	log.Info().Msg("solve started")
	if !bytes.Contains(buf.Bytes(), []byte("solve started")) {
		t.Errorf("console output missing message: %q", buf.String())
	}
	if bytes.HasPrefix(buf.Bytes(), []byte("{")) {
		t.Errorf("pretty output should not be JSON: %q", buf.String())
	}
}
