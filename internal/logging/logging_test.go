package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriterJSONRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "warn", Format: "json"}, false)
	log.Info().Msg("hidden")
	log.Warn().Str("job_id", "j1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["message"] != "shown" || entry["job_id"] != "j1" || entry["app"] != "voiceia" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewWithWriterDefaultsToInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "nonsense"}, false)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestSamplingKeepsWarningsAndErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "info", Format: "json", Sampling: true}, false)
	for i := 0; i < 10; i++ {
		log.Info().Msg("tick")
		log.Warn().Msg("slow")
		log.Error().Msg("boom")
	}

	out := buf.String()
	if got := strings.Count(out, `"message":"boom"`); got != 10 {
		t.Fatalf("expected every error line, got %d", got)
	}
	if got := strings.Count(out, `"message":"slow"`); got != 10 {
		t.Fatalf("expected every warn line, got %d", got)
	}
	if got := strings.Count(out, `"message":"tick"`); got != 1 {
		t.Fatalf("expected info lines sampled to one, got %d", got)
	}
}

func TestSamplingDisabledInDev(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, Config{Level: "info", Sampling: true}, true)
	for i := 0; i < 5; i++ {
		log.Info().Msg("tick")
	}
	if got := strings.Count(buf.String(), "tick"); got != 5 {
		t.Fatalf("expected unsampled output in dev, got %d", got)
	}
}
