package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestNewProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("production", &buf)

	l.Debug().Msg("hidden")
	l.Info().Str("job_id", "img-1").Msg("queued")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q, want only the info line", lines)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["job_id"] != "img-1" || entry["message"] != "queued" || entry["level"] != "info" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNewDevelopmentIsVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := New("development", &buf)

	l.Debug().Msg("visible")
	out := buf.String()
	if !strings.Contains(out, "visible") {
		t.Fatalf("debug line missing: %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Fatalf("development output should not be JSON: %q", out)
	}
}

func TestInitCanBeRepeated(t *testing.T) {
	prev, prevCtx := log.Logger, zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.DefaultContextLogger = prevCtx
	})

	// main starts from APP_ENV, then re-inits once .env is loaded
	Init("production")
	if lvl := log.Logger.GetLevel(); lvl != zerolog.InfoLevel {
		t.Fatalf("level = %s, want info", lvl)
	}
	Init("development")
	if lvl := log.Logger.GetLevel(); lvl != zerolog.DebugLevel {
		t.Fatalf("level after re-init = %s, want debug", lvl)
	}
	if lvl := zerolog.DefaultContextLogger.GetLevel(); lvl != zerolog.DebugLevel {
		t.Fatalf("context logger level = %s, want debug", lvl)
	}
}
