package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestNewWithOptionsJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOptions(&buf, Options{Level: "warn", Format: "json"})

	log.Info().Msg("hidden")
	log.Warn().Str("source", "GFO").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if entry["source"] != "GFO" || entry["message"] != "visible" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf)
	ctx := WithContext(context.Background(), WithFields(base, map[string]interface{}{"run_id": "abc"}))

	log := FromContext(ctx)
	log.Info().Msg("hello")

	if !bytes.Contains(buf.Bytes(), []byte(`"run_id":"abc"`)) {
		t.Fatalf("expected run_id field in %s", buf.String())
	}
}
