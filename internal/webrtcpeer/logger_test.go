package webrtcpeer

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerFactory_ScopesAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	l := NewLoggerFactory(logger).NewLogger("ice")
	l.Debugf("dropped %d", 1)
	l.Tracef("dropped %d", 2)
	l.Warnf("gathering took %dms", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["msg"] != "gathering took 42ms" {
		t.Fatalf("msg=%v", rec["msg"])
	}
	if rec["level"] != "WARN" {
		t.Fatalf("level=%v", rec["level"])
	}
	if rec["scope"] != "ice" || rec["component"] != "pion" {
		t.Fatalf("unexpected attrs: %v", rec)
	}
}

func TestLoggerFactory_NilLoggerUsesDefault(t *testing.T) {
	f := NewLoggerFactory(nil)
	if f.Logger == nil {
		t.Fatalf("expected default logger")
	}
}
