package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New("debug", "text", &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return NewSlogLogger(l), &buf
}

func TestSlogLoggerLevels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	tests := []struct {
		level string
		msg   string
		attr  string
	}{
		{"DEBUG", "dbg", "a=1"},
		{"INFO", "inf", "b=2"},
		{"WARN", "wrn", "c=3"},
		{"ERROR", "err", "d=4"},
	}
	for _, tc := range tests {
		if !strings.Contains(out, "level="+tc.level) {
			t.Fatalf("expected level=%s in output:\n%s", tc.level, out)
		}
		if !strings.Contains(out, "msg="+tc.msg) {
			t.Fatalf("expected msg=%s in output:\n%s", tc.msg, out)
		}
		if !strings.Contains(out, tc.attr) {
			t.Fatalf("expected %s in output:\n%s", tc.attr, out)
		}
	}
}

func TestSlogLoggerWithAddsAttributes(t *testing.T) {
	log, buf := newTestLogger(t)

	log.With("component", "authd", "region", "IN").Info(context.Background(), "hello", "k", "v")

	for _, s := range []string{"msg=hello", "component=authd", "region=IN", "k=v"} {
		if !strings.Contains(buf.String(), s) {
			t.Fatalf("expected %q in output, got:\n%s", s, buf.String())
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "text", &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("hidden")
	l.Warn("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("INFO", "json", &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Info("started", slog.Int("port", 8080))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "started" || line["port"] != float64(8080) {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "text", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("info", "xml", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSecretsAreRedacted(t *testing.T) {
	log, buf := newTestLogger(t)

	log.Info(context.Background(), "login", "password", "correct-horse-42", "refresh_token", "abc.def", "user_id", "u1")

	out := buf.String()
	if strings.Contains(out, "correct-horse-42") || strings.Contains(out, "abc.def") {
		t.Fatalf("secret leaked:\n%s", out)
	}
	if !strings.Contains(out, "user_id=u1") || !strings.Contains(out, "password="+redacted) {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
