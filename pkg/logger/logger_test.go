package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Format: FormatJSON, Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithJobID(ctx, "outbox-1-abc")

	log.Error(ctx, "boom", errors.New("boom"))

	for _, field := range []string{`"request_id":"req-123"`, `"job_id":"outbox-1-abc"`, `"stack"`, `"error":"boom"`} {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Fatalf("expected %s in entry=%s", field, buf.String())
		}
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !strings.Contains(buf.String(), `"stack"`) {
		t.Fatalf("expected stack when warn stack enabled; entry=%s", buf.String())
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})
	quiet.Warn(context.Background(), "warny")
	if strings.Contains(buf.String(), `"stack"`) {
		t.Fatalf("did not expect stack when warn stack disabled; entry=%s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestNopDiscards(t *testing.T) {
	log := Nop()
	log.Info(context.Background(), "ignored")
	log.Error(context.Background(), "ignored", errors.New("x"))
}

func TestFormatOptionOverridesEnv(t *testing.T) {
	t.Setenv("TRUSTLEDGER_LOG_FORMAT", FormatConsole)

	buf := &bytes.Buffer{}
	New(Options{ServiceName: "test", Format: FormatJSON, Output: buf}).Info(context.Background(), "tick.completed")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected json entry, got %q", buf.String())
	}

	buf.Reset()
	New(Options{ServiceName: "test", Output: buf}).Info(context.Background(), "tick.completed")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "tick.completed") {
		t.Fatalf("expected console entry from env, got %q", buf.String())
	}
}

func TestWithFieldsStacks(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Format: FormatJSON, Output: buf})
	ctx := log.WithActorRole(context.Background(), "operator")
	ctx = log.WithFields(ctx, map[string]any{"tracking_id": "trk-1"})
	log.Info(ctx, "request.accepted")
	for _, field := range []string{`"actor_role":"operator"`, `"tracking_id":"trk-1"`, `"service":"test"`} {
		if !strings.Contains(buf.String(), field) {
			t.Fatalf("expected %s in %s", field, buf.String())
		}
	}
}
