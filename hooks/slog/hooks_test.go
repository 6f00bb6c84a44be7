package sloghook

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBuffered(opts Options) (*Hooks, *bytes.Buffer) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(l, opts), &buf
}

func TestKeysAreRedacted(t *testing.T) {
	h, buf := newBuffered(Options{})
	h.SelfHeal("item:user:secret-id", "corrupt")
	out := buf.String()
	if strings.Contains(out, "secret-id") {
		t.Fatalf("raw key leaked: %q", out)
	}
	if !strings.Contains(out, "reason=corrupt") {
		t.Fatalf("reason missing: %q", out)
	}
}

func TestCustomRedactor(t *testing.T) {
	h, buf := newBuffered(Options{Redact: func(string) string { return "X" }})
	h.ProviderSetRejected("item:user:1")
	if !strings.Contains(buf.String(), "key=X") {
		t.Fatalf("custom redactor not used: %q", buf.String())
	}
}

func TestSampling(t *testing.T) {
	h, buf := newBuffered(Options{DeclineEvery: 3})
	for i := 0; i < 9; i++ {
		h.PopulationDeclined("k", "in_flight")
	}
	if n := strings.Count(buf.String(), "population_declined"); n != 3 {
		t.Fatalf("sampled lines=%d want 3", n)
	}
}

func TestFlushedLevels(t *testing.T) {
	h, buf := newBuffered(Options{})
	h.Flushed("user", nil)
	h.Flushed("user", errors.New("no clear"))
	out := buf.String()
	if !strings.Contains(out, "level=INFO") || !strings.Contains(out, `clear_err="no clear"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	h := New(nil, Options{LogCompletions: true})
	h.SelfHeal("k", "expired")
	h.PopulationCompleted("k", 3)
	h.Flushed("ns", nil)
}
