package logging

import (
	"fmt"
	"strings"
	"testing"
)

func TestRedactMasksAPIKeyAssignment(t *testing.T) {
	line := `calling provider with api_key=sk-abcdefghij1234567890 model=x`
	got := Redact(line)
	if strings.Contains(got, "sk-abcdefghij1234567890") {
		t.Fatalf("api key leaked: %s", got)
	}
	if !strings.Contains(got, placeholder) {
		t.Fatalf("expected placeholder in %s", got)
	}
}

func TestRedactMasksBearerToken(t *testing.T) {
	got := Redact(`Authorization: Bearer abc.def.ghi`)
	if strings.Contains(got, "abc.def.ghi") {
		t.Fatalf("bearer token leaked: %s", got)
	}
}

func TestRedactLeavesPlainLines(t *testing.T) {
	line := "iteration 3 complete, 2 tool calls pending"
	if got := Redact(line); got != line {
		t.Fatalf("plain line mutated: %s", got)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b recorder
	l := Multi(&a, &b, nil)
	l.Info("hello %s", "world")
	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Fatalf("expected both sinks to record, got %d/%d", len(a.lines), len(b.lines))
	}
	if a.lines[0] != "hello world" {
		t.Fatalf("unexpected line %q", a.lines[0])
	}
}

func TestOrNopHandlesTypedNil(t *testing.T) {
	var r *recorder
	l := OrNop(r)
	// Must not panic.
	l.Debug("x")
}

type recorder struct {
	lines []string
}

func (r *recorder) record(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *recorder) Debug(format string, args ...any) { r.record(format, args...) }
func (r *recorder) Info(format string, args ...any)  { r.record(format, args...) }
func (r *recorder) Warn(format string, args ...any)  { r.record(format, args...) }
func (r *recorder) Error(format string, args ...any) { r.record(format, args...) }
