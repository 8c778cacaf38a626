package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogWriters(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)
	defer SetLogWriters(nil, nil, nil)

	Opsf("ops %d", 1)
	Diagf("diag %d", 2)
	Tracef("trace %d", 3)

	if !strings.Contains(ops.String(), "[roisep] ops 1") {
		t.Errorf("ops stream = %q", ops.String())
	}
	if !strings.Contains(diag.String(), "[roisep] diag 2") {
		t.Errorf("diag stream = %q", diag.String())
	}
	if !strings.Contains(trace.String(), "[roisep:trace] trace 3") {
		t.Errorf("trace stream = %q", trace.String())
	}
	if !TraceEnabled() {
		t.Error("TraceEnabled() = false with a trace writer set")
	}
}

func TestNilWritersMute(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(nil, &buf, nil)
	defer SetLogWriters(nil, nil, nil)

	// Must not panic with muted streams.
	Opsf("muted")
	Tracef("muted")
	Diagf("kept")

	if strings.Contains(buf.String(), "muted") {
		t.Errorf("muted stream leaked into diag: %q", buf.String())
	}
	if TraceEnabled() {
		t.Error("TraceEnabled() = true with nil trace writer")
	}
}

func TestSetLegacyLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLegacyLogger(&buf)
	defer SetLogWriters(nil, nil, nil)

	Opsf("a")
	Diagf("b")
	Tracef("c")

	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Errorf("legacy logger wrote %d lines, want 3: %q", got, buf.String())
	}
}
