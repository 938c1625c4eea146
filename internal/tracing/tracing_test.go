package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(Config{ServiceName: "formsync-test", SampleRatio: 1}, &buf)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "collab.ApplyUpdate")
	if !span.IsRecording() {
		t.Error("span should be recording with a ratio of 1")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "collab.ApplyUpdate") {
		t.Errorf("exported output missing span name: %s", out)
	}
	if !strings.Contains(out, "formsync-test") {
		t.Errorf("exported output missing service name: %s", out)
	}
}

func TestProviderSamplesNothingAtZero(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(Config{ServiceName: "formsync-test", SampleRatio: 0}, &buf)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	defer span.End()
	if span.IsRecording() {
		t.Error("span should not be recording with a ratio of 0")
	}
}
