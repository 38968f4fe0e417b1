package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}
}

func TestStartSpan(t *testing.T) {
	exp := withTracing(t)

	ctx, span := StartSpan(context.Background(), "device.open_audio_channel")
	id := TraceID(ctx)
	span.End()

	if len(id) != 32 {
		t.Errorf("trace id %q, want 32 hex chars", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "device.open_audio_channel" {
		t.Fatalf("spans = %+v", spans)
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestLogger(t *testing.T) {
	withTracing(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span has trace_id: %s", buf)
	}
	buf.Reset()

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	Logger(ctx).Info("in span")
	out := buf.String()
	if !strings.Contains(out, "trace_id="+TraceID(ctx)) || !strings.Contains(out, "span_id=") {
		t.Errorf("log in span missing ids: %s", out)
	}
}
