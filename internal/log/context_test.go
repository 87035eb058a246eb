// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("empty context should yield empty request id, got %q", got)
	}

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithRunID(ctx, "run-9")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}
	if got := RunIDFromContext(ctx); got != "run-9" {
		t.Errorf("run id = %q, want run-9", got)
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	ctx = ContextWithRunID(ctx, "run-7")

	tagged := WithContext(ctx, base)
	tagged.Info().Msg("tagged")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if fields["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", fields["request_id"])
	}
	if fields["run_id"] != "run-7" {
		t.Errorf("run_id = %v, want run-7", fields["run_id"])
	}
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	plain := WithContext(context.Background(), base)
	plain.Info().Msg("plain")

	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, ok := fields["request_id"]; ok {
		t.Error("unexpected request_id on logger with empty context")
	}
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext returned nil")
	}
	if l.GetLevel() == zerolog.Disabled {
		t.Error("fallback logger must not be disabled")
	}
}

func TestFromContextPrefersContextLogger(t *testing.T) {
	var buf bytes.Buffer
	embedded := zerolog.New(&buf).With().Str("component", "test").Logger()
	ctx := embedded.WithContext(context.Background())

	FromContext(ctx).Info().Msg("via context")

	if buf.Len() == 0 {
		t.Error("expected the context-embedded logger to receive the write")
	}
}
