package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestWithContext(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func(t *testing.T) context.Context
		want    map[string]string
		missing []string
	}{
		{
			name:    "empty context",
			ctx:     func(*testing.T) context.Context { return context.Background() },
			missing: []string{"request_id", "user_id", "org_id", "trace_id", "span_id"},
		},
		{
			name: "request id only",
			ctx: func(*testing.T) context.Context {
				return WithRequestID(context.Background(), "req-123")
			},
			want:    map[string]string{"request_id": "req-123"},
			missing: []string{"user_id", "org_id", "trace_id"},
		},
		{
			name: "span only",
			ctx:  spanContext,
			want: map[string]string{
				"trace_id": "4bf92f3577b34da6a3ce929d0e0e4736",
				"span_id":  "00f067aa0ba902b7",
			},
			missing: []string{"request_id"},
		},
		{
			name: "everything",
			ctx: func(t *testing.T) context.Context {
				ctx := WithRequestID(spanContext(t), "req-1")
				ctx = WithUserID(ctx, "user-1")
				return WithOrgID(ctx, "org-1")
			},
			want: map[string]string{
				"request_id": "req-1",
				"user_id":    "user-1",
				"org_id":     "org-1",
				"trace_id":   "4bf92f3577b34da6a3ce929d0e0e4736",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			WithContext(tt.ctx(t), NewWithWriter("sandbox", "info", &buf)).Info("invoice posted")

			out := decodeLine(t, &buf)
			for k, v := range tt.want {
				assert.Equal(t, v, out[k], k)
			}
			for _, k := range tt.missing {
				assert.NotContains(t, out, k)
			}
		})
	}
}

func TestWithContext_NoFieldsReturnsSameLogger(t *testing.T) {
	l := Discard()
	assert.Same(t, l, WithContext(context.Background(), l))
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, OrgIDFromContext(ctx))
}

func TestFromContext(t *testing.T) {
	l := Discard()
	assert.Same(t, l, FromContext(NewContext(context.Background(), l)))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("aptbooks-cli", "warn", &buf)

	l.Info("dropped")
	assert.Zero(t, buf.Len())

	l.Warn("kept", slog.String("path", "/auth/refresh"))
	out := decodeLine(t, &buf)
	assert.Equal(t, "aptbooks-cli", out["component"])
	assert.Equal(t, "WARN", out["level"])
	assert.Equal(t, "/auth/refresh", out["path"])
	assert.NotContains(t, out, "source")
}

func TestNewWithWriter_DebugAddsSource(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("sandbox", "DEBUG", &buf).Debug("x")

	assert.Contains(t, decodeLine(t, &buf), "source")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

