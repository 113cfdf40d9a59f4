package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "prod")

	logger.Info().Msg("dropped")
	logger.Warn().Str("therapist_id", "t1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "t1", line["therapist_id"])
	assert.Equal(t, "warn", line["level"])
}

func TestNewWithWriter_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "prod")

	logger.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestTraceHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "prod")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	logger.Info().Ctx(ctx).Msg("traced")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, sc.TraceID().String(), line["trace_id"])
	assert.Equal(t, sc.SpanID().String(), line["span_id"])

	buf.Reset()
	logger.Info().Ctx(context.Background()).Msg("untraced")
	assert.NotContains(t, buf.String(), "trace_id")
}
