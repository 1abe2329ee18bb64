// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CaseVault Contributors

package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/casevault/casevault/internal/logging"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSetup(t *testing.T) {
	t.Run("json output carries service identity", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("casevault", "1.2.3", "json", &buf)

		logger.Info("hello", "key", "value")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, "casevault", entry["service"])
		assert.Equal(t, "1.2.3", entry["version"])
		assert.Equal(t, "hello", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("text format produces readable output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("casevault", "1.2.3", "text", &buf)

		logger.Info("hello")

		assert.Contains(t, buf.String(), "msg=hello")
		assert.Contains(t, buf.String(), "service=casevault")
	})

	t.Run("trace context is stamped when present", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("casevault", "1.2.3", "json", &buf)

		traceID := trace.TraceID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
		spanID := trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
		spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID,
			SpanID:  spanID,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

		logger.InfoContext(ctx, "traced")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, traceID.String(), entry["trace_id"])
		assert.Equal(t, spanID.String(), entry["span_id"])
	})

	t.Run("no trace attributes without a span", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("casevault", "1.2.3", "json", &buf)

		logger.InfoContext(context.Background(), "untraced")

		entry := parseLogLine(t, &buf)
		assert.NotContains(t, entry, "trace_id")
		assert.NotContains(t, entry, "span_id")
	})

	t.Run("with attrs preserves the wrapper", func(t *testing.T) {
		var buf bytes.Buffer
		logger := logging.Setup("casevault", "1.2.3", "json", &buf)

		logger.With("component", "auth").Info("scoped")

		entry := parseLogLine(t, &buf)
		assert.Equal(t, "auth", entry["component"])
		assert.Equal(t, "casevault", entry["service"])
	})
}
