package log

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContextWithLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	ctx, flush := NewContextWithLogger(context.Background(), Options{JSON: true, Out: &buf})

	logger := Component(ctx, "publisher")
	logger.Info().Str("path", "/tmp/CONTEXT.md").Msg("published")
	flush()

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "publisher", entry["component"])
	assert.Equal(t, "published", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewContextWithLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	ctx, flush := NewContextWithLogger(context.Background(), Options{Out: &buf})
	FromCtx(ctx).Debug().Msg("hidden")
	flush()
	assert.NotContains(t, buf.String(), "hidden")

	buf.Reset()
	ctx, flush = NewContextWithLogger(context.Background(), Options{Debug: true, Out: &buf})
	FromCtx(ctx).Debug().Msg("visible")
	// diode flushes asynchronously; Close drains it.
	flush()
	time.Sleep(10 * time.Millisecond)
	assert.Contains(t, buf.String(), "visible")
}
