package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/subl/internal/logger"
)

func TestContextAttrsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New("json", "info", &buf)

	ctx := logger.Ctx(context.Background(), slog.String("channel_id", "abc-chn"))
	l.InfoContext(ctx, "swept channel", "deleted", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "swept channel", line["msg"])
	assert.Equal(t, "abc-chn", line["channel_id"])
	assert.EqualValues(t, 3, line["deleted"])
}

func TestCtxDoesNotLeakBetweenSiblings(t *testing.T) {
	base := logger.Ctx(context.Background(), slog.String("a", "1"))

	left := logger.Ctx(base, slog.String("b", "left"))
	right := logger.Ctx(base, slog.String("b", "right"))

	assert.Len(t, logger.Attrs(base), 1)
	require.Len(t, logger.Attrs(left), 2)
	require.Len(t, logger.Attrs(right), 2)
	assert.Equal(t, "left", logger.Attrs(left)[1].Value.String())
	assert.Equal(t, "right", logger.Attrs(right)[1].Value.String())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New("text", "warn", &buf)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDerivedLoggerKeepsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New("json", "debug", &buf).With("component", "sweeper")

	ctx := logger.Ctx(context.Background(), slog.String("channel_id", "xyz-chn"))
	l.DebugContext(ctx, "checking")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sweeper", line["component"])
	assert.Equal(t, "xyz-chn", line["channel_id"])
}
