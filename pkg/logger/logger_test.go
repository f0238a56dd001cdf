package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))

	ctx = WithRunID(WithTraceID(ctx, "trace-1"), "run-1")
	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
}

func TestEntryCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newLogrusLogger(logrus.DebugLevel, &buf)

	ctx := WithRunID(WithTraceID(context.Background(), "trace-1"), "run-1")
	l.Info(ctx, "sent %d messages", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "info", line["level"])
	assert.Contains(t, line["msg"], "sent 2 messages")
}

func TestCallerNameSkipsLoggerFrames(t *testing.T) {
	var buf bytes.Buffer
	prev := defaultLogger
	defaultLogger = newLogrusLogger(logrus.DebugLevel, &buf)
	t.Cleanup(func() { defaultLogger = prev })

	Info(context.Background(), "through package function")
	defaultLogger.Warn(context.Background(), "through interface")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	for _, raw := range lines {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		assert.Contains(t, line["msg"], "[TestCallerNameSkipsLoggerFrames]")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newLogrusLogger(logrus.WarnLevel, &buf)

	l.Info(context.Background(), "hidden")
	l.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	l.Error(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := defaultLogger
	t.Cleanup(func() { defaultLogger = prev })

	path := filepath.Join(t.TempDir(), "quotewing.log")
	InitLogger(&LoggerConfig{Level: "debug", File: path})

	Debug(context.Background(), "hello %s", "file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
}
