package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryIndex struct {
	artifacts []models.DebugArtifact
}

func (m *memoryIndex) RecordArtifact(a *models.DebugArtifact) error {
	m.artifacts = append(m.artifacts, *a)
	return nil
}

func TestCaptureWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	index := &memoryIndex{}
	c := NewCollector(CollectorConfig{Dir: dir, Markdown: true, Index: index})
	f := newFakeDriver()
	f.url = testMessagesURL
	f.html = "<html><body><h1>Messages</h1><p>Nothing here</p></body></html>"

	ctx := logger.WithRunID(context.Background(), "run-1")
	a := c.Capture(ctx, f, "password:attempt-3")

	assert.False(t, a.Partial)
	assert.Equal(t, "password:attempt-3", a.Phase)
	assert.Equal(t, testMessagesURL, a.URL)
	assert.Equal(t, "run-1", a.RunID)
	assert.NotZero(t, a.Seq)

	require.NotEmpty(t, a.ScreenshotPath)
	assert.Equal(t, ".png", filepath.Ext(a.ScreenshotPath))
	assert.True(t, strings.Contains(filepath.Base(a.ScreenshotPath), "_password-attempt-3_"))
	assert.FileExists(t, a.ScreenshotPath)

	html, err := os.ReadFile(a.HTMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Messages</h1>")

	markdown, err := os.ReadFile(a.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(markdown), "Messages")
	assert.NotContains(t, string(markdown), "<h1>")

	timeline, err := os.ReadFile(filepath.Join(dir, timelineFile))
	require.NoError(t, err)
	assert.Contains(t, string(timeline), `"phase":"password:attempt-3"`)
	assert.Contains(t, string(timeline), `"run_id":"run-1"`)

	require.Len(t, index.artifacts, 1)
	assert.Equal(t, a.Seq, index.artifacts[0].Seq)
}

func TestCapturePartialWhenScreenshotFails(t *testing.T) {
	c := NewCollector(CollectorConfig{Dir: t.TempDir()})
	f := newFakeDriver()
	f.screenshotErr = errors.New("target closed")

	a := c.Capture(context.Background(), f, "send")

	assert.True(t, a.Partial)
	assert.Empty(t, a.ScreenshotPath)
	assert.NotEmpty(t, a.HTMLPath)
	assert.Empty(t, a.MarkdownPath)
}

func TestCapturePartialWhenNothingAvailable(t *testing.T) {
	c := NewCollector(CollectorConfig{Dir: t.TempDir()})
	f := newFakeDriver()
	f.screenshotErr = errors.New("target closed")
	f.snapshotErr = errors.New("target closed")

	a := c.Capture(context.Background(), f, "verify")
	assert.True(t, a.Partial)
	assert.Empty(t, a.ScreenshotPath)
	assert.Empty(t, a.HTMLPath)

	a = c.Capture(context.Background(), nil, "verify")
	assert.True(t, a.Partial)
}

func TestCaptureWithoutDirIsMetadataOnly(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	f := newFakeDriver()
	f.url = testMessagesURL

	a := c.Capture(context.Background(), f, "verify")
	assert.False(t, a.Partial)
	assert.Equal(t, testMessagesURL, a.URL)
	assert.Empty(t, a.ScreenshotPath)
	assert.Empty(t, a.HTMLPath)

	// 没有目录时，快照失败仍然标记 Partial
	f.screenshotErr = errors.New("target closed")
	a = c.Capture(context.Background(), f, "verify")
	assert.True(t, a.Partial)
}

func TestCapturePartialWhenWriteFails(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	c := NewCollector(CollectorConfig{Dir: dir})
	require.NoError(t, os.RemoveAll(dir))

	a := c.Capture(context.Background(), newFakeDriver(), "send")
	assert.True(t, a.Partial)
	assert.Empty(t, a.HTMLPath)
}

func TestCaptureSequenceIsMonotonic(t *testing.T) {
	c := NewCollector(CollectorConfig{})
	f := newFakeDriver()

	first := c.Capture(context.Background(), f, "one")
	second := c.Capture(context.Background(), f, "two")
	other := NewCollector(CollectorConfig{}).Capture(context.Background(), f, "three")

	assert.Greater(t, second.Seq, first.Seq)
	assert.Greater(t, other.Seq, second.Seq, "sequence is shared by all collectors")
}

func TestFileSafePhase(t *testing.T) {
	assert.Equal(t, "password-attempt-3", fileSafePhase("password:attempt-3"))
	assert.Equal(t, "send--15551234567", fileSafePhase("send-+15551234567"))
	assert.Equal(t, "unnamed", fileSafePhase("::"))
}
