package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/h2non/filetype"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/driver"
	"github.com/rs/zerolog"
)

// 进程级单调递增序号，重启后从 1 开始
var artifactSeq atomic.Uint64

func nextArtifactSeq() uint64 {
	return artifactSeq.Add(1)
}

// ArtifactIndex 快照索引（由 storage.BoltDB 实现）
type ArtifactIndex interface {
	RecordArtifact(artifact *models.DebugArtifact) error
}

// CollectorConfig 快照采集配置
type CollectorConfig struct {
	Dir      string // 为空时不落盘，只记录元数据
	Markdown bool   // 同时保存页面的 Markdown 版本，方便阅读
	Index    ArtifactIndex
}

// Collector 调试快照采集器，自身从不返回错误
type Collector struct {
	cfg       CollectorConfig
	converter *md.Converter
	mu        sync.Mutex // 保护 timeline.jsonl 追加
}

const timelineFile = "timeline.jsonl"

func NewCollector(cfg CollectorConfig) *Collector {
	c := &Collector{cfg: cfg}
	if cfg.Markdown {
		c.converter = md.NewConverter("", true, nil)
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			logger.Warn(context.Background(), "Failed to create artifact directory %s: %v", cfg.Dir, err)
		}
	}
	return c
}

// Dir 快照目录
func (c *Collector) Dir() string {
	if c == nil {
		return ""
	}
	return c.cfg.Dir
}

var unsafePhaseChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func fileSafePhase(phase string) string {
	safe := strings.Trim(unsafePhaseChars.ReplaceAllString(phase, "-"), "-")
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// Capture 保存截图和页面结构快照。任何一部分失败都只留空对应字段并标记 Partial；
// 没有配置目录时只记录元数据，不算 Partial。
func (c *Collector) Capture(ctx context.Context, drv driver.Driver, phase string) (artifact models.DebugArtifact) {
	artifact = models.DebugArtifact{
		Seq:        nextArtifactSeq(),
		Phase:      phase,
		CapturedAt: time.Now(),
		RunID:      logger.GetRunID(ctx),
	}

	defer func() {
		if r := recover(); r != nil {
			artifact.Partial = true
			logger.Error(ctx, "Artifact capture for %s panicked: %v", phase, r)
		}
		c.record(ctx, &artifact)
	}()

	if drv == nil {
		artifact.Partial = true
		return artifact
	}

	if url, err := drv.CurrentURL(ctx); err == nil {
		artifact.URL = url
	}

	base := fmt.Sprintf("%06d_%s_%d", artifact.Seq, fileSafePhase(phase), artifact.CapturedAt.Unix())

	if shot, err := drv.VisualSnapshot(ctx); err != nil || len(shot) == 0 {
		artifact.Partial = true
		logger.Warn(ctx, "Failed to take screenshot for %s: %v", phase, err)
	} else {
		artifact.ScreenshotPath = c.write(ctx, base+"."+imageExtension(shot), shot)
		if artifact.ScreenshotPath == "" && c.cfg.Dir != "" {
			artifact.Partial = true
		}
	}

	html, err := drv.PageSnapshot(ctx)
	if err != nil {
		artifact.Partial = true
		logger.Warn(ctx, "Failed to read page source for %s: %v", phase, err)
		return artifact
	}
	artifact.HTMLPath = c.write(ctx, base+".html", []byte(html))
	if artifact.HTMLPath == "" && c.cfg.Dir != "" {
		artifact.Partial = true
	}

	if c.converter != nil && c.cfg.Dir != "" {
		if markdown, err := c.converter.ConvertString(html); err != nil {
			logger.Debug(ctx, "Failed to convert page to markdown for %s: %v", phase, err)
		} else {
			artifact.MarkdownPath = c.write(ctx, base+".md", []byte(markdown))
		}
	}

	return artifact
}

// imageExtension 按文件头识别图片格式，识别失败时默认 png
func imageExtension(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return "png"
	}
	return kind.Extension
}

func (c *Collector) write(ctx context.Context, name string, data []byte) string {
	if c.cfg.Dir == "" {
		return ""
	}
	path := filepath.Join(c.cfg.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn(ctx, "Failed to write artifact %s: %v", path, err)
		return ""
	}
	return path
}

// record 追加到 timeline.jsonl 并写入索引
func (c *Collector) record(ctx context.Context, artifact *models.DebugArtifact) {
	if artifact.Partial {
		logger.Warn(ctx, "Captured partial artifact #%d (%s)", artifact.Seq, artifact.Phase)
	} else {
		logger.Info(ctx, "Captured artifact #%d (%s)", artifact.Seq, artifact.Phase)
	}

	if c.cfg.Dir != "" {
		c.appendTimeline(ctx, artifact)
	}
	if c.cfg.Index != nil {
		if err := c.cfg.Index.RecordArtifact(artifact); err != nil {
			logger.Warn(ctx, "Failed to index artifact #%d: %v", artifact.Seq, err)
		}
	}
}

func (c *Collector) appendTimeline(ctx context.Context, artifact *models.DebugArtifact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(c.cfg.Dir, timelineFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn(ctx, "Failed to open artifact timeline: %v", err)
		return
	}
	defer f.Close()

	timeline := zerolog.New(f)
	timeline.Log().
		Time("captured_at", artifact.CapturedAt).
		Uint64("seq", artifact.Seq).
		Str("phase", artifact.Phase).
		Str("run_id", artifact.RunID).
		Str("url", artifact.URL).
		Str("screenshot", baseName(artifact.ScreenshotPath)).
		Str("html", baseName(artifact.HTMLPath)).
		Bool("partial", artifact.Partial).
		Msg("artifact")
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
