package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/daily"
	"github.com/quotewing/quotewing/storage"
)

const (
	artifactFilesPrefix = "/files/artifacts"
	defaultListLimit    = 20
	maxListLimit        = 200
)

// Store 接口需要的存储操作（由 storage.BoltDB 实现）
type Store interface {
	ListRuns(limit int) ([]*models.RunRecord, error)
	GetRun(id string) (*models.RunRecord, error)
	GetHistory(catalog string) (*models.History, error)
	ListArtifacts(runID string, limit int) ([]*models.DebugArtifact, error)
}

// Runner 触发一次投递（由 daily.Service 实现）
type Runner interface {
	RunOnce(ctx context.Context, opts daily.RunOptions) (*models.RunRecord, error)
}

type Handler struct {
	db     Store
	runner Runner
	config *config.Config
}

func NewHandler(db Store, runner Runner, cfg *config.Config) *Handler {
	return &Handler{
		db:     db,
		runner: runner,
		config: cfg,
	}
}

// ============= 运行记录 =============

// ListRuns 列出最近的运行记录
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.db.ListRuns(queryLimit(c))
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.listRunsFailed"})
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetRun 获取单个运行记录
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.db.GetRun(c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "error.runNotFound"})
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get run: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.getRunFailed"})
		return
	}

	c.JSON(http.StatusOK, run)
}

// TriggerRun 同步执行一次投递，请求体可为空
func (h *Handler) TriggerRun(c *gin.Context) {
	var req daily.RunOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "error.invalidParams"})
			return
		}
	}

	run, err := h.runner.RunOnce(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
			"run":   run,
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// ============= 历史 =============

// GetHistory 获取语录库的发送历史，默认为配置中的语录库
func (h *Handler) GetHistory(c *gin.Context) {
	catalog := c.DefaultQuery("catalog", h.config.Content.Catalog)
	history, err := h.db.GetHistory(catalog)
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to get history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.getHistoryFailed"})
		return
	}

	c.JSON(http.StatusOK, history)
}

// ============= 调试快照 =============

type artifactView struct {
	*models.DebugArtifact
	ScreenshotURL string `json:"screenshot_url,omitempty"`
	HTMLURL       string `json:"html_url,omitempty"`
	MarkdownURL   string `json:"markdown_url,omitempty"`
}

// ListArtifacts 列出调试快照，附带可直接访问的文件地址
func (h *Handler) ListArtifacts(c *gin.Context) {
	artifacts, err := h.db.ListArtifacts(c.Query("run_id"), queryLimit(c))
	if err != nil {
		logger.Error(c.Request.Context(), "Failed to list artifacts: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error.listArtifactsFailed"})
		return
	}

	views := make([]artifactView, 0, len(artifacts))
	for _, a := range artifacts {
		views = append(views, artifactView{
			DebugArtifact: a,
			ScreenshotURL: artifactURL(a.ScreenshotPath),
			HTMLURL:       artifactURL(a.HTMLPath),
			MarkdownURL:   artifactURL(a.MarkdownPath),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"artifacts": views,
		"total":     len(views),
	})
}

func artifactURL(path string) string {
	if path == "" {
		return ""
	}
	return artifactFilesPrefix + "/" + filepath.Base(path)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
