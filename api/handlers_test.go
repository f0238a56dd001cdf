package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/services/daily"
	"github.com/quotewing/quotewing/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	opts []daily.RunOptions
	run  *models.RunRecord
	err  error
}

func (f *fakeRunner) RunOnce(ctx context.Context, opts daily.RunOptions) (*models.RunRecord, error) {
	f.opts = append(f.opts, opts)
	return f.run, f.err
}

func newTestRouter(t *testing.T, runner Runner) (*gin.Engine, *storage.BoltDB, *config.Config) {
	t.Helper()
	db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Artifacts.Dir = t.TempDir()

	r := SetupRouter(NewHandler(db, runner, cfg), false)
	gin.SetMode(gin.TestMode)
	return r, db, cfg
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeRunner{})

	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestTraceIDIsEchoed(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func TestListAndGetRuns(t *testing.T) {
	r, db, _ := newTestRouter(t, &fakeRunner{})
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, db.SaveRun(&models.RunRecord{
			ID:        id,
			Status:    models.RunDelivered,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	w := doRequest(r, http.MethodGet, "/api/v1/runs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []models.RunRecord `json:"runs"`
		Total int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "run-c", list.Runs[0].ID)
	assert.Equal(t, "run-b", list.Runs[1].ID)

	w = doRequest(r, http.MethodGet, "/api/v1/runs/run-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	var run models.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "run-a", run.ID)

	w = doRequest(r, http.MethodGet, "/api/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRunsEmpty(t *testing.T) {
	r, _, _ := newTestRouter(t, &fakeRunner{})

	w := doRequest(r, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[],"total":0}`, w.Body.String())
}

func TestTriggerRun(t *testing.T) {
	runner := &fakeRunner{run: &models.RunRecord{ID: "run-1", Status: models.RunDryRun}}
	r, _, _ := newTestRouter(t, runner)

	w := doRequest(r, http.MethodPost, "/api/v1/runs", `{"force":true,"channel":"sms","dry_run":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.opts, 1)
	assert.Equal(t, daily.RunOptions{Force: true, Channel: "sms", DryRun: true}, runner.opts[0])

	var run models.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.RunDryRun, run.Status)

	// 空请求体使用默认选项
	w = doRequest(r, http.MethodPost, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, runner.opts, 2)
	assert.Equal(t, daily.RunOptions{}, runner.opts[1])
}

func TestTriggerRunErrors(t *testing.T) {
	runner := &fakeRunner{
		run: &models.RunRecord{ID: "run-1", Status: models.RunFailed},
		err: errors.New("unknown catalog"),
	}
	r, _, _ := newTestRouter(t, runner)

	w := doRequest(r, http.MethodPost, "/api/v1/runs", `{"force":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, runner.opts)

	w = doRequest(r, http.MethodPost, "/api/v1/runs", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "unknown catalog")
}

func TestGetHistory(t *testing.T) {
	r, db, _ := newTestRouter(t, &fakeRunner{})
	require.NoError(t, db.SaveHistory(&models.History{Catalog: "proverbs", Recent: []int{4, 2}, LastSentDate: "2026-03-14"}))

	w := doRequest(r, http.MethodGet, "/api/v1/history?catalog=proverbs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history models.History
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, []int{4, 2}, history.Recent)
	assert.Equal(t, "2026-03-14", history.LastSentDate)

	// 默认使用配置中的语录库
	w = doRequest(r, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Equal(t, "meditations", history.Catalog)
	assert.Empty(t, history.Recent)
}

func TestListArtifactsAndFiles(t *testing.T) {
	r, db, cfg := newTestRouter(t, &fakeRunner{})

	screenshot := filepath.Join(cfg.Artifacts.Dir, "000001_password_1773475200.png")
	require.NoError(t, os.WriteFile(screenshot, []byte("png"), 0o644))
	now := time.Now()
	require.NoError(t, db.RecordArtifact(&models.DebugArtifact{Seq: 1, Phase: "password", CapturedAt: now, ScreenshotPath: screenshot, RunID: "run-1"}))
	require.NoError(t, db.RecordArtifact(&models.DebugArtifact{Seq: 2, Phase: "send-15550001111", CapturedAt: now.Add(time.Second), RunID: "run-2"}))

	w := doRequest(r, http.MethodGet, "/api/v1/artifacts?run_id=run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Artifacts []struct {
			Phase         string `json:"phase"`
			RunID         string `json:"run_id"`
			ScreenshotURL string `json:"screenshot_url"`
			HTMLURL       string `json:"html_url"`
		} `json:"artifacts"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "password", list.Artifacts[0].Phase)
	assert.Equal(t, "/files/artifacts/000001_password_1773475200.png", list.Artifacts[0].ScreenshotURL)
	assert.Empty(t, list.Artifacts[0].HTMLURL)

	w = doRequest(r, http.MethodGet, list.Artifacts[0].ScreenshotURL, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())

	w = doRequest(r, http.MethodGet, "/api/v1/artifacts", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "run-2", list.Artifacts[0].RunID)
}
