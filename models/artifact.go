package models

import "time"

// DebugArtifact 失败或检查点时保存的页面快照，创建后不再修改
type DebugArtifact struct {
	Seq            uint64    `json:"seq"`
	Phase          string    `json:"phase"`
	CapturedAt     time.Time `json:"captured_at"`
	URL            string    `json:"url,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	HTMLPath       string    `json:"html_path,omitempty"`
	MarkdownPath   string    `json:"markdown_path,omitempty"`
	Partial        bool      `json:"partial"` // 截图或页面源码有缺失
	RunID          string    `json:"run_id,omitempty"`
}

// RetryAttempt 单次尝试的临时记录，仅在当前步骤内使用
type RetryAttempt struct {
	Step    string        `json:"step"`
	Attempt int           `json:"attempt"`
	Outcome string        `json:"outcome"`
	Delay   time.Duration `json:"delay"`
	Err     string        `json:"error,omitempty"`
}
