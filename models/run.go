package models

import "time"

// RunStatus 一次每日投递运行的状态
type RunStatus string

const (
	RunSkipped          RunStatus = "skipped"
	RunDelivered        RunStatus = "delivered"
	RunPartial          RunStatus = "partial"
	RunFailed           RunStatus = "failed"
	RunChallengeBlocked RunStatus = "challenge_blocked"
	RunDryRun           RunStatus = "dry_run"
)

// RunRecord 持久化的运行记录
type RunRecord struct {
	ID         string         `json:"id"`
	Channel    string         `json:"channel"`
	Catalog    string         `json:"catalog"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ItemIndex  int            `json:"item_index"`  // 从 0 开始
	ItemNumber int            `json:"item_number"` // 展示用，从 1 开始
	Message    string         `json:"message,omitempty"`
	Status     RunStatus      `json:"status"`
	Auth       *AuthOutcome   `json:"auth,omitempty"`
	Report     DeliveryReport `json:"report,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// History 防重复历史，Recent 按时间从旧到新
type History struct {
	Catalog      string    `json:"catalog"`
	Recent       []int     `json:"recent"`
	LastSentDate string    `json:"last_sent_date"` // 2006-01-02
	UpdatedAt    time.Time `json:"updated_at"`
}
