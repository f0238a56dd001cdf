package models

// Outcome 单个收件人的投递结果
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// RecipientJob 一个收件人的发送任务
type RecipientJob struct {
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

// DeliveryResult 每个 RecipientJob 恰好产生一个
type DeliveryResult struct {
	Destination string          `json:"destination"`
	Outcome     Outcome         `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Warning     string          `json:"warning,omitempty"`
	Unconfirmed bool            `json:"unconfirmed,omitempty"` // 已点击发送但未看到"已发送"提示
	Attempts    int             `json:"attempts,omitempty"`
	Artifacts   []DebugArtifact `json:"artifacts,omitempty"`
}

// DeliveryReport 按输入顺序排列的结果，不重排、不去重
type DeliveryReport []DeliveryResult

func (r DeliveryReport) SentCount() int {
	n := 0
	for _, res := range r {
		if res.Outcome == OutcomeSent {
			n++
		}
	}
	return n
}

func (r DeliveryReport) FailedCount() int {
	return len(r) - r.SentCount()
}

func (r DeliveryReport) UnconfirmedCount() int {
	n := 0
	for _, res := range r {
		if res.Unconfirmed {
			n++
		}
	}
	return n
}
