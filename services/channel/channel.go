// Package channel 可替换的投递渠道：网页短信（浏览器自动化）、短信 API 和邮件
package channel

import (
	"context"
	"fmt"

	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/services/content"
	"github.com/quotewing/quotewing/services/engine"
)

const (
	NameVoice = "voice"
	NameSMS   = "sms"
	NameEmail = "email"
)

// Delivery 一次投递的结果；只有网页渠道有认证结果
type Delivery struct {
	Auth   *models.AuthOutcome
	Report models.DeliveryReport
}

// Channel 投递渠道。返回的 error 只表示渠道本身无法工作（配置错误等），
// 单个收件人的失败记录在 Report 中。
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg content.Message, recipients []string) (*Delivery, error)
}

// New 按名称创建渠道，voice 渠道需要引擎
func New(name string, cfg *config.Config, eng *engine.Engine) (Channel, error) {
	switch name {
	case NameVoice:
		if eng == nil {
			return nil, fmt.Errorf("voice channel requires a browser engine")
		}
		return NewVoiceChannel(eng, models.Credentials{Account: cfg.Voice.Email, Secret: cfg.Voice.Password}), nil
	case NameSMS:
		return NewSMSChannel(cfg.SMS), nil
	case NameEmail:
		return NewEmailChannel(cfg.Email), nil
	}
	return nil, fmt.Errorf("unknown channel %q", name)
}

// sameOutcome 所有收件人共享一个结果（邮件一次发给所有人）
func sameOutcome(recipients []string, err error) models.DeliveryReport {
	report := make(models.DeliveryReport, 0, len(recipients))
	for _, r := range recipients {
		result := models.DeliveryResult{Destination: r, Outcome: models.OutcomeSent, Attempts: 1}
		if err != nil {
			result.Outcome = models.OutcomeFailed
			result.Reason = err.Error()
			result.ErrorKind = engine.KindJobFailed
		}
		report = append(report, result)
	}
	return report
}
