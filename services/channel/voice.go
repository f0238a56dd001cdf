package channel

import (
	"context"

	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/services/content"
	"github.com/quotewing/quotewing/services/engine"
)

// VoiceChannel 通过浏览器登录网页短信服务逐个发送
type VoiceChannel struct {
	engine *engine.Engine
	creds  models.Credentials
}

func NewVoiceChannel(eng *engine.Engine, creds models.Credentials) *VoiceChannel {
	return &VoiceChannel{engine: eng, creds: creds}
}

func (v *VoiceChannel) Name() string {
	return NameVoice
}

func (v *VoiceChannel) Deliver(ctx context.Context, msg content.Message, recipients []string) (*Delivery, error) {
	jobs := make([]models.RecipientJob, 0, len(recipients))
	for _, r := range recipients {
		jobs = append(jobs, models.RecipientJob{Destination: r, Body: msg.Text})
	}

	out := v.engine.Run(ctx, v.creds, jobs)
	auth := out.Auth
	return &Delivery{Auth: &auth, Report: out.Report}, nil
}
