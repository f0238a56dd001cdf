package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/content"
	"github.com/wneessen/go-mail"
)

// mailSender 发送已构造好的邮件（测试中替换）
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailChannel 通过 SMTP（STARTTLS）把同一封 HTML 邮件发给所有收件人。
// 配置了 email.recipient_emails 时忽略传入的收件人。
type EmailChannel struct {
	cfg       *config.EmailConfig
	newSender func() (mailSender, error)
}

func NewEmailChannel(cfg *config.EmailConfig) *EmailChannel {
	e := &EmailChannel{cfg: cfg}
	e.newSender = e.dial
	return e
}

func (e *EmailChannel) Name() string {
	return NameEmail
}

func (e *EmailChannel) dial() (mailSender, error) {
	timeout := e.cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return mail.NewClient(e.cfg.SMTPServer,
		mail.WithPort(e.cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.SenderEmail),
		mail.WithPassword(e.cfg.SenderPassword),
		mail.WithTimeout(timeout),
	)
}

// buildMessage 构造 HTML 邮件，附带纯文本版本
func (e *EmailChannel) buildMessage(msg content.Message, recipients []string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.cfg.SenderEmail, err)
	}
	if err := m.To(recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
	return m, nil
}

func (e *EmailChannel) Deliver(ctx context.Context, msg content.Message, recipients []string) (*Delivery, error) {
	if len(e.cfg.Recipients) > 0 {
		recipients = e.cfg.Recipients
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipient emails specified")
	}
	if e.cfg.SenderEmail == "" {
		return nil, fmt.Errorf("email channel requires a sender address")
	}

	m, err := e.buildMessage(msg, recipients)
	if err != nil {
		return nil, err
	}

	sender, err := e.newSender()
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	if err := sender.DialAndSendWithContext(ctx, m); err != nil {
		logger.Error(ctx, "Failed to send email to %d recipients: %v", len(recipients), err)
		return &Delivery{Report: sameOutcome(recipients, err)}, nil
	}

	logger.Info(ctx, "Email sent to %d recipients", len(recipients))
	return &Delivery{Report: sameOutcome(recipients, nil)}, nil
}
