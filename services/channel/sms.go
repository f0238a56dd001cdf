package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/content"
	"github.com/quotewing/quotewing/services/engine"
)

// SMSChannel Textbelt 兼容的短信 API，一次请求一个号码，不重试
type SMSChannel struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewSMSChannel(cfg *config.SMSConfig) *SMSChannel {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SMSChannel{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *SMSChannel) Name() string {
	return NameSMS
}

// smsResponse Textbelt 的响应
type smsResponse struct {
	Success        bool   `json:"success"`
	TextID         string `json:"textId,omitempty"`
	QuotaRemaining int    `json:"quotaRemaining,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *SMSChannel) Deliver(ctx context.Context, msg content.Message, recipients []string) (*Delivery, error) {
	if s.endpoint == "" || s.apiKey == "" {
		return nil, fmt.Errorf("sms channel requires endpoint and api key")
	}

	report := make(models.DeliveryReport, 0, len(recipients))
	for _, r := range recipients {
		phone := engine.NormalizeDestination(r)
		result := models.DeliveryResult{Destination: phone, Attempts: 1}

		if ctx.Err() != nil {
			result.Outcome = models.OutcomeFailed
			result.Reason = "cancelled"
			result.ErrorKind = engine.KindCancelled
			report = append(report, result)
			continue
		}

		resp, err := s.send(ctx, phone, msg.Text)
		switch {
		case err != nil:
			result.Outcome = models.OutcomeFailed
			result.Reason = err.Error()
			result.ErrorKind = engine.KindJobFailed
			logger.Error(ctx, "SMS to %s failed: %v", phone, err)
		case !resp.Success:
			result.Outcome = models.OutcomeFailed
			result.Reason = resp.Error
			result.ErrorKind = engine.KindJobFailed
			logger.Error(ctx, "SMS to %s rejected: %s", phone, resp.Error)
		default:
			result.Outcome = models.OutcomeSent
			logger.Info(ctx, "SMS to %s accepted (text id %s, quota remaining %d)", phone, resp.TextID, resp.QuotaRemaining)
		}
		report = append(report, result)
	}
	return &Delivery{Report: report}, nil
}

func (s *SMSChannel) send(ctx context.Context, phone, text string) (*smsResponse, error) {
	form := url.Values{
		"phone":   {phone},
		"message": {text},
		"key":     {s.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed smsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !parsed.Success && parsed.Error == "" {
		parsed.Error = fmt.Sprintf("provider rejected message (status %d)", resp.StatusCode)
	}
	return &parsed, nil
}
