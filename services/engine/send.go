package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/driver"
)

// NormalizeDestination 只保留数字和开头的 "+"
func NormalizeDestination(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SendAll 按输入顺序逐个发送，单个收件人失败不影响后面的收件人。
// 返回的报告长度总是等于 jobs 的长度。
func SendAll(ctx context.Context, sess *Session, jobs []models.RecipientJob) models.DeliveryReport {
	report := make(models.DeliveryReport, 0, len(jobs))
	for i, job := range jobs {
		destination := NormalizeDestination(job.Destination)

		if i > 0 && ctx.Err() == nil {
			_ = sess.wait(ctx, sess.opts.InterJobDelay)
		}
		if ctx.Err() != nil {
			report = append(report, models.DeliveryResult{
				Destination: destination,
				Outcome:     models.OutcomeFailed,
				Reason:      "cancelled",
				ErrorKind:   KindCancelled,
			})
			continue
		}

		logger.Info(ctx, "Sending message %d/%d to %s", i+1, len(jobs), destination)
		result := sendOne(ctx, sess, destination, job.Body)
		if result.Outcome == models.OutcomeSent {
			if result.Unconfirmed {
				logger.Warn(ctx, "Message to %s sent without confirmation: %s", destination, result.Warning)
			} else {
				logger.Info(ctx, "Message to %s sent", destination)
			}
		} else {
			logger.Error(ctx, "Message to %s failed: %s", destination, result.Reason)
		}
		report = append(report, result)
	}

	logger.Info(ctx, "Batch finished: %d sent, %d failed, %d unconfirmed",
		report.SentCount(), report.FailedCount(), report.UnconfirmedCount())
	return report
}

// sendOne 单个收件人的发送流程，任何失败（包括 panic）都在这里收口
func sendOne(ctx context.Context, sess *Session, destination, body string) (result models.DeliveryResult) {
	result = models.DeliveryResult{Destination: destination}
	captured := false
	committed := false

	failJob := func(err error) {
		if !captured && Classify(err) != KindCancelled {
			result.Artifacts = append(result.Artifacts, sess.Capture(ctx, "send-"+destination))
		}
		result.Outcome = models.OutcomeFailed
		result.Reason = classify(ErrJobFailed, err, "send to %s", destination).Error()
		result.ErrorKind = Classify(err)
		result.Unconfirmed = false
		result.Warning = ""
	}

	defer func() {
		if r := recover(); r != nil {
			if committed {
				result.Outcome = models.OutcomeSent
				result.Unconfirmed = true
				result.Warning = fmt.Sprintf("confirmation check failed: %v", r)
				return
			}
			failJob(classify(ErrInteractionFailed, errors.Errorf("panic: %v", r), "send to %s", destination))
		}
	}()

	if destination == "" {
		result.Outcome = models.OutcomeFailed
		result.Reason = "destination has no digits"
		result.ErrorKind = KindJobFailed
		return result
	}

	drv := sess.Driver()
	opts := sess.opts
	locs := opts.Locators

	run := func(step string, fn StepFunc) error {
		res := Attempt(ctx, sess, step, opts.Policy, fn)
		result.Attempts += res.Invocations()
		if res.Artifact != nil {
			result.Artifacts = append(result.Artifacts, *res.Artifact)
			captured = true
		}
		return res.Err
	}

	steps := []struct {
		name string
		fn   StepFunc
	}{
		{"compose", func(ctx context.Context, attempt int) error {
			el, _, err := Resolve(ctx, drv, locs.ComposeButton, opts.FindTimeout)
			if err != nil {
				return err
			}
			if err := drv.Click(ctx, el); err != nil {
				return classify(ErrInteractionFailed, err, "open compose")
			}
			return nil
		}},
		{"destination", func(ctx context.Context, attempt int) error {
			el, _, err := Resolve(ctx, drv, locs.DestinationField, opts.FindTimeout)
			if err != nil {
				return err
			}
			if err := drv.Type(ctx, el, destination, opts.TypeDelay); err != nil {
				return classify(ErrInteractionFailed, err, "type destination")
			}
			if opts.PressEnterAfterDestination {
				if presser, ok := drv.(driver.KeyPresser); ok {
					if err := presser.PressEnter(ctx); err != nil {
						return classify(ErrInteractionFailed, err, "confirm destination")
					}
				}
			}
			return nil
		}},
		{"message", func(ctx context.Context, attempt int) error {
			el, _, err := Resolve(ctx, drv, locs.MessageField, opts.FindTimeout)
			if err != nil {
				return err
			}
			if err := drv.Type(ctx, el, body, opts.TypeDelay); err != nil {
				return classify(ErrInteractionFailed, err, "type message")
			}
			return nil
		}},
		// 发送按钮点击成功即提交，不会再重复点击
		{"send", func(ctx context.Context, attempt int) error {
			el, _, err := Resolve(ctx, drv, locs.SendButton, opts.FindTimeout)
			if err != nil {
				return err
			}
			if err := drv.Click(ctx, el); err != nil {
				return classify(ErrInteractionFailed, err, "click send")
			}
			return nil
		}},
	}

	for _, step := range steps {
		if err := run(step.name, step.fn); err != nil {
			failJob(err)
			return result
		}
	}
	committed = true

	result.Outcome = models.OutcomeSent
	if !confirmSent(ctx, drv, locs.SentIndicator, opts.ConfirmTimeout) {
		result.Unconfirmed = true
		result.Warning = fmt.Sprintf("no sent indicator within %v", opts.ConfirmTimeout)
	}
	result.Artifacts = append(result.Artifacts, sess.checkpoint(ctx, "sent-"+destination)...)
	return result
}

// confirmSent 在 timeout 内等待"已发送"提示。timeout 是所有候选共用的总时长，
// 平分给每个候选，整体再受一个截止时间约束
func confirmSent(ctx context.Context, drv driver.Driver, loc models.Locator, timeout time.Duration) bool {
	perCandidate := timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
		if n := loc.Len(); n > 1 {
			perCandidate = timeout / time.Duration(n)
		}
	}
	_, _, err := Resolve(ctx, drv, loc, perCandidate)
	return err == nil
}
