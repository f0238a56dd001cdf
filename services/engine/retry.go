package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
)

// Policy 重试策略，退避是确定的且有上限
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // 0 表示不设上限
	Exponential bool
}

// Delay 第 attempt 次失败后的等待时间
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		return 0
	}
	if p.Exponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				return p.MaxDelay
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// StepFunc 一次尝试，attempt 从 1 开始
type StepFunc func(ctx context.Context, attempt int) error

// StepResult 重试执行器的结果，执行器从不抛出原始错误或 panic
type StepResult struct {
	Step     string
	Attempts []models.RetryAttempt
	Err      error
	Artifact *models.DebugArtifact // 仅在全部尝试失败时存在
}

func (r StepResult) OK() bool {
	return r.Err == nil
}

// Invocations 实际调用 step 的次数
func (r StepResult) Invocations() int {
	return len(r.Attempts)
}

// Attempt 最多执行 policy.MaxAttempts 次 fn。
// 全部失败时采集一次调试快照（phase 为 "<step>:attempt-<n>"），并返回包装了最后一次错误的 ErrRetryExhausted。
// 挑战、限流和取消会立即停止，不采集快照。
func Attempt(ctx context.Context, sess *Session, step string, policy Policy, fn StepFunc) StepResult {
	res := StepResult{Step: step}
	maxAttempts := policy.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.Err = cancelled(ctx, step)
			return res
		}

		err := invoke(ctx, step, attempt, fn)
		record := models.RetryAttempt{Step: step, Attempt: attempt}
		if err == nil {
			record.Outcome = "ok"
			res.Attempts = append(res.Attempts, record)
			if attempt > 1 {
				logger.Info(ctx, "Step %s succeeded on attempt %d/%d", step, attempt, maxAttempts)
			}
			return res
		}

		lastErr = err
		record.Outcome = Classify(err)
		record.Err = err.Error()

		if !retryable(err) {
			res.Attempts = append(res.Attempts, record)
			res.Err = err
			logger.Warn(ctx, "Step %s stopped on attempt %d: %v", step, attempt, err)
			return res
		}

		if attempt == maxAttempts {
			res.Attempts = append(res.Attempts, record)
			break
		}

		delay := policy.Delay(attempt)
		record.Delay = delay
		res.Attempts = append(res.Attempts, record)
		logger.Warn(ctx, "Step %s failed on attempt %d/%d, retrying in %v: %v", step, attempt, maxAttempts, delay, err)

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Err = cancelled(ctx, step)
				return res
			case <-timer.C:
			}
		}
	}

	artifact := sess.Capture(ctx, fmt.Sprintf("%s:attempt-%d", step, maxAttempts))
	res.Artifact = &artifact
	res.Err = classify(ErrRetryExhausted, lastErr, "%s failed after %d attempts", step, maxAttempts)
	logger.Error(ctx, "Step %s exhausted %d attempts: %v", step, maxAttempts, lastErr)
	return res
}

// invoke 执行一次尝试，panic 和未声明的错误都转成交互失败
func invoke(ctx context.Context, step string, attempt int, fn StepFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = classify(ErrInteractionFailed, errors.Errorf("panic: %v", r), "%s attempt %d", step, attempt)
		}
	}()

	err = fn(ctx, attempt)
	if err != nil && !declared(err) {
		err = classify(ErrInteractionFailed, err, "%s attempt %d", step, attempt)
	}
	return err
}
