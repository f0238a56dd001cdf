package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// 错误分类，调用方用 errors.Is 判断
var (
	ErrLocatorNotFound   = errors.New("locator not found")
	ErrInteractionFailed = errors.New("interaction failed")
	ErrChallengeDetected = errors.New("security challenge detected")
	ErrRateLimited       = errors.New("rate limited by upstream")
	ErrRetryExhausted    = errors.New("retry exhausted")
	ErrJobFailed         = errors.New("job failed")
	ErrCancelled         = errors.New("cancelled")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// 报告和日志里使用的稳定分类名
const (
	KindLocatorNotFound   = "locator_not_found"
	KindInteractionFailed = "interaction_failed"
	KindChallengeDetected = "challenge_detected"
	KindRateLimited       = "rate_limited"
	KindRetryExhausted    = "retry_exhausted"
	KindJobFailed         = "job_failed"
	KindCancelled         = "cancelled"
	KindInvalidTransition = "invalid_transition"
	KindUnknown           = "unknown"
)

// classifiedError 同时匹配分类哨兵和底层原因
type classifiedError struct {
	kind  error
	msg   string
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.msg, e.kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.msg, e.kind, e.cause)
}

func (e *classifiedError) Is(target error) bool {
	return target == e.kind
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// classify 给 cause 打上分类，附带调用栈
func classify(kind error, cause error, format string, args ...any) error {
	return errors.WithStack(&classifiedError{
		kind:  kind,
		msg:   fmt.Sprintf(format, args...),
		cause: cause,
	})
}

func cancelled(ctx context.Context, what string) error {
	return classify(ErrCancelled, context.Cause(ctx), "%s", what)
}

// Classify 返回错误的分类名，越具体的终态越优先
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrChallengeDetected):
		return KindChallengeDetected
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, ErrLocatorNotFound):
		return KindLocatorNotFound
	case errors.Is(err, ErrInteractionFailed):
		return KindInteractionFailed
	case errors.Is(err, ErrJobFailed):
		return KindJobFailed
	default:
		return KindUnknown
	}
}

// declared 是否属于已知分类；未声明的错误按交互失败处理
func declared(err error) bool {
	return Classify(err) != KindUnknown
}

// retryable 挑战、限流、取消和编程错误都不重试
func retryable(err error) bool {
	switch Classify(err) {
	case KindCancelled, KindChallengeDetected, KindRateLimited, KindInvalidTransition:
		return false
	}
	return true
}
