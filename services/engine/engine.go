// Package engine 网页短信渠道的核心：登录状态机、按收件人的发送流程、
// 候选定位器、重试执行器和调试快照采集。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/driver"
)

// Session 一次运行独占的浏览器会话，Close 在任何退出路径上恰好执行一次
type Session struct {
	drv       driver.Driver
	collector *Collector
	opts      Options

	closeOnce sync.Once
	closeErr  error
}

func NewSession(drv driver.Driver, collector *Collector, opts Options) *Session {
	if collector == nil {
		collector = NewCollector(CollectorConfig{})
	}
	return &Session{drv: drv, collector: collector, opts: opts}
}

func (s *Session) Driver() driver.Driver {
	return s.drv
}

func (s *Session) Options() Options {
	return s.opts
}

// Capture 采集当前页面的调试快照
func (s *Session) Capture(ctx context.Context, phase string) models.DebugArtifact {
	return s.collector.Capture(ctx, s.drv, phase)
}

// checkpoint 开启 capture_checkpoints 时才采集
func (s *Session) checkpoint(ctx context.Context, phase string) []models.DebugArtifact {
	if !s.opts.CaptureCheckpoints {
		return nil
	}
	return []models.DebugArtifact{s.Capture(ctx, "checkpoint-"+phase)}
}

// wait 可被 ctx 取消的等待
func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close 释放浏览器，重复调用返回第一次的结果
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.drv != nil {
			s.closeErr = s.drv.Close()
		}
	})
	return s.closeErr
}

// RunOutcome 认证结果，以及认证成功时的投递报告
type RunOutcome struct {
	Auth   models.AuthOutcome    `json:"auth"`
	Report models.DeliveryReport `json:"report,omitempty"`
}

// Engine 打开会话、登录、逐个发送、关闭会话
type Engine struct {
	opts      Options
	open      driver.Opener
	collector *Collector
}

func New(opts Options, open driver.Opener, collector *Collector) *Engine {
	if collector == nil {
		collector = NewCollector(CollectorConfig{})
	}
	return &Engine{opts: opts, open: open, collector: collector}
}

// Run 执行一次完整投递，不返回未分类的错误
func (e *Engine) Run(ctx context.Context, creds models.Credentials, jobs []models.RecipientJob) (out RunOutcome) {
	drv, err := e.open(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to open browser session: %v", err)
		out.Auth = models.AuthOutcome{
			State:     models.AuthFailed,
			Reason:    fmt.Sprintf("browser unavailable: %v", err),
			ErrorKind: KindInteractionFailed,
		}
		return out
	}

	sess := NewSession(drv, e.collector, e.opts)
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn(ctx, "Failed to close browser session: %v", err)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Delivery run panicked: %v", r)
			reason := fmt.Sprintf("internal error: %v", r)
			if !out.Auth.Authenticated() {
				out.Auth.State = models.AuthFailed
				out.Auth.Reason = reason
				out.Auth.ErrorKind = KindInteractionFailed
				return
			}
			out.Report = completeReport(out.Report, jobs, reason)
		}
	}()

	out.Auth = Authenticate(ctx, sess, creds)
	if !out.Auth.Authenticated() {
		return out
	}

	if persister, ok := drv.(driver.CookiePersister); ok {
		if err := persister.PersistCookies(ctx); err != nil {
			logger.Warn(ctx, "Failed to persist session cookies: %v", err)
		}
	}

	out.Report = SendAll(ctx, sess, jobs)
	return out
}

// completeReport 补齐未处理的任务，保证报告长度等于任务数
func completeReport(report models.DeliveryReport, jobs []models.RecipientJob, reason string) models.DeliveryReport {
	for i := len(report); i < len(jobs); i++ {
		report = append(report, models.DeliveryResult{
			Destination: NormalizeDestination(jobs[i].Destination),
			Outcome:     models.OutcomeFailed,
			Reason:      reason,
			ErrorKind:   KindJobFailed,
		})
	}
	return report
}
