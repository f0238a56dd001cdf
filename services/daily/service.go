// Package daily 每日投递：跳过当天已发送、挑选语录、投递、保存历史和运行记录
package daily

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
	"github.com/quotewing/quotewing/services/channel"
	"github.com/quotewing/quotewing/services/content"
)

const dateLayout = "2006-01-02"

// Store 历史和运行记录的持久化（由 storage.BoltDB 实现）
type Store interface {
	GetHistory(catalog string) (*models.History, error)
	SaveHistory(history *models.History) error
	SaveRun(run *models.RunRecord) error
}

// ChannelFactory 按名称创建投递渠道
type ChannelFactory func(name string) (channel.Channel, error)

// RunOptions 一次运行的选项
type RunOptions struct {
	Force   bool   `json:"force"`   // 今天已经发过也再发一次
	Channel string `json:"channel"` // 为空时使用配置中的渠道
	DryRun  bool   `json:"dry_run"` // 只挑选和排版，不投递也不更新历史
}

// Service 每日投递服务，同一时间只有一次运行（一个浏览器会话）
type Service struct {
	cfg      *config.Config
	store    Store
	channels ChannelFactory

	mu  sync.Mutex
	now func() time.Time
	rnd content.Rand
}

func NewService(cfg *config.Config, store Store, channels ChannelFactory) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		channels: channels,
		now:      time.Now,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunOnce 执行一次投递。投递失败记录在返回的 RunRecord 中；
// error 只在无法开始投递时返回（配置、语录库、存储）。
func (s *Service) RunOnce(ctx context.Context, opts RunOptions) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelName := opts.Channel
	if channelName == "" {
		channelName = s.cfg.Content.Channel
	}

	now := s.now()
	run := &models.RunRecord{
		ID:        uuid.New().String(),
		Channel:   channelName,
		Catalog:   s.cfg.Content.Catalog,
		StartedAt: now,
	}
	ctx = logger.WithRunID(ctx, run.ID)
	logger.Info(ctx, "Starting daily run (channel: %s, catalog: %s, force: %v, dry run: %v)", channelName, run.Catalog, opts.Force, opts.DryRun)

	defer func() {
		run.FinishedAt = s.now()
		if err := s.store.SaveRun(run); err != nil {
			logger.Error(ctx, "Failed to save run record: %v", err)
		}
		logger.Info(ctx, "Daily run finished with status %s", run.Status)
	}()

	fail := func(err error) (*models.RunRecord, error) {
		run.Status = models.RunFailed
		run.Error = err.Error()
		logger.Error(ctx, "Daily run failed: %v", err)
		return run, err
	}

	catalog, err := content.Load(s.cfg.Content.Catalog)
	if err != nil {
		return fail(err)
	}
	history, err := s.store.GetHistory(catalog.Name)
	if err != nil {
		return fail(fmt.Errorf("failed to load history: %w", err))
	}

	today := now.Format(dateLayout)
	if !opts.Force && history.LastSentDate == today {
		logger.Info(ctx, "Already sent today (%s), skipping", today)
		run.Status = models.RunSkipped
		return run, nil
	}

	index, recent, err := content.Pick(len(catalog.Items), history.Recent, s.cfg.Content.HistorySize, s.rnd)
	if err != nil {
		return fail(err)
	}
	msg, err := catalog.Format(index, now)
	if err != nil {
		return fail(err)
	}
	run.ItemIndex = index
	run.ItemNumber = msg.Number
	run.Message = msg.Text
	logger.Info(ctx, "Selected %s #%d", catalog.Name, msg.Number)

	if opts.DryRun {
		run.Status = models.RunDryRun
		return run, nil
	}

	if err := s.cfg.Validate(channelName); err != nil {
		return fail(err)
	}
	ch, err := s.channels(channelName)
	if err != nil {
		return fail(err)
	}

	delivery, err := ch.Deliver(ctx, msg, s.recipients(channelName))
	if err != nil {
		return fail(fmt.Errorf("%s channel unavailable: %w", channelName, err))
	}
	run.Auth = delivery.Auth
	run.Report = delivery.Report
	run.Status = runStatus(delivery)
	if run.Auth != nil && !run.Auth.Authenticated() {
		run.Error = run.Auth.Reason
	}

	// 至少有一个收件人收到时才更新历史，否则明天还会重试这一天
	if delivery.Report.SentCount() > 0 {
		history.Catalog = catalog.Name
		history.Recent = recent
		history.LastSentDate = today
		if err := s.store.SaveHistory(history); err != nil {
			logger.Error(ctx, "Failed to save history: %v", err)
		}
	}
	return run, nil
}

func (s *Service) recipients(channelName string) []string {
	if channelName == channel.NameEmail {
		return s.cfg.Email.Recipients
	}
	return s.cfg.Recipients
}

func runStatus(d *channel.Delivery) models.RunStatus {
	if d.Auth != nil {
		switch d.Auth.State {
		case models.AuthChallengeBlocked:
			return models.RunChallengeBlocked
		case models.AuthAuthenticated:
		default:
			return models.RunFailed
		}
	}
	sent := d.Report.SentCount()
	switch {
	case len(d.Report) > 0 && sent == len(d.Report):
		return models.RunDelivered
	case sent == 0:
		return models.RunFailed
	default:
		return models.RunPartial
	}
}

// ParseSendAt 解析 "HH:MM"
func ParseSendAt(value string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid send_at %q, expected HH:MM", value)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in send_at %q", value)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in send_at %q", value)
	}
	return hour, minute, nil
}

// NextRun now 之后（不含）第一个 hour:minute
func NextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Schedule 每天在 schedule.send_at 运行一次，直到 ctx 取消
func (s *Service) Schedule(ctx context.Context, opts RunOptions) error {
	hour, minute, err := ParseSendAt(s.cfg.Schedule.SendAt)
	if err != nil {
		return err
	}

	for {
		next := NextRun(s.now(), hour, minute)
		logger.Info(ctx, "Next daily run at %s", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx, opts); err != nil {
			logger.Error(ctx, "Scheduled run failed: %v", err)
		}
	}
}
