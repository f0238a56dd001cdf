package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
)

// TransitionTable 合法的状态迁移
type TransitionTable map[models.AuthState][]models.AuthState

// AuthTransitions 登录状态机的迁移表，ChallengeBlocked 只能从密码阶段进入
var AuthTransitions = TransitionTable{
	models.AuthInit:              {models.AuthNavigatingLogin, models.AuthFailed},
	models.AuthNavigatingLogin:   {models.AuthAuthenticated, models.AuthAwaitingEmail, models.AuthFailed},
	models.AuthAwaitingEmail:     {models.AuthEmailSubmitted, models.AuthFailed},
	models.AuthEmailSubmitted:    {models.AuthAwaitingPassword, models.AuthFailed},
	models.AuthAwaitingPassword:  {models.AuthPasswordSubmitted, models.AuthChallengeBlocked, models.AuthFailed},
	models.AuthPasswordSubmitted: {models.AuthAuthenticated, models.AuthChallengeBlocked, models.AuthVerifying, models.AuthFailed},
	models.AuthVerifying:         {models.AuthAuthenticated, models.AuthFailed},
}

// Allows 检查 from -> to 是否在表中
func (t TransitionTable) Allows(from, to models.AuthState) bool {
	for _, allowed := range t[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// authMachine 一次登录过程，只在单个 goroutine 中使用
type authMachine struct {
	sess  *Session
	opts  Options
	creds models.Credentials
	table TransitionTable

	state       models.AuthState
	transitions []models.StateTransition
	artifacts   []models.DebugArtifact
	captured    bool // 当前失败已经由重试执行器采集过快照
}

// Authenticate 运行登录状态机直到终态
func Authenticate(ctx context.Context, sess *Session, creds models.Credentials) models.AuthOutcome {
	m := &authMachine{
		sess:  sess,
		opts:  sess.Options(),
		creds: creds,
		table: AuthTransitions,
		state: models.AuthInit,
	}
	return m.run(ctx)
}

func (m *authMachine) run(ctx context.Context) (out models.AuthOutcome) {
	var failure error
	for !m.state.IsTerminal() {
		next, reason, err := m.process(ctx)
		if err == nil {
			err = m.transitionTo(ctx, next, reason)
		}
		if err != nil {
			failure = err
			m.fail(ctx, err)
		}
	}

	out = models.AuthOutcome{
		State:       m.state,
		Transitions: m.transitions,
		Artifacts:   m.artifacts,
	}
	if failure != nil {
		out.Reason = failure.Error()
		out.ErrorKind = Classify(failure)
	} else if n := len(m.transitions); n > 0 {
		out.Reason = m.transitions[n-1].Reason
	}
	logger.Info(ctx, "Authentication finished in state %s after %d transitions", m.state, len(m.transitions))
	return out
}

// transitionTo 校验迁移表并记录，非终态迁移前检查 ctx
func (m *authMachine) transitionTo(ctx context.Context, to models.AuthState, reason string) error {
	if !to.IsTerminal() && ctx.Err() != nil {
		return cancelled(ctx, "transition to "+to.String())
	}
	if !m.table.Allows(m.state, to) {
		return classify(ErrInvalidTransition, nil, "%s -> %s", m.state, to)
	}
	m.record(to, reason)
	return nil
}

func (m *authMachine) record(to models.AuthState, reason string) {
	m.transitions = append(m.transitions, models.StateTransition{
		From:   m.state,
		To:     to,
		At:     time.Now(),
		Reason: reason,
	})
	m.state = to
}

// fail 进入 ChallengeBlocked 或 Failed，没有快照时补采一次
func (m *authMachine) fail(ctx context.Context, err error) {
	kind := Classify(err)
	target := models.AuthFailed
	if kind == KindChallengeDetected && m.table.Allows(m.state, models.AuthChallengeBlocked) {
		target = models.AuthChallengeBlocked
	}

	if !m.captured && kind != KindCancelled {
		phase := failurePhase(m.state)
		if kind == KindChallengeDetected {
			phase = "challenge"
		}
		m.artifacts = append(m.artifacts, m.sess.Capture(ctx, phase))
	}

	if target == models.AuthChallengeBlocked {
		logger.Error(ctx, "Security challenge requires manual action, stopping login: %v", err)
	} else {
		logger.Error(ctx, "Authentication failed in state %s: %v", m.state, err)
	}
	m.record(target, kind)
}

func failurePhase(state models.AuthState) string {
	switch state {
	case models.AuthInit, models.AuthNavigatingLogin:
		return "navigate"
	case models.AuthAwaitingEmail, models.AuthEmailSubmitted:
		return "email"
	case models.AuthAwaitingPassword, models.AuthPasswordSubmitted:
		return "password"
	case models.AuthVerifying:
		return "verify"
	}
	return state.String()
}

// absorb 收下重试执行器的快照，返回步骤错误
func (m *authMachine) absorb(res StepResult) error {
	if res.Artifact != nil {
		m.artifacts = append(m.artifacts, *res.Artifact)
		m.captured = true
	}
	return res.Err
}

// process 执行当前状态的动作，返回下一个状态
func (m *authMachine) process(ctx context.Context) (models.AuthState, string, error) {
	m.captured = false

	switch m.state {
	case models.AuthInit:
		return models.AuthNavigatingLogin, "start", nil
	case models.AuthNavigatingLogin:
		return m.navigateLogin(ctx)
	case models.AuthAwaitingEmail:
		return m.submitEmail(ctx)
	case models.AuthEmailSubmitted:
		return m.awaitPasswordForm(ctx)
	case models.AuthAwaitingPassword:
		return m.submitPassword(ctx)
	case models.AuthPasswordSubmitted:
		return m.awaitRedirect(ctx)
	case models.AuthVerifying:
		return m.verify(ctx)
	}
	return m.state, "", classify(ErrInvalidTransition, nil, "no handler for state %s", m.state)
}

func (m *authMachine) navigateLogin(ctx context.Context) (models.AuthState, string, error) {
	drv := m.sess.Driver()
	logger.Info(ctx, "Opening login page")
	if err := drv.Navigate(ctx, m.opts.LoginURL); err != nil {
		return 0, "", classify(ErrInteractionFailed, err, "open login page")
	}
	if err := m.sess.wait(ctx, m.opts.SettleDelay); err != nil {
		return 0, "", cancelled(ctx, "settle after navigation")
	}

	current, err := drv.CurrentURL(ctx)
	if err != nil {
		return 0, "", classify(ErrInteractionFailed, err, "read url after navigation")
	}
	if m.isAuthenticatedURL(current) {
		logger.Info(ctx, "Session already signed in, skipping login form")
		return models.AuthAuthenticated, "already signed in", nil
	}

	if err := m.checkRateLimit(m.page(ctx)); err != nil {
		return 0, "", err
	}
	m.artifacts = append(m.artifacts, m.sess.checkpoint(ctx, "login-page")...)
	return models.AuthAwaitingEmail, "login form", nil
}

func (m *authMachine) submitEmail(ctx context.Context) (models.AuthState, string, error) {
	drv := m.sess.Driver()
	locs := m.opts.Locators

	res := Attempt(ctx, m.sess, "email", m.opts.Policy, func(ctx context.Context, attempt int) error {
		field, _, err := Resolve(ctx, drv, locs.EmailField, m.opts.FindTimeout)
		if err != nil {
			return err
		}
		if err := drv.Type(ctx, field, m.creds.Account, m.opts.TypeDelay); err != nil {
			return classify(ErrInteractionFailed, err, "type account")
		}
		next, _, err := Resolve(ctx, drv, locs.EmailNext, m.opts.FindTimeout)
		if err != nil {
			return err
		}
		if err := drv.Click(ctx, next); err != nil {
			return classify(ErrInteractionFailed, err, "click next after account")
		}
		return nil
	})
	if err := m.absorb(res); err != nil {
		return 0, "", err
	}
	return models.AuthEmailSubmitted, "account submitted", nil
}

// awaitPasswordForm 等待密码框出现；出现安全验证时交给 AwaitingPassword 处理
func (m *authMachine) awaitPasswordForm(ctx context.Context) (models.AuthState, string, error) {
	drv := m.sess.Driver()
	if err := m.sess.wait(ctx, m.opts.SettleDelay); err != nil {
		return 0, "", cancelled(ctx, "settle after account")
	}

	res := Attempt(ctx, m.sess, "password-form", m.opts.Policy, func(ctx context.Context, attempt int) error {
		page := m.page(ctx)
		if err := m.checkChallenge(page); err != nil {
			return err
		}
		if err := m.checkRateLimit(page); err != nil {
			return err
		}
		_, _, err := Resolve(ctx, drv, m.opts.Locators.PasswordField, m.opts.FindTimeout)
		return err
	})
	if res.Err != nil && errors.Is(res.Err, ErrChallengeDetected) {
		return models.AuthAwaitingPassword, "challenge observed after account", nil
	}
	if err := m.absorb(res); err != nil {
		return 0, "", err
	}
	m.artifacts = append(m.artifacts, m.sess.checkpoint(ctx, "password-form")...)
	return models.AuthAwaitingPassword, "password form", nil
}

func (m *authMachine) submitPassword(ctx context.Context) (models.AuthState, string, error) {
	drv := m.sess.Driver()
	locs := m.opts.Locators

	// 挑战优先于重试
	if err := m.checkChallenge(m.page(ctx)); err != nil {
		return 0, "", err
	}

	res := Attempt(ctx, m.sess, "password", m.opts.Policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := m.checkChallenge(m.page(ctx)); err != nil {
				return err
			}
		}
		field, _, err := Resolve(ctx, drv, locs.PasswordField, m.opts.FindTimeout)
		if err != nil {
			return err
		}
		if err := drv.Type(ctx, field, m.creds.Secret, m.opts.TypeDelay); err != nil {
			return classify(ErrInteractionFailed, err, "type secret")
		}
		next, _, err := Resolve(ctx, drv, locs.PasswordNext, m.opts.FindTimeout)
		if err != nil {
			return err
		}
		if err := drv.Click(ctx, next); err != nil {
			return classify(ErrInteractionFailed, err, "click next after secret")
		}
		return nil
	})
	if err := m.absorb(res); err != nil {
		return 0, "", err
	}
	return models.AuthPasswordSubmitted, "secret submitted", nil
}

// awaitRedirect 在 submit_timeout 内轮询跳转结果
func (m *authMachine) awaitRedirect(ctx context.Context) (models.AuthState, string, error) {
	deadline := time.Now().Add(m.opts.SubmitTimeout)
	for {
		page := m.page(ctx)
		if m.isAuthenticatedURL(page.url) {
			return models.AuthAuthenticated, "redirected to authenticated page", nil
		}
		if err := m.checkChallenge(page); err != nil {
			return 0, "", err
		}
		if err := m.checkRateLimit(page); err != nil {
			return 0, "", err
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := m.sess.wait(ctx, m.opts.PollInterval); err != nil {
			return 0, "", cancelled(ctx, "wait for redirect")
		}
	}
	return models.AuthVerifying, "no redirect within submit timeout", nil
}

// verify 打开消息页并等待已登录标记。安全验证优先于普通的超时失败：
// 导航前先检查当前页面，之后每轮轮询都先检查
func (m *authMachine) verify(ctx context.Context) (models.AuthState, string, error) {
	drv := m.sess.Driver()
	if err := m.checkChallenge(m.page(ctx)); err != nil {
		return 0, "", err
	}
	if m.opts.MessagesURL != "" {
		if err := drv.Navigate(ctx, m.opts.MessagesURL); err != nil {
			logger.Warn(ctx, "Failed to open messages page during verification: %v", err)
		}
	}

	deadline := time.Now().Add(m.opts.VerifyTimeout)
	for {
		page := m.page(ctx)
		if m.isAuthenticatedURL(page.url) {
			return models.AuthAuthenticated, "authenticated url", nil
		}
		if err := m.checkChallenge(page); err != nil {
			return 0, "", err
		}
		if _, _, err := Resolve(ctx, drv, m.opts.Locators.MessagesMarker, m.opts.PollInterval); err == nil {
			return models.AuthAuthenticated, "messages page visible", nil
		}
		if ctx.Err() != nil {
			return 0, "", cancelled(ctx, "verify")
		}
		if !time.Now().Before(deadline) {
			break
		}
		if err := m.sess.wait(ctx, m.opts.PollInterval); err != nil {
			return 0, "", cancelled(ctx, "verify")
		}
	}
	return 0, "", classify(ErrLocatorNotFound, nil, "no authenticated marker within %v", m.opts.VerifyTimeout)
}

// pageView 当前 URL 和小写的页面源码，读取失败时为空
type pageView struct {
	url  string
	html string
}

func (m *authMachine) page(ctx context.Context) pageView {
	drv := m.sess.Driver()
	var view pageView
	if current, err := drv.CurrentURL(ctx); err == nil {
		view.url = current
	}
	if html, err := drv.PageSnapshot(ctx); err == nil {
		view.html = strings.ToLower(html)
	}
	return view
}

func (m *authMachine) checkChallenge(page pageView) error {
	if marker, ok := containsAny(hostPath(page.url), m.opts.ChallengeURLMarkers); ok {
		return classify(ErrChallengeDetected, nil, "url matches %q", marker)
	}
	if marker, ok := containsAny(page.html, m.opts.ChallengePageMarkers); ok {
		return classify(ErrChallengeDetected, nil, "page mentions %q", marker)
	}
	return nil
}

func (m *authMachine) checkRateLimit(page pageView) error {
	if marker, ok := containsAny(page.html, m.opts.RateLimitMarkers); ok {
		return classify(ErrRateLimited, nil, "page mentions %q", marker)
	}
	return nil
}

// isAuthenticatedURL 登录页的 continue 参数里也有目标域名，所以只看 host + path
func (m *authMachine) isAuthenticatedURL(raw string) bool {
	hp := hostPath(raw)
	if hp == "" {
		return false
	}
	if _, ok := containsAny(hp, m.opts.LoginURLMarkers); ok {
		return false
	}
	_, ok := containsAny(hp, m.opts.AuthenticatedURLs)
	return ok
}

func hostPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	return strings.ToLower(u.Host + u.Path)
}

func containsAny(text string, markers []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, strings.ToLower(marker)) {
			return marker, true
		}
	}
	return "", false
}
