package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/pkg/logger"
)

// CookieStorage Cookie 持久化（由 storage.BoltDB 实现）
type CookieStorage interface {
	GetCookies(id string) (*models.CookieStore, error)
	SaveCookies(cookieStore *models.CookieStore) error
}

// Options 浏览器启动参数
type Options struct {
	BinPath         string
	UserDataDir     string
	ControlURL      string // 非空时连接远程 Chrome，不启动本地进程
	Headless        bool
	Stealth         bool
	Proxy           string
	UserAgent       string
	LaunchArgs      []string
	NavigateTimeout time.Duration

	Cookies  CookieStorage
	CookieID string
	Account  string
}

// OptionsFromConfig 从配置构造启动参数，cookieID 按账号区分
func OptionsFromConfig(cfg *config.Config, cookies CookieStorage) Options {
	opts := Options{
		BinPath:         cfg.Browser.BinPath,
		UserDataDir:     cfg.Browser.UserDataDir,
		ControlURL:      cfg.Browser.ControlURL,
		Headless:        cfg.Browser.Headless,
		Stealth:         cfg.Browser.Stealth,
		Proxy:           cfg.Browser.Proxy,
		UserAgent:       cfg.Browser.UserAgent,
		LaunchArgs:      cfg.Browser.LaunchArgs,
		NavigateTimeout: cfg.Engine.NavigateTimeout.Std(),
		Account:         cfg.Voice.Email,
	}
	if cfg.Browser.PersistCookies && cookies != nil {
		opts.Cookies = cookies
		opts.CookieID = "voice:" + cfg.Voice.Email
	}
	return opts
}

// RodDriver 基于 go-rod 的 Driver 实现，一个实例只拥有一个浏览器上下文
type RodDriver struct {
	opts     Options
	browser  *rod.Browser
	launcher *launcher.Launcher // 仅本地模式
	page     *rod.Page

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

type rodElement struct {
	el    *rod.Element
	query models.Query
}

func (e *rodElement) Describe() string {
	return e.query.String()
}

// NewOpener 返回按 opts 启动浏览器的 Opener
func NewOpener(opts Options) Opener {
	return func(ctx context.Context) (Driver, error) {
		return Open(ctx, opts)
	}
}

// Open 启动（或连接）浏览器并打开一个页面
func Open(ctx context.Context, opts Options) (*RodDriver, error) {
	d := &RodDriver{opts: opts}

	var url string
	if opts.ControlURL != "" {
		url = opts.ControlURL
		logger.Info(ctx, "Using remote Chrome browser, control URL: %s", url)
	} else {
		logger.Info(ctx, "Starting local Chrome browser (headless: %v)", opts.Headless)

		l := launcher.New().
			Headless(opts.Headless).
			Devtools(false).
			Leakless(false)

		if opts.Proxy != "" {
			l = l.Proxy(opts.Proxy)
		}

		for _, arg := range opts.LaunchArgs {
			arg = strings.TrimPrefix(arg, "--")
			if name, value, ok := strings.Cut(arg, "="); ok {
				l = l.Set(flags.Flag(name), value)
			} else {
				l = l.Set(flags.Flag(arg))
			}
		}

		if opts.BinPath != "" {
			l = l.Bin(opts.BinPath)
		}

		// 用户数据目录会保存登录状态
		if opts.UserDataDir != "" {
			if err := os.MkdirAll(opts.UserDataDir, 0o755); err != nil {
				logger.Warn(ctx, "Failed to create user data directory, login state will not be kept: %v", err)
			} else {
				l = l.UserDataDir(opts.UserDataDir)
			}
		}

		var err error
		url, err = l.Launch()
		if err != nil {
			if strings.Contains(err.Error(), "already") {
				return nil, fmt.Errorf("chrome is already running with user data directory %s: %w", opts.UserDataDir, err)
			}
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
		d.launcher = l
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		d.killLauncher()
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}
	d.browser = browser

	if version, err := browser.Version(); err == nil {
		logger.Info(ctx, "Browser connected: %s", version.Product)
	}

	d.restoreCookies(ctx)

	var page *rod.Page
	var err error
	if opts.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	d.page = page

	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			logger.Warn(ctx, "Failed to set user agent: %v", err)
		}
	}

	return d, nil
}

// restoreCookies 从数据库加载之前保存的 Cookie
func (d *RodDriver) restoreCookies(ctx context.Context) {
	if d.opts.Cookies == nil {
		return
	}
	cookieStore, err := d.opts.Cookies.GetCookies(d.opts.CookieID)
	if err != nil || cookieStore == nil || len(cookieStore.Cookies) == 0 {
		logger.Info(ctx, "No saved cookies found")
		return
	}

	cookieParams := make([]*proto.NetworkCookieParam, 0, len(cookieStore.Cookies))
	for _, cookie := range cookieStore.Cookies {
		cookieParams = append(cookieParams, &proto.NetworkCookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HTTPOnly,
			SameSite: cookie.SameSite,
			Expires:  cookie.Expires,
		})
	}
	if err := d.browser.SetCookies(cookieParams); err != nil {
		logger.Warn(ctx, "Failed to restore cookies: %v", err)
		return
	}
	logger.Info(ctx, "Restored %d saved cookies", len(cookieParams))
}

// PersistCookies 保存当前浏览器的全部 Cookie
func (d *RodDriver) PersistCookies(ctx context.Context) error {
	if d.opts.Cookies == nil {
		return nil
	}
	if err := d.usable(); err != nil {
		return err
	}
	cookies, err := d.browser.GetCookies()
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}
	store := &models.CookieStore{
		ID:      d.opts.CookieID,
		Account: d.opts.Account,
		Cookies: cookies,
	}
	if err := d.opts.Cookies.SaveCookies(store); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	logger.Info(ctx, "Saved %d cookies", len(cookies))
	return nil
}

func (d *RodDriver) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.page == nil {
		return ErrClosed
	}
	return nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	if err := d.usable(); err != nil {
		return err
	}
	timeout := d.opts.NavigateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	page := d.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		logger.Warn(ctx, "Failed to wait for page to load: %v", err)
	}
	return nil
}

func (d *RodDriver) Find(ctx context.Context, q models.Query, timeout time.Duration) (Element, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	page := d.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	var el *rod.Element
	var err error
	switch q.Strategy {
	case models.StrategyXPath:
		el, err = page.ElementX(q.Selector)
	case models.StrategyText:
		el, err = page.ElementR(q.Selector, q.Pattern)
	default:
		el, err = page.Element(q.Selector)
	}
	if err == nil {
		err = el.WaitVisible()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrElementAbsent, q, err)
	}

	// 脱离超时 context，后续交互使用调用方的 ctx
	return &rodElement{el: el.Context(ctx), query: q}, nil
}

func (d *RodDriver) element(ctx context.Context, el Element) (*rod.Element, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	re, ok := el.(*rodElement)
	if !ok || re.el == nil {
		return nil, fmt.Errorf("element %v was not produced by this driver", el)
	}
	return re.el.Context(ctx), nil
}

func (d *RodDriver) Type(ctx context.Context, el Element, text string, perCharDelay time.Duration) error {
	elem, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	page := d.page.Context(ctx)

	if err := elem.ScrollIntoView(); err != nil {
		logger.Debug(ctx, "Failed to scroll to element: %v", err)
	}
	if err := elem.Focus(); err != nil {
		return fmt.Errorf("failed to focus %s: %w", el.Describe(), err)
	}

	// contenteditable 元素不支持 SelectAllText，用快捷键清空
	isContentEditable := false
	if res, err := elem.Eval(`() => this.isContentEditable`); err == nil && res != nil {
		isContentEditable = res.Value.Bool()
	}
	if isContentEditable {
		if err := page.KeyActions().Press(input.ControlLeft).Type('a').Release(input.ControlLeft).Do(); err != nil {
			logger.Debug(ctx, "Failed to select contenteditable text: %v", err)
		}
		_ = page.Keyboard.Press(input.Backspace)
	} else if err := elem.SelectAllText(); err == nil {
		_ = page.Keyboard.Press(input.Backspace)
	} else {
		_, _ = elem.Eval(`() => { this.value = ''; }`)
	}

	insert := func(s string) error {
		if isContentEditable {
			return page.InsertText(s)
		}
		return elem.Input(s)
	}

	if perCharDelay <= 0 {
		if err := insert(text); err != nil {
			return fmt.Errorf("failed to input text into %s: %w", el.Describe(), err)
		}
		return nil
	}

	for _, char := range text {
		if err := insert(string(char)); err != nil {
			return fmt.Errorf("failed to input text into %s: %w", el.Describe(), err)
		}
		// 随机间隔 [d, 2d)，兼容监听 input 事件的页面
		jitter := perCharDelay + time.Duration(rand.Int63n(int64(perCharDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter):
		}
	}
	return nil
}

func (d *RodDriver) Click(ctx context.Context, el Element) error {
	elem, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := elem.ScrollIntoView(); err != nil {
		logger.Debug(ctx, "Failed to scroll to element: %v", err)
	}

	err = elem.Click(proto.InputMouseButtonLeft, 1)
	if err == nil {
		return nil
	}

	// 常规点击失败（被遮挡等），用 JavaScript 强制点击
	logger.Warn(ctx, "Regular click on %s failed, trying JavaScript click: %v", el.Describe(), err)
	if _, jsErr := elem.Eval(`() => this.click()`); jsErr != nil {
		return fmt.Errorf("click on %s failed: %w", el.Describe(), err)
	}
	return nil
}

func (d *RodDriver) PressEnter(ctx context.Context) error {
	if err := d.usable(); err != nil {
		return err
	}
	return d.page.Context(ctx).Keyboard.Type(input.Enter)
}

func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := d.usable(); err != nil {
		return "", err
	}
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (d *RodDriver) PageSnapshot(ctx context.Context) (string, error) {
	if err := d.usable(); err != nil {
		return "", err
	}
	return d.page.Context(ctx).HTML()
}

func (d *RodDriver) VisualSnapshot(ctx context.Context) ([]byte, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	return d.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close 关闭页面和浏览器，多次调用只执行一次
func (d *RodDriver) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		var errs []error
		if d.page != nil {
			if err := d.page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close page: %w", err))
			}
		}
		if d.browser != nil {
			if err := d.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		// 不调用 launcher.Cleanup()，它会删除用户数据目录
		d.killLauncher()
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}

func (d *RodDriver) killLauncher() {
	if d.launcher != nil {
		d.launcher.Kill()
	}
}
