package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/quotewing/quotewing/pkg/logger"
)

type Config struct {
	Debug      bool                 `json:"debug" toml:"debug"`
	Server     *ServerConfig        `json:"server" toml:"server"`
	Database   *DatabaseConfig      `json:"database" toml:"database"`
	Browser    *BrowserConfig       `json:"browser" toml:"browser"`
	Voice      *VoiceConfig         `json:"voice" toml:"voice"`
	Engine     *EngineConfig        `json:"engine" toml:"engine"`
	Artifacts  *ArtifactsConfig     `json:"artifacts" toml:"artifacts"`
	SMS        *SMSConfig           `json:"sms" toml:"sms"`
	Email      *EmailConfig         `json:"email" toml:"email"`
	Content    *ContentConfig       `json:"content" toml:"content"`
	Schedule   *ScheduleConfig      `json:"schedule" toml:"schedule"`
	Recipients []string             `json:"recipients" toml:"recipients"` // 短信渠道（voice / sms）的收件号码
	Log        *logger.LoggerConfig `json:"log,omitempty" toml:"log,omitempty"`
}

type ServerConfig struct {
	Port string `json:"port" toml:"port"`
	Host string `json:"host" toml:"host"`
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

type BrowserConfig struct {
	BinPath        string   `json:"bin_path" toml:"bin_path"`
	UserDataDir    string   `json:"user_data_dir" toml:"user_data_dir"`
	ControlURL     string   `json:"control_url,omitempty" toml:"control_url,omitempty"` // 远程 Chrome 的 DevTools 地址
	Headless       bool     `json:"headless" toml:"headless"`
	Stealth        bool     `json:"stealth" toml:"stealth"`
	Proxy          string   `json:"proxy,omitempty" toml:"proxy,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty" toml:"user_agent,omitempty"`
	LaunchArgs     []string `json:"launch_args,omitempty" toml:"launch_args,omitempty"`
	PersistCookies bool     `json:"persist_cookies" toml:"persist_cookies"`
}

// VoiceConfig 网页短信渠道（Google Voice）
type VoiceConfig struct {
	Email    string `json:"email" toml:"email"`
	Password string `json:"password" toml:"password"`
	Number   string `json:"number,omitempty" toml:"number,omitempty"`

	LoginURL             string   `json:"login_url" toml:"login_url"`
	MessagesURL          string   `json:"messages_url" toml:"messages_url"`
	AuthenticatedURLs    []string `json:"authenticated_urls" toml:"authenticated_urls"`         // 已登录页面的 URL 片段
	LoginURLMarkers      []string `json:"login_url_markers" toml:"login_url_markers"`           // 登录页面的 URL 片段
	ChallengeURLMarkers  []string `json:"challenge_url_markers" toml:"challenge_url_markers"`   // 安全验证页面的 URL 片段
	ChallengePageMarkers []string `json:"challenge_page_markers" toml:"challenge_page_markers"` // 安全验证页面的文本片段
	RateLimitMarkers     []string `json:"rate_limit_markers" toml:"rate_limit_markers"`

	// 覆盖内置候选链，key 为目标名（email_field, send_button ...），值为 "css:..." / "xpath:..." / "text:sel::pattern"
	Selectors map[string][]string `json:"selectors,omitempty" toml:"selectors,omitempty"`

	PressEnterAfterDestination bool `json:"press_enter_after_destination" toml:"press_enter_after_destination"`
}

// EngineConfig 重试、等待与输入节奏
type EngineConfig struct {
	MaxAttempts        int      `json:"max_attempts" toml:"max_attempts"`
	RetryDelay         Duration `json:"retry_delay" toml:"retry_delay"`
	MaxRetryDelay      Duration `json:"max_retry_delay" toml:"max_retry_delay"`
	ExponentialBackoff bool     `json:"exponential_backoff" toml:"exponential_backoff"`
	FindTimeout        Duration `json:"find_timeout" toml:"find_timeout"` // 每个候选查询的等待时间
	NavigateTimeout    Duration `json:"navigate_timeout" toml:"navigate_timeout"`
	SettleDelay        Duration `json:"settle_delay" toml:"settle_delay"`       // 提交后等待页面稳定
	SubmitTimeout      Duration `json:"submit_timeout" toml:"submit_timeout"`   // 密码提交后等待跳转
	VerifyTimeout      Duration `json:"verify_timeout" toml:"verify_timeout"`   // 等待已登录标记
	ConfirmTimeout     Duration `json:"confirm_timeout" toml:"confirm_timeout"` // 等待"已发送"提示
	InterJobDelay      Duration `json:"inter_job_delay" toml:"inter_job_delay"`
	TypeDelay          Duration `json:"type_delay" toml:"type_delay"` // 逐字符输入的基础间隔
}

type ArtifactsConfig struct {
	Dir                string `json:"dir" toml:"dir"`
	CaptureCheckpoints bool   `json:"capture_checkpoints" toml:"capture_checkpoints"`
	Markdown           bool   `json:"markdown" toml:"markdown"`
}

// SMSConfig Textbelt 兼容的短信 API
type SMSConfig struct {
	Endpoint string   `json:"endpoint" toml:"endpoint"`
	APIKey   string   `json:"api_key" toml:"api_key"`
	Timeout  Duration `json:"timeout" toml:"timeout"`
}

type EmailConfig struct {
	SMTPServer     string   `json:"smtp_server" toml:"smtp_server"`
	SMTPPort       int      `json:"smtp_port" toml:"smtp_port"`
	SenderEmail    string   `json:"sender_email" toml:"sender_email"`
	SenderPassword string   `json:"sender_password" toml:"sender_password"`
	Recipients     []string `json:"recipient_emails" toml:"recipient_emails"`
	Timeout        Duration `json:"timeout" toml:"timeout"`
}

type ContentConfig struct {
	Catalog     string `json:"catalog" toml:"catalog"` // meditations | proverbs
	HistorySize int    `json:"history_size" toml:"history_size"`
	Channel     string `json:"channel" toml:"channel"` // voice | sms | email
}

type ScheduleConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	SendAt  string `json:"send_at" toml:"send_at"` // HH:MM，本地时间
}

// Duration 以 "2s" / "500ms" 形式出现在 TOML 中
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			Port: "8080",
			Host: "127.0.0.1",
		},
		Database: &DatabaseConfig{
			Path: "./data/quotewing.db",
		},
		Browser: &BrowserConfig{
			BinPath:        findChromeBinPath(),
			UserDataDir:    "./chrome_user_data",
			Headless:       true,
			Stealth:        true,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PersistCookies: true,
			LaunchArgs: []string{
				"disable-blink-features=AutomationControlled",
				"no-sandbox",
				"disable-dev-shm-usage",
				"disable-gpu",
				"disable-notifications",
				"disable-popup-blocking",
				"no-first-run",
				"no-default-browser-check",
				"window-size=1920,1080",
			},
		},
		Voice: &VoiceConfig{
			LoginURL:          "https://accounts.google.com/ServiceLogin?service=grandcentral&continue=https://voice.google.com/u/0/messages",
			MessagesURL:       "https://voice.google.com/u/0/messages",
			AuthenticatedURLs: []string{"voice.google.com"},
			LoginURLMarkers:   []string{"accounts.google.com", "signin", "login"},
			// 只匹配 URL 的 host + path；challenge/pwd 是普通密码页，不在其中
			ChallengeURLMarkers: []string{
				"challenge/selection",
				"challenge/2",
				"challenge/ipp",
				"challenge/totp",
				"challenge/az",
				"verification",
				"signin/rejected",
			},
			ChallengePageMarkers: []string{
				"suspicious",
				"verify it's you",
				"unusual activity",
			},
			RateLimitMarkers: []string{
				"try again later",
				"too many attempts",
			},
		},
		Engine: &EngineConfig{
			MaxAttempts:     3,
			RetryDelay:      Duration(2 * time.Second),
			MaxRetryDelay:   Duration(10 * time.Second),
			FindTimeout:     Duration(10 * time.Second),
			NavigateTimeout: Duration(30 * time.Second),
			SettleDelay:     Duration(2 * time.Second),
			SubmitTimeout:   Duration(20 * time.Second),
			VerifyTimeout:   Duration(20 * time.Second),
			ConfirmTimeout:  Duration(10 * time.Second),
			InterJobDelay:   Duration(2 * time.Second),
			TypeDelay:       Duration(50 * time.Millisecond),
		},
		Artifacts: &ArtifactsConfig{
			Dir:      "./debug_logs",
			Markdown: true,
		},
		SMS: &SMSConfig{
			Endpoint: "https://textbelt.com/text",
			Timeout:  Duration(15 * time.Second),
		},
		Email: &EmailConfig{
			SMTPServer: "smtp.gmail.com",
			SMTPPort:   587,
			Timeout:    Duration(30 * time.Second),
		},
		Content: &ContentConfig{
			Catalog:     "meditations",
			HistorySize: 7,
			Channel:     "voice",
		},
		Schedule: &ScheduleConfig{
			SendAt: "08:00",
		},
		Recipients: []string{},
		Log: &logger.LoggerConfig{
			Level: "info",
			File:  "./log/quotewing.log",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// 配置文件不存在：写出默认配置，方便用户修改
		defConfig := Default()
		if cfgData, err := toml.Marshal(defConfig); err == nil {
			_ = os.WriteFile(path, cfgData, 0o600)
		}
		defConfig.applyEnv()
		return defConfig, nil
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// applyDefaults 确保所有配置段都有值
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Database == nil {
		c.Database = def.Database
	}
	if c.Browser == nil {
		c.Browser = def.Browser
	}
	if c.Browser.BinPath == "" {
		c.Browser.BinPath = def.Browser.BinPath
	}
	if c.Voice == nil {
		c.Voice = def.Voice
	}
	fillStrings(&c.Voice.LoginURL, def.Voice.LoginURL)
	fillStrings(&c.Voice.MessagesURL, def.Voice.MessagesURL)
	fillSlice(&c.Voice.AuthenticatedURLs, def.Voice.AuthenticatedURLs)
	fillSlice(&c.Voice.LoginURLMarkers, def.Voice.LoginURLMarkers)
	fillSlice(&c.Voice.ChallengeURLMarkers, def.Voice.ChallengeURLMarkers)
	fillSlice(&c.Voice.ChallengePageMarkers, def.Voice.ChallengePageMarkers)
	fillSlice(&c.Voice.RateLimitMarkers, def.Voice.RateLimitMarkers)

	if c.Engine == nil {
		c.Engine = def.Engine
	}
	if c.Engine.MaxAttempts <= 0 {
		c.Engine.MaxAttempts = def.Engine.MaxAttempts
	}
	fillDuration(&c.Engine.RetryDelay, def.Engine.RetryDelay)
	fillDuration(&c.Engine.MaxRetryDelay, def.Engine.MaxRetryDelay)
	fillDuration(&c.Engine.FindTimeout, def.Engine.FindTimeout)
	fillDuration(&c.Engine.NavigateTimeout, def.Engine.NavigateTimeout)
	fillDuration(&c.Engine.SubmitTimeout, def.Engine.SubmitTimeout)
	fillDuration(&c.Engine.VerifyTimeout, def.Engine.VerifyTimeout)
	fillDuration(&c.Engine.ConfirmTimeout, def.Engine.ConfirmTimeout)

	if c.Artifacts == nil {
		c.Artifacts = def.Artifacts
	}
	fillStrings(&c.Artifacts.Dir, def.Artifacts.Dir)
	if c.SMS == nil {
		c.SMS = def.SMS
	}
	fillStrings(&c.SMS.Endpoint, def.SMS.Endpoint)
	fillDuration(&c.SMS.Timeout, def.SMS.Timeout)
	if c.Email == nil {
		c.Email = def.Email
	}
	fillStrings(&c.Email.SMTPServer, def.Email.SMTPServer)
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = def.Email.SMTPPort
	}
	fillDuration(&c.Email.Timeout, def.Email.Timeout)
	if c.Content == nil {
		c.Content = def.Content
	}
	fillStrings(&c.Content.Catalog, def.Content.Catalog)
	fillStrings(&c.Content.Channel, def.Content.Channel)
	if c.Content.HistorySize <= 0 {
		c.Content.HistorySize = def.Content.HistorySize
	}
	if c.Schedule == nil {
		c.Schedule = def.Schedule
	}
	fillStrings(&c.Schedule.SendAt, def.Schedule.SendAt)
	if c.Log == nil {
		c.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		}
	}
}

// applyEnv 环境变量覆盖（CI 中不落盘保存密码）
func (c *Config) applyEnv() {
	if v := os.Getenv("GVOICE_EMAIL"); v != "" {
		c.Voice.Email = v
	}
	if v := os.Getenv("GVOICE_PASSWORD"); v != "" {
		c.Voice.Password = v
	}
	if v := os.Getenv("GVOICE_NUMBER"); v != "" {
		c.Voice.Number = v
	}
	if v := os.Getenv("RECIPIENTS"); v != "" {
		c.Recipients = splitList(v)
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		c.SMS.APIKey = v
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		c.Email.SenderEmail = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		c.Email.SenderPassword = v
	}
	if v := os.Getenv("RECIPIENT_EMAIL"); v != "" {
		c.Email.Recipients = splitList(v)
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		c.Email.SMTPServer = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Email.SMTPPort = port
		}
	}
	if v := os.Getenv("CHROME_BIN_PATH"); v != "" {
		c.Browser.BinPath = v
	}
}

// Validate 检查所选渠道需要的配置项
func (c *Config) Validate(channel string) error {
	switch channel {
	case "voice":
		if c.Voice.Email == "" || c.Voice.Password == "" {
			return fmt.Errorf("voice channel requires voice.email and voice.password (or GVOICE_EMAIL / GVOICE_PASSWORD)")
		}
		if len(c.Recipients) == 0 {
			return fmt.Errorf("voice channel requires at least one recipient")
		}
	case "sms":
		if c.SMS.APIKey == "" {
			return fmt.Errorf("sms channel requires sms.api_key (or SMS_API_KEY)")
		}
		if len(c.Recipients) == 0 {
			return fmt.Errorf("sms channel requires at least one recipient")
		}
	case "email":
		if c.Email.SenderEmail == "" || c.Email.SenderPassword == "" {
			return fmt.Errorf("email channel requires email.sender_email and email.sender_password")
		}
		if len(c.Email.Recipients) == 0 {
			return fmt.Errorf("email channel requires at least one recipient email")
		}
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
	return nil
}

// Masked 返回隐藏了密码的 TOML 文本，用于打印
func (c *Config) Masked() string {
	clone := *c
	if c.Voice != nil {
		v := *c.Voice
		v.Password = mask(v.Password)
		clone.Voice = &v
	}
	if c.SMS != nil {
		s := *c.SMS
		s.APIKey = mask(s.APIKey)
		clone.SMS = &s
	}
	if c.Email != nil {
		e := *c.Email
		e.SenderPassword = mask(e.SenderPassword)
		clone.Email = &e
	}
	data, err := toml.Marshal(&clone)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %v>", err)
	}
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***MASKED***"
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func fillStrings(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func fillSlice(dst *[]string, def []string) {
	if len(*dst) == 0 {
		*dst = append([]string(nil), def...)
	}
}

func fillDuration(dst *Duration, def Duration) {
	if *dst <= 0 {
		*dst = def
	}
}

// findChromeBinPath 常见的 Chrome/Chromium 安装路径
func findChromeBinPath() string {
	if envPath := os.Getenv("CHROME_BIN_PATH"); envPath != "" {
		return envPath
	}
	commonPaths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome-stable",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
		"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
