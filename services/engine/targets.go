package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/quotewing/quotewing/config"
	"github.com/quotewing/quotewing/models"
)

// 页面目标名，也是 [voice.selectors] 中的 key
const (
	TargetEmailField       = "email_field"
	TargetEmailNext        = "email_next"
	TargetPasswordField    = "password_field"
	TargetPasswordNext     = "password_next"
	TargetMessagesMarker   = "messages_marker"
	TargetComposeButton    = "compose_button"
	TargetDestinationField = "destination_field"
	TargetMessageField     = "message_field"
	TargetSendButton       = "send_button"
	TargetSentIndicator    = "sent_indicator"
)

// Locators 引擎用到的全部定位器
type Locators struct {
	EmailField       models.Locator
	EmailNext        models.Locator
	PasswordField    models.Locator
	PasswordNext     models.Locator
	MessagesMarker   models.Locator
	ComposeButton    models.Locator
	DestinationField models.Locator
	MessageField     models.Locator
	SendButton       models.Locator
	SentIndicator    models.Locator
}

// DefaultLocators Google 登录页和 Voice 消息页的候选链，越稳定的查询越靠前
func DefaultLocators() Locators {
	return Locators{
		EmailField: models.MustLocator(TargetEmailField,
			models.CSS("#identifierId"),
			models.CSS("input[name='identifier']"),
			models.CSS("input[type='email']"),
			models.XPath("//input[@type='email']"),
		),
		EmailNext: models.MustLocator(TargetEmailNext,
			models.CSS("#identifierNext"),
			models.XPath("//button[.//span[text()='Next'] or @id='next']"),
			models.XPath("//span[text()='Next']/ancestor::button"),
			models.CSS("button[type='button']"),
		),
		PasswordField: models.MustLocator(TargetPasswordField,
			models.CSS("input[name='Passwd']"),
			models.CSS("input[name='password']"),
			models.CSS("input[type='password']"),
			models.XPath("//input[@name='password' or @name='Passwd']"),
		),
		PasswordNext: models.MustLocator(TargetPasswordNext,
			models.CSS("#passwordNext"),
			models.XPath("//button[.//span[text()='Next' or text()='Sign in']]"),
			models.XPath("//span[contains(text(),'Next') or contains(text(),'Sign in')]/ancestor::button"),
			models.CSS("button[data-idom-class*='signin']"),
		),
		MessagesMarker: models.MustLocator(TargetMessagesMarker,
			models.XPath("//div[contains(@aria-label, 'Messages')]"),
			models.XPath("//div[contains(text(),'Messages')]"),
			models.XPath("//*[contains(@aria-label, 'Messages')]"),
		),
		ComposeButton: models.MustLocator(TargetComposeButton,
			models.XPath("//button[contains(@aria-label,'New message')]"),
			models.CSS("[aria-label*='Send new message']"),
			models.Text("button,div[role='button']", "/^\\s*send new message\\s*$/i"),
		),
		DestinationField: models.MustLocator(TargetDestinationField,
			models.XPath("//input[@placeholder='Enter a name or phone number']"),
			models.CSS("input[aria-label*='name or phone number']"),
			models.CSS("gv-recipient-picker input"),
		),
		MessageField: models.MustLocator(TargetMessageField,
			models.XPath("//div[@role='textbox']"),
			models.CSS("textarea[aria-label*='Type a message']"),
			models.CSS("textarea[placeholder*='Type a message']"),
		),
		SendButton: models.MustLocator(TargetSendButton,
			models.XPath("//button[contains(@aria-label,'Send message')]"),
			models.CSS("button[aria-label*='Send']"),
		),
		SentIndicator: models.MustLocator(TargetSentIndicator,
			models.XPath("//*[contains(text(),'Message sent')]"),
			models.Text("span,div", "^\\s*Sent\\s*$"),
		),
	}
}

// slots 目标名到字段的映射
func (l *Locators) slots() map[string]*models.Locator {
	return map[string]*models.Locator{
		TargetEmailField:       &l.EmailField,
		TargetEmailNext:        &l.EmailNext,
		TargetPasswordField:    &l.PasswordField,
		TargetPasswordNext:     &l.PasswordNext,
		TargetMessagesMarker:   &l.MessagesMarker,
		TargetComposeButton:    &l.ComposeButton,
		TargetDestinationField: &l.DestinationField,
		TargetMessageField:     &l.MessageField,
		TargetSendButton:       &l.SendButton,
		TargetSentIndicator:    &l.SentIndicator,
	}
}

// TargetNames 可以在配置中覆盖的目标名
func TargetNames() []string {
	var l Locators
	names := make([]string, 0, 10)
	for name := range l.slots() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithOverrides 用配置中的候选链整体替换同名目标
func (l Locators) WithOverrides(overrides map[string][]string) (Locators, error) {
	slots := l.slots()
	for name, raw := range overrides {
		slot, ok := slots[name]
		if !ok {
			return l, fmt.Errorf("unknown locator target %q", name)
		}
		loc, err := models.ParseLocator(name, raw)
		if err != nil {
			return l, err
		}
		*slot = loc
	}
	return l, nil
}

// Options 引擎的时间参数、URL 标记和定位器
type Options struct {
	Policy   Policy
	Locators Locators

	LoginURL             string
	MessagesURL          string
	AuthenticatedURLs    []string
	LoginURLMarkers      []string
	ChallengeURLMarkers  []string
	ChallengePageMarkers []string
	RateLimitMarkers     []string

	FindTimeout    time.Duration
	SettleDelay    time.Duration
	SubmitTimeout  time.Duration
	VerifyTimeout  time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	InterJobDelay  time.Duration
	TypeDelay      time.Duration

	PressEnterAfterDestination bool
	CaptureCheckpoints         bool
}

// OptionsFromConfig 从配置构造引擎参数
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	locators, err := DefaultLocators().WithOverrides(cfg.Voice.Selectors)
	if err != nil {
		return Options{}, err
	}

	e := cfg.Engine
	return Options{
		Policy: Policy{
			MaxAttempts: e.MaxAttempts,
			BaseDelay:   e.RetryDelay.Std(),
			MaxDelay:    e.MaxRetryDelay.Std(),
			Exponential: e.ExponentialBackoff,
		},
		Locators:                   locators,
		LoginURL:                   cfg.Voice.LoginURL,
		MessagesURL:                cfg.Voice.MessagesURL,
		AuthenticatedURLs:          cfg.Voice.AuthenticatedURLs,
		LoginURLMarkers:            cfg.Voice.LoginURLMarkers,
		ChallengeURLMarkers:        cfg.Voice.ChallengeURLMarkers,
		ChallengePageMarkers:       cfg.Voice.ChallengePageMarkers,
		RateLimitMarkers:           cfg.Voice.RateLimitMarkers,
		FindTimeout:                e.FindTimeout.Std(),
		SettleDelay:                e.SettleDelay.Std(),
		SubmitTimeout:              e.SubmitTimeout.Std(),
		VerifyTimeout:              e.VerifyTimeout.Std(),
		ConfirmTimeout:             e.ConfirmTimeout.Std(),
		PollInterval:               500 * time.Millisecond,
		InterJobDelay:              e.InterJobDelay.Std(),
		TypeDelay:                  e.TypeDelay.Std(),
		PressEnterAfterDestination: cfg.Voice.PressEnterAfterDestination,
		CaptureCheckpoints:         cfg.Artifacts.CaptureCheckpoints,
	}, nil
}
