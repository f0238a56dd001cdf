package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/quotewing/quotewing/models"
	"github.com/quotewing/quotewing/services/driver"
)

const (
	testLoginURL    = "https://accounts.example.com/signin?continue=https://app.example.com/messages"
	testMessagesURL = "https://app.example.com/messages"
	testChallenge   = "https://accounts.example.com/challenge/selection"
)

var pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d}

type fakeElement struct {
	query models.Query
}

func (e *fakeElement) Describe() string {
	return e.query.String()
}

// fakeDriver 内存中的浏览器，按 selector 控制元素是否存在
type fakeDriver struct {
	mu sync.Mutex

	url       string
	html      string
	redirects map[string]string // Navigate 目标 -> 实际落地 URL

	missing     map[string]bool
	missingWhen func(f *fakeDriver, q models.Query) bool
	onClick     func(f *fakeDriver, selector string) error
	onFind      func(f *fakeDriver, q models.Query)
	waitMissing bool // 缺失的元素像真实浏览器一样等满 timeout

	screenshotErr error
	snapshotErr   error

	finds           []models.Query
	typed           map[string][]string
	clicks          map[string]int
	navigations     []string
	lastDestination string
	enters          int
	persisted       int
	closeCalls      int
}

func newFakeDriver() *fakeDriver {
	f := &fakeDriver{
		html:      "<html><body><h1>Sign in</h1></body></html>",
		redirects: map[string]string{},
		missing:   map[string]bool{},
		typed:     map[string][]string{},
		clicks:    map[string]int{},
	}
	// 提交密码后跳转到已登录页面
	f.onClick = func(f *fakeDriver, selector string) error {
		if selector == "#password-next" {
			f.url = testMessagesURL
		}
		return nil
	}
	return f
}

func (f *fakeDriver) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	if target, ok := f.redirects[url]; ok {
		f.url = target
	} else {
		f.url = url
	}
	return nil
}

func (f *fakeDriver) Find(ctx context.Context, q models.Query, timeout time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.finds = append(f.finds, q)
	onFind := f.onFind
	waitMissing := f.waitMissing
	absent := f.missing[q.Selector] || (f.missingWhen != nil && f.missingWhen(f, q))
	f.mu.Unlock()

	if onFind != nil {
		onFind(f, q)
	}
	if absent {
		if waitMissing && timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		return nil, errors.Wrap(driver.ErrElementAbsent, q.String())
	}
	return &fakeElement{query: q}, nil
}

func (f *fakeDriver) Type(ctx context.Context, el driver.Element, text string, perCharDelay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	selector := el.(*fakeElement).query.Selector
	f.typed[selector] = append(f.typed[selector], text)
	if selector == "#to" {
		f.lastDestination = text
	}
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, el driver.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	selector := el.(*fakeElement).query.Selector
	f.clicks[selector]++
	if f.onClick != nil {
		return f.onClick(f, selector)
	}
	return nil
}

func (f *fakeDriver) PressEnter(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enters++
	return nil
}

func (f *fakeDriver) PersistCookies(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
	return nil
}

func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeDriver) PageSnapshot(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshotErr != nil {
		return "", f.snapshotErr
	}
	return f.html, nil
}

func (f *fakeDriver) VisualSnapshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screenshotErr != nil {
		return nil, f.screenshotErr
	}
	return pngHeader, nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeDriver) findCount(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.finds {
		if q.Selector == selector {
			n++
		}
	}
	return n
}

func testLocators() Locators {
	return Locators{
		EmailField:       models.MustLocator(TargetEmailField, models.CSS("#email")),
		EmailNext:        models.MustLocator(TargetEmailNext, models.CSS("#email-next")),
		PasswordField:    models.MustLocator(TargetPasswordField, models.CSS("#password")),
		PasswordNext:     models.MustLocator(TargetPasswordNext, models.CSS("#password-next")),
		MessagesMarker:   models.MustLocator(TargetMessagesMarker, models.CSS("#messages")),
		ComposeButton:    models.MustLocator(TargetComposeButton, models.CSS("#compose")),
		DestinationField: models.MustLocator(TargetDestinationField, models.CSS("#to")),
		MessageField:     models.MustLocator(TargetMessageField, models.CSS("#body")),
		SendButton:       models.MustLocator(TargetSendButton, models.CSS("#send")),
		SentIndicator:    models.MustLocator(TargetSentIndicator, models.CSS("#sent")),
	}
}

func testOptions() Options {
	return Options{
		Policy:               Policy{MaxAttempts: 3},
		Locators:             testLocators(),
		LoginURL:             testLoginURL,
		MessagesURL:          testMessagesURL,
		AuthenticatedURLs:    []string{"app.example.com"},
		LoginURLMarkers:      []string{"accounts.example.com", "signin"},
		ChallengeURLMarkers:  []string{"challenge/selection", "challenge/2"},
		ChallengePageMarkers: []string{"suspicious"},
		RateLimitMarkers:     []string{"try again later", "too many attempts"},
		PollInterval:         time.Millisecond,
	}
}

func newTestSession(t *testing.T, f *fakeDriver, opts Options) *Session {
	t.Helper()
	collector := NewCollector(CollectorConfig{Dir: t.TempDir()})
	return NewSession(f, collector, opts)
}

var testCreds = models.Credentials{Account: "someone@example.com", Secret: "hunter2"}
