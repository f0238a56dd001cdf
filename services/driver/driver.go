// Package driver 浏览器自动化句柄的抽象，引擎只依赖这里的接口
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/quotewing/quotewing/models"
)

// ErrElementAbsent 候选查询在超时时间内没有匹配到可见元素
var ErrElementAbsent = errors.New("element absent")

// ErrClosed 会话已关闭
var ErrClosed = errors.New("driver closed")

// Element 已定位的元素，对引擎不透明
type Element interface {
	Describe() string
}

// Driver 引擎需要的最小浏览器能力
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// Find 在 timeout 内等待 q 匹配到可见元素，未匹配返回 ErrElementAbsent
	Find(ctx context.Context, q models.Query, timeout time.Duration) (Element, error)
	// Type 清空元素后逐字符输入，perCharDelay 为 0 时一次性输入
	Type(ctx context.Context, el Element, text string, perCharDelay time.Duration) error
	Click(ctx context.Context, el Element) error
	CurrentURL(ctx context.Context) (string, error)
	// PageSnapshot 页面结构快照（HTML）
	PageSnapshot(ctx context.Context) (string, error)
	// VisualSnapshot 页面截图
	VisualSnapshot(ctx context.Context) ([]byte, error)
	Close() error
}

// KeyPresser 可选能力：向当前焦点元素发送回车
type KeyPresser interface {
	PressEnter(ctx context.Context) error
}

// CookiePersister 可选能力：登录成功后保存 Cookie，下次启动直接复用会话
type CookiePersister interface {
	PersistCookies(ctx context.Context) error
}

// Opener 创建新的浏览器会话
type Opener func(ctx context.Context) (Driver, error)
