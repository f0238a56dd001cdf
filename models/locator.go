package models

import (
	"fmt"
	"strings"
)

// Strategy 元素定位策略
type Strategy string

const (
	StrategyCSS   Strategy = "css"   // CSS 选择器
	StrategyXPath Strategy = "xpath" // XPath 选择器
	StrategyText  Strategy = "text"  // CSS 选择器 + 文本正则匹配
)

// Query 单个候选定位查询，对引擎来说是不透明的
type Query struct {
	Strategy Strategy `json:"strategy" toml:"strategy"`
	Selector string   `json:"selector" toml:"selector"`
	Pattern  string   `json:"pattern,omitempty" toml:"pattern,omitempty"` // 仅 text 策略使用，JavaScript 正则
}

func CSS(selector string) Query {
	return Query{Strategy: StrategyCSS, Selector: selector}
}

func XPath(selector string) Query {
	return Query{Strategy: StrategyXPath, Selector: selector}
}

// Text 匹配 selector 命中且文本满足 pattern 的元素。
// pattern 在页面里用 JavaScript 的 RegExp 执行，不支持 Go 的 (?i) 写法；
// 需要标志时写成 /pattern/flags，例如 /^send$/i
func Text(selector, pattern string) Query {
	return Query{Strategy: StrategyText, Selector: selector, Pattern: pattern}
}

func (q Query) String() string {
	if q.Strategy == StrategyText {
		return fmt.Sprintf("text:%s::%s", q.Selector, q.Pattern)
	}
	return fmt.Sprintf("%s:%s", q.Strategy, q.Selector)
}

// ParseQuery 解析配置中的查询字符串，格式:
//
//	css:#identifierId
//	xpath://input[@type='email']
//	text:button::^Send$
//	text:button::/^send$/i
//
// text 策略的 pattern 是 JavaScript 正则
func ParseQuery(raw string) (Query, error) {
	strategy, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || rest == "" {
		return Query{}, fmt.Errorf("invalid query %q: expected <strategy>:<selector>", raw)
	}

	switch Strategy(strategy) {
	case StrategyCSS:
		return CSS(rest), nil
	case StrategyXPath:
		return XPath(rest), nil
	case StrategyText:
		selector, pattern, ok := strings.Cut(rest, "::")
		if !ok || selector == "" || pattern == "" {
			return Query{}, fmt.Errorf("invalid text query %q: expected text:<selector>::<pattern>", raw)
		}
		return Text(selector, pattern), nil
	default:
		return Query{}, fmt.Errorf("invalid query %q: unknown strategy %q", raw, strategy)
	}
}

// Locator 一个逻辑 UI 目标的有序候选查询列表
// 构造后不可变；顺序即优先级（最稳定的放在最前面）
type Locator struct {
	name    string
	queries []Query
}

// NewLocator 创建 Locator，候选列表不能为空
func NewLocator(name string, queries ...Query) (Locator, error) {
	if len(queries) == 0 {
		return Locator{}, fmt.Errorf("locator %q: at least one candidate query is required", name)
	}
	for i, q := range queries {
		if q.Selector == "" {
			return Locator{}, fmt.Errorf("locator %q: candidate %d has an empty selector", name, i)
		}
	}
	owned := make([]Query, len(queries))
	copy(owned, queries)
	return Locator{name: name, queries: owned}, nil
}

// MustLocator 用于内置的候选链
func MustLocator(name string, queries ...Query) Locator {
	l, err := NewLocator(name, queries...)
	if err != nil {
		panic(err)
	}
	return l
}

// ParseLocator 由配置中的字符串列表构造 Locator
func ParseLocator(name string, raw []string) (Locator, error) {
	queries := make([]Query, 0, len(raw))
	for _, r := range raw {
		q, err := ParseQuery(r)
		if err != nil {
			return Locator{}, fmt.Errorf("locator %q: %w", name, err)
		}
		queries = append(queries, q)
	}
	return NewLocator(name, queries...)
}

func (l Locator) Name() string {
	return l.name
}

// Queries 返回候选列表的副本
func (l Locator) Queries() []Query {
	out := make([]Query, len(l.queries))
	copy(out, l.queries)
	return out
}

func (l Locator) Len() int {
	return len(l.queries)
}

func (l Locator) IsZero() bool {
	return len(l.queries) == 0
}
