// Package content 内置语录库、防重复挑选和消息排版
package content

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

//go:embed catalogs/*.txt
var catalogFS embed.FS

// ErrEmptyCatalog 语录库为空
var ErrEmptyCatalog = errors.New("catalog is empty")

// Catalog 一个语录库
type Catalog struct {
	Name  string
	Title string // 消息标题前缀，例如 "Daily Meditation"
	Items []string
}

var catalogTitles = map[string]string{
	"meditations": "Daily Meditation",
	"proverbs":    "Proverb",
}

// Names 可用的语录库
func Names() []string {
	names := make([]string, 0, len(catalogTitles))
	for name := range catalogTitles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load 读取内置语录库，每行一条
func Load(name string) (*Catalog, error) {
	title, ok := catalogTitles[name]
	if !ok {
		return nil, errors.Errorf("unknown catalog %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	data, err := catalogFS.ReadFile("catalogs/" + name + ".txt")
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", name)
	}

	c := &Catalog{Name: name, Title: title}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			c.Items = append(c.Items, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "parse catalog %s", name)
	}
	if len(c.Items) == 0 {
		return nil, errors.Wrap(ErrEmptyCatalog, name)
	}
	return c, nil
}

// Rand 只用到 Intn，测试中可以替换成固定序列
type Rand interface {
	Intn(n int) int
}

// Pick 从 n 条中挑一条最近 window 次没有发过的。
// recent 按从旧到新排列，不会被修改；返回的新历史同样从旧到新，长度不超过 window。
// window 会被限制在 n-1 以内，越界的旧下标直接丢弃。
func Pick(n int, recent []int, window int, rnd Rand) (int, []int, error) {
	if n <= 0 {
		return 0, nil, ErrEmptyCatalog
	}
	if window > n-1 {
		window = n - 1
	}
	if window < 0 {
		window = 0
	}

	kept := make([]int, 0, len(recent)+1)
	for _, idx := range recent {
		if idx >= 0 && idx < n {
			kept = append(kept, idx)
		}
	}
	kept = lastN(kept, window)

	excluded := make(map[int]bool, len(kept))
	for _, idx := range kept {
		excluded[idx] = true
	}
	available := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !excluded[i] {
			available = append(available, i)
		}
	}
	// 全部发过时重置历史
	if len(available) == 0 {
		kept = kept[:0]
		for i := 0; i < n; i++ {
			available = append(available, i)
		}
	}

	picked := available[rnd.Intn(len(available))]
	return picked, lastN(append(kept, picked), window), nil
}

func lastN(s []int, n int) []int {
	if n <= 0 {
		return []int{}
	}
	if len(s) > n {
		return append([]int(nil), s[len(s)-n:]...)
	}
	return s
}

// Message 一条排好版的消息
type Message struct {
	Number  int    `json:"number"` // 从 1 开始
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

var emailTemplate = template.Must(template.New("email").Parse(`<html>
  <body>
    <div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px;">
      <h2 style="color: #333; border-bottom: 1px solid #ddd; padding-bottom: 10px;">{{.Subject}}</h2>
      <p style="font-size: 18px; line-height: 1.6; color: #555; margin: 20px 0; padding: 15px; background-color: #f9f9f9; border-left: 4px solid #4CAF50; font-style: italic;">
        {{.Item}}
      </p>
      <p style="color: #777; font-size: 14px; text-align: center; margin-top: 30px;">
        Sent on {{.Date}}
      </p>
    </div>
  </body>
</html>
`))

// Format 排版第 index 条（从 0 开始）
func (c *Catalog) Format(index int, date time.Time) (Message, error) {
	if index < 0 || index >= len(c.Items) {
		return Message{}, errors.Errorf("index %d out of range for catalog %s (%d items)", index, c.Name, len(c.Items))
	}
	item := c.Items[index]
	number := index + 1

	msg := Message{
		Number:  number,
		Subject: fmt.Sprintf("%s #%d - %s", c.Title, number, date.Format("2006-01-02")),
		Text:    fmt.Sprintf("%s #%d:\n\n%s", c.Title, number, item),
	}

	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]string{
		"Subject": msg.Subject,
		"Item":    item,
		"Date":    date.Format("Monday, January 02, 2006"),
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "render email body")
	}
	msg.HTML = buf.String()
	return msg, nil
}
