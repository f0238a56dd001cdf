package models

import (
	"encoding/json"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// CookieStore 保存的浏览器 Cookie，用于复用已登录会话
type CookieStore struct {
	ID        string                 `json:"id"`
	Account   string                 `json:"account"`
	Cookies   []*proto.NetworkCookie `json:"cookies"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (c *CookieStore) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

func (c *CookieStore) FromJSON(data []byte) error {
	return json.Unmarshal(data, c)
}
