package models

import (
	"fmt"
	"time"
)

// AuthState 认证状态机的状态
type AuthState int

const (
	AuthInit AuthState = iota
	AuthNavigatingLogin
	AuthAwaitingEmail
	AuthEmailSubmitted
	AuthAwaitingPassword
	AuthPasswordSubmitted
	AuthVerifying
	AuthAuthenticated
	AuthChallengeBlocked
	AuthFailed
)

var authStateNames = map[AuthState]string{
	AuthInit:              "init",
	AuthNavigatingLogin:   "navigating_login",
	AuthAwaitingEmail:     "awaiting_email",
	AuthEmailSubmitted:    "email_submitted",
	AuthAwaitingPassword:  "awaiting_password",
	AuthPasswordSubmitted: "password_submitted",
	AuthVerifying:         "verifying",
	AuthAuthenticated:     "authenticated",
	AuthChallengeBlocked:  "challenge_blocked",
	AuthFailed:            "failed",
}

func (s AuthState) String() string {
	if name, ok := authStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal 是否为终止状态
func (s AuthState) IsTerminal() bool {
	return s == AuthAuthenticated || s == AuthChallengeBlocked || s == AuthFailed
}

func (s AuthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AuthState) UnmarshalText(text []byte) error {
	for state, name := range authStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown auth state %q", string(text))
}

// StateTransition 一次状态迁移记录
type StateTransition struct {
	From   AuthState `json:"from"`
	To     AuthState `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// AuthOutcome 认证结果
type AuthOutcome struct {
	State       AuthState         `json:"state"`
	Reason      string            `json:"reason,omitempty"`
	ErrorKind   string            `json:"error_kind,omitempty"`
	Transitions []StateTransition `json:"transitions"`
	Artifacts   []DebugArtifact   `json:"artifacts,omitempty"`
}

func (o *AuthOutcome) Authenticated() bool {
	return o != nil && o.State == AuthAuthenticated
}

// Credentials 账号凭据，引擎只把它们当作不透明字符串
type Credentials struct {
	Account string
	Secret  string
}
