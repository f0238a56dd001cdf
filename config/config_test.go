package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "meditations", cfg.Content.Catalog)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.FileExists(t, path)

	// 写出的默认配置可以再次读取
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Voice.LoginURL, again.Voice.LoginURL)
	assert.Equal(t, cfg.Engine.FindTimeout, again.Engine.FindTimeout)
}

func TestLoadFillsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
recipients = ["+15551234567"]

[engine]
max_attempts = 5
find_timeout = "3s"

[content]
catalog = "proverbs"
channel = "email"

[voice.selectors]
send_button = ["button[aria-label='Send']"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Engine.FindTimeout.Std())
	assert.Equal(t, Default().Engine.SubmitTimeout, cfg.Engine.SubmitTimeout)
	assert.Equal(t, "proverbs", cfg.Content.Catalog)
	assert.Equal(t, 7, cfg.Content.HistorySize)
	assert.Equal(t, []string{"+15551234567"}, cfg.Recipients)
	assert.Equal(t, []string{"button[aria-label='Send']"}, cfg.Voice.Selectors["send_button"])
	assert.NotEmpty(t, cfg.Voice.ChallengeURLMarkers)
	assert.Equal(t, "08:00", cfg.Schedule.SendAt)
	require.NotNil(t, cfg.Log)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejectsInvalidToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\nmax_attempts = "), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nfind_timeout = \"soon\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GVOICE_EMAIL", "me@example.com")
	t.Setenv("GVOICE_PASSWORD", "hunter2")
	t.Setenv("RECIPIENTS", "+15551234567, +15559876543,")
	t.Setenv("RECIPIENT_EMAIL", "a@example.com,b@example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMS_API_KEY", "textbelt")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", cfg.Voice.Email)
	assert.Equal(t, "hunter2", cfg.Voice.Password)
	assert.Equal(t, []string{"+15551234567", "+15559876543"}, cfg.Recipients)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.Recipients)
	assert.Equal(t, 465, cfg.Email.SMTPPort)
	assert.Equal(t, "textbelt", cfg.SMS.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate("voice"))
	assert.Error(t, cfg.Validate("sms"))
	assert.Error(t, cfg.Validate("email"))
	assert.Error(t, cfg.Validate("pigeon"))

	cfg.Voice.Email = "me@example.com"
	cfg.Voice.Password = "secret"
	assert.Error(t, cfg.Validate("voice"), "recipients still missing")
	cfg.Recipients = []string{"+15551234567"}
	assert.NoError(t, cfg.Validate("voice"))

	cfg.SMS.APIKey = "key"
	assert.NoError(t, cfg.Validate("sms"))

	cfg.Email.SenderEmail = "bot@example.com"
	cfg.Email.SenderPassword = "secret"
	assert.Error(t, cfg.Validate("email"))
	cfg.Email.Recipients = []string{"reader@example.com"}
	assert.NoError(t, cfg.Validate("email"))
}

func TestMaskedHidesSecrets(t *testing.T) {
	cfg := Default()
	cfg.Voice.Password = "voice-secret"
	cfg.SMS.APIKey = "sms-secret"
	cfg.Email.SenderPassword = "mail-secret"

	out := cfg.Masked()
	assert.NotContains(t, out, "voice-secret")
	assert.NotContains(t, out, "sms-secret")
	assert.NotContains(t, out, "mail-secret")
	assert.Contains(t, out, "***MASKED***")

	// 原配置不受影响
	assert.Equal(t, "voice-secret", cfg.Voice.Password)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
