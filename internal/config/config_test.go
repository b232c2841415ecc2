package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults ensures an empty file yields a fully defaulted configuration.
func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, 255, cfg.Ramp.MaxBrightness)
	require.Equal(t, 45, cfg.Ramp.DurationMinutes)
	require.Equal(t, "cancel", cfg.Ramp.Override)
	require.Equal(t, 2*time.Hour, cfg.Time.StdOffset.Duration())
	require.Equal(t, 3*time.Hour, cfg.Time.DSTOffset.Duration())
	require.Equal(t, 2*time.Second, cfg.Time.SyncDelay.Duration())
	require.Equal(t, "home/morningleds/terminalOut", cfg.MQTT.StatusTopic)
	require.Equal(t, []string{"mqtt"}, cfg.Notify.Status)
	require.Equal(t, []string{"mqtt"}, cfg.Notify.Progress)
	require.Nil(t, cfg.Notify.Replies)
	require.True(t, cfg.Ledger.IsEnabled())
	require.Equal(t, 30*24*time.Hour, cfg.Ledger.Retention())
}

// TestParse_OverridesAndEnv verifies YAML values and ${VAR:default} expansion.
func TestParse_OverridesAndEnv(t *testing.T) {
	t.Setenv("SUNRISED_TEST_TOKEN", "123:abc")

	cfg, err := Parse([]byte(`
ramp:
  max_brightness: 1023
  duration_minutes: 30
  override: keep
time:
  std_offset: 0s
  dst_offset: 1h
telegram:
  enabled: true
  token: ${SUNRISED_TEST_TOKEN}
  chat_id: -123123
web:
  port: ${SUNRISED_TEST_PORT:8080}
`))
	require.NoError(t, err)

	require.Equal(t, 1023, cfg.Ramp.MaxBrightness)
	require.Equal(t, 30, cfg.Ramp.DurationMinutes)
	require.Equal(t, "keep", cfg.Ramp.Override)
	require.Equal(t, time.Duration(0), cfg.Time.StdOffset.Duration())
	require.Equal(t, time.Hour, cfg.Time.DSTOffset.Duration())
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, int64(-123123), cfg.Telegram.ChatID)
	require.Equal(t, 8080, cfg.Web.Port)
	require.Equal(t, "0.0.0.0:8080", cfg.Web.Addr())
}

// TestParse_SchemaRejects checks structural validation of out-of-range and malformed values.
func TestParse_SchemaRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"max brightness zero":      "ramp:\n  max_brightness: 0\n",
		"max brightness too big":   "ramp:\n  max_brightness: 2000\n",
		"unknown backend":          "device:\n  backend: dmx\n",
		"bad override":             "ramp:\n  override: sometimes\n",
		"bad duration":             "time:\n  sync_delay: soon\n",
		"mqtt without broker":      "mqtt:\n  enabled: true\n",
		"telegram without token":   "telegram:\n  enabled: true\n  chat_id: 1\n",
		"unknown notify channel":   "notify:\n  replies: [sms]\n",
		"unknown progress channel": "notify:\n  progress: [pager]\n",
		"assistant relative path":  "assistant:\n  path: mcp\n",
	}

	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		require.Error(t, err, name)
	}
}

// TestDefault mirrors Load defaults without a file.
func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, "log", cfg.Device.Backend)
	require.Equal(t, "MorningLEDs", cfg.Device.Name)
	require.Equal(t, "/mcp", cfg.Assistant.Path)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout.Duration())
}
