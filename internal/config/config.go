package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Device          DeviceConfig    `yaml:"device"`
	Ramp            RampConfig      `yaml:"ramp"`
	Time            TimeConfig      `yaml:"time"`
	Web             WebConfig       `yaml:"web"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	Telegram        TelegramConfig  `yaml:"telegram"`
	Assistant       AssistantConfig `yaml:"assistant"`
	Notify          NotifyConfig    `yaml:"notify"`
	Database        DatabaseConfig  `yaml:"database"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// DeviceConfig describes the single light output
type DeviceConfig struct {
	Name    string `yaml:"name"`    // Announced in the startup notification
	Backend string `yaml:"backend"` // "serial", "keylight" or "log"

	// Serial bridge settings (backend: serial)
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	// Elgato Key Light settings (backend: keylight)
	KeylightAddr    string   `yaml:"keylight_addr"`
	KeylightTimeout Duration `yaml:"keylight_timeout"`
}

// RampConfig contains sunrise ramp defaults
type RampConfig struct {
	MaxBrightness   int    `yaml:"max_brightness"`
	DurationMinutes int    `yaml:"duration_minutes"`
	MaxDuration     int    `yaml:"max_duration"` // Upper bound accepted by /setduration
	Override        string `yaml:"override"`     // "cancel" or "keep"
}

// TimeConfig contains clock synchronization and DST rule settings
type TimeConfig struct {
	NTPServer    string   `yaml:"ntp_server"` // Empty = trust the host clock
	NTPTimeout   Duration `yaml:"ntp_timeout"`
	SyncAttempts int      `yaml:"sync_attempts"`
	SyncDelay    Duration `yaml:"sync_delay"`
	StdOffset    Duration `yaml:"std_offset"`
	DSTOffset    Duration `yaml:"dst_offset"`
	DSTRefresh   Duration `yaml:"dst_refresh"` // 0 = evaluate once at boot
}

// WebConfig contains the local web UI server settings
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig contains broker channel settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"` // e.g. tcp://192.168.0.10:1883
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	CommandTopic   string   `yaml:"command_topic"`
	StatusTopic    string   `yaml:"status_topic"`
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// TelegramConfig contains chat bot channel settings
type TelegramConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Token       string   `yaml:"token"`
	ChatID      int64    `yaml:"chat_id"`
	PollTimeout Duration `yaml:"poll_timeout"`
	RateLimit   float64  `yaml:"rate_limit"` // Outbound messages per second
}

// AssistantConfig contains MCP tool endpoint settings (mounted on the web server)
type AssistantConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NotifyConfig selects which channels receive each class of notification.
// An empty list means every enabled channel.
type NotifyConfig struct {
	Replies   []string `yaml:"replies"`
	Status    []string `yaml:"status"`
	Progress  []string `yaml:"progress"` // Ramp started/finished notices
	QueueSize int      `yaml:"queue_size"`
	Timeout   Duration `yaml:"timeout"` // Per-message delivery timeout
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
	QueueSize       int      `yaml:"queue_size"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Retention returns the retention period as a duration
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Addr returns the web server listen address
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands, validates and decodes raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := []byte(expandEnvVars(string(data)))

	if err := validateSchema(expanded); err != nil {
		return nil, err
	}

	cfg := seeded()
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := seeded()
	applyDefaults(&cfg)
	return &cfg
}

// seeded returns a Config holding defaults for fields whose zero value is meaningful
// (a zero UTC offset is a valid setting), so YAML only overrides what is present.
func seeded() Config {
	return Config{
		Time: TimeConfig{
			StdOffset: Duration(2 * time.Hour),
			DSTOffset: Duration(3 * time.Hour),
		},
		Web: WebConfig{Enabled: true},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// Device defaults
	if cfg.Device.Name == "" {
		cfg.Device.Name = "MorningLEDs"
	}
	if cfg.Device.Backend == "" {
		cfg.Device.Backend = "log"
	}
	if cfg.Device.BaudRate == 0 {
		cfg.Device.BaudRate = 115200
	}
	if cfg.Device.KeylightTimeout == 0 {
		cfg.Device.KeylightTimeout = Duration(5 * time.Second)
	}

	// Ramp defaults
	if cfg.Ramp.MaxBrightness == 0 {
		cfg.Ramp.MaxBrightness = 255
	}
	if cfg.Ramp.DurationMinutes == 0 {
		cfg.Ramp.DurationMinutes = 45
	}
	if cfg.Ramp.MaxDuration == 0 {
		cfg.Ramp.MaxDuration = 24 * 60
	}
	if cfg.Ramp.Override == "" {
		cfg.Ramp.Override = "cancel"
	}

	// Time defaults
	if cfg.Time.NTPTimeout == 0 {
		cfg.Time.NTPTimeout = Duration(5 * time.Second)
	}
	if cfg.Time.SyncAttempts == 0 {
		cfg.Time.SyncAttempts = 10
	}
	if cfg.Time.SyncDelay == 0 {
		cfg.Time.SyncDelay = Duration(2 * time.Second)
	}

	// Web defaults
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 80
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "sunrised"
	}
	if cfg.MQTT.StatusTopic == "" {
		cfg.MQTT.StatusTopic = "home/morningleds/terminalOut"
	}
	if cfg.MQTT.CommandTopic == "" {
		cfg.MQTT.CommandTopic = "home/morningleds/terminalIn"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}

	// Telegram defaults
	if cfg.Telegram.PollTimeout == 0 {
		cfg.Telegram.PollTimeout = Duration(20 * time.Second)
	}
	if cfg.Telegram.RateLimit == 0 {
		cfg.Telegram.RateLimit = 1.0 // Telegram allows roughly one message per second per chat
	}

	// Assistant defaults
	if cfg.Assistant.Path == "" {
		cfg.Assistant.Path = "/mcp"
	}

	// Notification defaults
	if cfg.Notify.Status == nil {
		cfg.Notify.Status = []string{"mqtt"}
	}
	if cfg.Notify.Progress == nil {
		cfg.Notify.Progress = []string{"mqtt"}
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = 64
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = Duration(10 * time.Second)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./sunrised.sqlite"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.QueueSize <= 0 {
		cfg.Ledger.QueueSize = 256
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
