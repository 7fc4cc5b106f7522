package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration of the alert engine
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Collector CollectorConfig `mapstructure:"collector"`
}

// AppConfig holds process level settings
type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// NATSConfig holds the connection settings of the metric ingress broker
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	BridgeEvents   bool          `mapstructure:"bridge_events"`
}

// StorageConfig holds the SQLite database location
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig tunes evaluation and in-memory state
type EngineConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	AnomalyWindowSize int           `mapstructure:"anomaly_window_size"`
	AnomalyMaxWindows int           `mapstructure:"anomaly_max_windows"`
	SeriesCapacity    int           `mapstructure:"series_capacity"`
	SeriesMaxAge      time.Duration `mapstructure:"series_max_age"`
	EventBuffer       int           `mapstructure:"event_buffer"`
}

// NotifyConfig holds channel backend credentials
type NotifyConfig struct {
	Timeout  time.Duration  `mapstructure:"timeout"`
	Email    EmailConfig    `mapstructure:"email"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// EmailConfig configures the SMTP sender
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// SMSConfig configures the HTTP SMS provider
type SMSConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
}

// TelegramConfig configures the Telegram bot sender
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// CollectorConfig configures the host metrics producer
type CollectorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Scope    string        `mapstructure:"scope"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alertd")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":9090")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.bridge_events", true)

	v.SetDefault("storage.path", "alerts.db")

	v.SetDefault("engine.sweep_interval", 30*time.Second)
	v.SetDefault("engine.refresh_interval", 5*time.Minute)
	v.SetDefault("engine.anomaly_window_size", 100)
	v.SetDefault("engine.anomaly_max_windows", 10000)
	v.SetDefault("engine.series_capacity", 1000)
	v.SetDefault("engine.series_max_age", 2*time.Hour)
	v.SetDefault("engine.event_buffer", 64)

	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.email.port", 587)

	v.SetDefault("collector.enabled", false)
	v.SetDefault("collector.interval", 15*time.Second)
}

// Load reads the configuration from the given directory. A missing config
// file is not an error; defaults and ALERTD_* environment variables apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("alertd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be positive")
	}
	if c.Engine.RefreshInterval <= 0 {
		return fmt.Errorf("engine.refresh_interval must be positive")
	}
	if c.Engine.AnomalyWindowSize <= 0 {
		return fmt.Errorf("engine.anomaly_window_size must be positive")
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be positive")
	}
	return nil
}
