package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBSource    string `mapstructure:"db_source"`
	Port        string `mapstructure:"server_port"`
	Env         string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	StoreDriver string `mapstructure:"store_driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`

	AnthropicAPIKey   string        `mapstructure:"anthropic_api_key"`
	ProviderModel     string        `mapstructure:"provider_model"`
	ProviderTimeout   time.Duration `mapstructure:"provider_timeout"`
	ProviderMaxOutput int           `mapstructure:"provider_max_output"`

	PremiumReportCost   int64 `mapstructure:"premium_report_cost"`
	LowBalanceThreshold int64 `mapstructure:"low_balance_threshold"`

	WorkerCount     int           `mapstructure:"worker_count"`
	WorkerQueueSize int           `mapstructure:"worker_queue_size"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepAfter      time.Duration `mapstructure:"sweep_after"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_source", "")
	v.SetDefault("server_port", "8080")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", "postgres")
	v.SetDefault("sqlite_path", "reportledger.db")

	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("provider_model", "claude-sonnet-4-20250514")
	v.SetDefault("provider_timeout", "90s")
	v.SetDefault("provider_max_output", 4096)

	v.SetDefault("premium_report_cost", 1)
	v.SetDefault("low_balance_threshold", 2)

	v.SetDefault("worker_count", 4)
	v.SetDefault("worker_queue_size", 100)
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("sweep_after", "5m")
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_channel", "reportledger.events")
}

// Load reads defaults, then the optional YAML file at path, then the
// environment (DB_SOURCE, SERVER_PORT, ...), later sources winning.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.PremiumReportCost <= 0 {
		return fmt.Errorf("PREMIUM_REPORT_COST must be positive")
	}
	if c.WorkerCount <= 0 || c.WorkerQueueSize <= 0 {
		return fmt.Errorf("WORKER_COUNT and WORKER_QUEUE_SIZE must be positive")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	// a request still inside its provider call must never look orphaned
	if c.SweepAfter <= c.ProviderTimeout {
		return fmt.Errorf("SWEEP_AFTER (%s) must exceed PROVIDER_TIMEOUT (%s)", c.SweepAfter, c.ProviderTimeout)
	}
	return nil
}
