// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "10s"-style values in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Database struct {
		URL             string   `yaml:"url"`
		MaxOpenConns    int      `yaml:"max_open_conns"`
		MaxIdleConns    int      `yaml:"max_idle_conns"`
		ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
		QueryTimeout    Duration `yaml:"query_timeout"`
	} `yaml:"database"`

	RabbitMQ struct {
		URL               string   `yaml:"url"`
		Exchange          string   `yaml:"exchange"`
		Prefetch          int      `yaml:"prefetch"`
		MaxRetries        int      `yaml:"max_retries"`
		MessageTTL        Duration `yaml:"message_ttl"`
		ReconnectInterval Duration `yaml:"reconnect_interval"`
		PublishTimeout    Duration `yaml:"publish_timeout"`
	} `yaml:"rabbitmq"`

	Views struct {
		FullRefreshInterval      Duration `yaml:"full_refresh_interval"`
		DashboardRefreshInterval Duration `yaml:"dashboard_refresh_interval"`
		RefreshWorkers           int      `yaml:"refresh_workers"`
	} `yaml:"views"`

	Snapshots struct {
		Frequency int64 `yaml:"frequency"` // take a snapshot every N events
	} `yaml:"snapshots"`

	Outbox struct {
		PollInterval Duration `yaml:"poll_interval"`
		BatchSize    int      `yaml:"batch_size"`
	} `yaml:"outbox"`

	HTTPAddr string `yaml:"http_addr"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset knob. Exported so tests building a
// Config by hand get the same baseline.
func (c *Config) ApplyDefaults() {
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = Duration(30 * time.Minute)
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = Duration(10 * time.Second)
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "academic.events"
	}
	if c.RabbitMQ.Prefetch == 0 {
		c.RabbitMQ.Prefetch = 10
	}
	if c.RabbitMQ.MaxRetries == 0 {
		c.RabbitMQ.MaxRetries = 3
	}
	if c.RabbitMQ.MessageTTL == 0 {
		c.RabbitMQ.MessageTTL = Duration(24 * time.Hour)
	}
	if c.RabbitMQ.ReconnectInterval == 0 {
		c.RabbitMQ.ReconnectInterval = Duration(5 * time.Second)
	}
	if c.RabbitMQ.PublishTimeout == 0 {
		c.RabbitMQ.PublishTimeout = Duration(5 * time.Second)
	}
	if c.Views.FullRefreshInterval == 0 {
		c.Views.FullRefreshInterval = Duration(time.Hour)
	}
	if c.Views.DashboardRefreshInterval == 0 {
		c.Views.DashboardRefreshInterval = Duration(15 * time.Minute)
	}
	if c.Views.RefreshWorkers == 0 {
		c.Views.RefreshWorkers = 4
	}
	if c.Snapshots.Frequency == 0 {
		c.Snapshots.Frequency = 50
	}
	if c.Outbox.PollInterval == 0 {
		c.Outbox.PollInterval = Duration(10 * time.Second)
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 50
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
}
