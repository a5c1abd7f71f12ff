// Package config loads the agent configuration from defaults, an optional
// YAML file and BEACON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Agent        AgentConfig        `mapstructure:"agent" yaml:"agent"`
	Collector    CollectorConfig    `mapstructure:"collector" yaml:"collector"`
	RemoteConfig RemoteConfigConfig `mapstructure:"remote_config" yaml:"remote_config"`
	Session      SessionConfig      `mapstructure:"session" yaml:"session"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Stats        StatsConfig        `mapstructure:"stats" yaml:"stats"`
	DLQ          DLQConfig          `mapstructure:"dlq" yaml:"dlq"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// AgentConfig identifies the integration this agent reports for.
type AgentConfig struct {
	ClientKey       string `mapstructure:"client_key" yaml:"client_key"`
	SiteID          string `mapstructure:"site_id" yaml:"site_id"`
	LinkedSiteID    string `mapstructure:"linked_site_id" yaml:"linked_site_id"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	SDKVersion      string `mapstructure:"sdk_version" yaml:"sdk_version"`
	SamplingEnabled bool   `mapstructure:"sampling_enabled" yaml:"sampling_enabled"`
}

type CollectorConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	TerminalCodes   []int         `mapstructure:"terminal_codes" yaml:"terminal_codes"`
}

type RemoteConfigConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SessionConfig struct {
	AutoStart   bool          `mapstructure:"auto_start" yaml:"auto_start"`
	PauseDelay  time.Duration `mapstructure:"pause_delay" yaml:"pause_delay"`
	ResumeDelay time.Duration `mapstructure:"resume_delay" yaml:"resume_delay"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

type StatsConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisURL      string        `mapstructure:"redis_url" yaml:"redis_url"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	InstanceID    string        `mapstructure:"instance_id" yaml:"instance_id"`
}

// DLQConfig selects where undeliverable batches are archived: "none",
// "file" or "jetstream".
type DLQConfig struct {
	Backend  string     `mapstructure:"backend" yaml:"backend"`
	BasePath string     `mapstructure:"base_path" yaml:"base_path"`
	NATS     NATSConfig `mapstructure:"nats" yaml:"nats"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAge        time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DLQ backends.
const (
	DLQNone      = "none"
	DLQFile      = "file"
	DLQJetStream = "jetstream"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.client_key", "")
	v.SetDefault("agent.site_id", "")
	v.SetDefault("agent.linked_site_id", "")
	v.SetDefault("agent.client_id", "")
	v.SetDefault("agent.sdk_version", "1.0.0")
	v.SetDefault("agent.sampling_enabled", false)

	v.SetDefault("collector.url", "http://localhost:8088/v1/collect")
	v.SetDefault("collector.max_attempts", 3)
	v.SetDefault("collector.initial_interval", "500ms")
	v.SetDefault("collector.max_interval", "10s")
	v.SetDefault("collector.request_timeout", "10s")
	v.SetDefault("collector.terminal_codes", []int{401, 403})

	v.SetDefault("remote_config.url", "http://localhost:8088/v1/config")
	v.SetDefault("remote_config.timeout", "10s")

	v.SetDefault("session.auto_start", true)
	v.SetDefault("session.pause_delay", "2s")
	v.SetDefault("session.resume_delay", "1s")

	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 1048576)

	v.SetDefault("stats.enabled", false)
	v.SetDefault("stats.redis_url", "redis://localhost:6379/0")
	v.SetDefault("stats.flush_interval", "10s")
	v.SetDefault("stats.instance_id", "")

	v.SetDefault("dlq.backend", DLQNone)
	v.SetDefault("dlq.base_path", "/var/lib/telhawk/beacon/dlq")
	v.SetDefault("dlq.nats.url", "nats://localhost:4222")
	v.SetDefault("dlq.nats.name", "telhawk-beacon")
	v.SetDefault("dlq.nats.max_reconnects", -1)
	v.SetDefault("dlq.nats.reconnect_wait", "2s")
	v.SetDefault("dlq.nats.timeout", "5s")
	v.SetDefault("dlq.nats.max_age", "168h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration. With an empty configPath it looks for
// beacon.yaml in the working directory and /etc/telhawk/beacon, and a
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("beacon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/telhawk/beacon")
	}

	// BEACON_COLLECTOR_URL overrides collector.url
	v.SetEnvPrefix("BEACON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Collector.URL == "" {
		errs = append(errs, errors.New("collector.url is required"))
	}
	if c.Collector.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("collector.max_attempts must be at least 1, got %d", c.Collector.MaxAttempts))
	}
	if c.Collector.RequestTimeout <= 0 {
		errs = append(errs, errors.New("collector.request_timeout must be positive"))
	}
	if c.Collector.InitialInterval <= 0 || c.Collector.MaxInterval < c.Collector.InitialInterval {
		errs = append(errs, errors.New("collector retry intervals must be positive with max_interval >= initial_interval"))
	}
	if c.RemoteConfig.URL == "" {
		errs = append(errs, errors.New("remote_config.url is required"))
	}
	if c.RemoteConfig.Timeout <= 0 {
		errs = append(errs, errors.New("remote_config.timeout must be positive"))
	}
	if c.Session.PauseDelay <= 0 || c.Session.ResumeDelay <= 0 {
		errs = append(errs, errors.New("session grace delays must be positive"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch c.DLQ.Backend {
	case DLQNone, "":
	case DLQFile:
		if c.DLQ.BasePath == "" {
			errs = append(errs, errors.New("dlq.base_path is required for the file backend"))
		}
	case DLQJetStream:
		if c.DLQ.NATS.URL == "" {
			errs = append(errs, errors.New("dlq.nats.url is required for the jetstream backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dlq.backend %q", c.DLQ.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
