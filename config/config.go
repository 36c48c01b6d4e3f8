package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	OBS        OBSConfig        `yaml:"obs"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Tally      TallyConfig      `yaml:"tally"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// OBSConfig describes how to reach the scene switcher.
type OBSConfig struct {
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Password               string        `yaml:"password"`
	AutoConnect            bool          `yaml:"auto_connect"`
	ConnectTimeoutSeconds  int           `yaml:"connect_timeout_seconds"`
	RequestTimeoutSeconds  int           `yaml:"request_timeout_seconds"`
	RefreshIntervalSeconds int           `yaml:"refresh_interval_seconds"`
	ConnectTimeout         time.Duration `yaml:"-"`
	RequestTimeout         time.Duration `yaml:"-"`
	RefreshInterval        time.Duration `yaml:"-"`
}

// SchedulerConfig holds the schedule polling configuration.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
	Timezone        string        `yaml:"timezone"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// TallyConfig configures the MQTT program-scene publisher.
type TallyConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// applyEnv lets secrets and the log level come from the environment (or .env).
func (cfg *Config) applyEnv() {
	if v := os.Getenv("OBS_PASSWORD"); v != "" {
		cfg.OBS.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// ApplyDefaults fills every unset field and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.OBS.Host == "" {
		cfg.OBS.Host = "localhost"
	}
	if cfg.OBS.Port == 0 {
		cfg.OBS.Port = 4455
	}
	if cfg.OBS.ConnectTimeoutSeconds <= 0 {
		cfg.OBS.ConnectTimeoutSeconds = 3
	}
	if cfg.OBS.RequestTimeoutSeconds <= 0 {
		cfg.OBS.RequestTimeoutSeconds = 3
	}
	if cfg.OBS.RefreshIntervalSeconds <= 0 {
		cfg.OBS.RefreshIntervalSeconds = 2
	}
	cfg.OBS.ConnectTimeout = time.Duration(cfg.OBS.ConnectTimeoutSeconds) * time.Second
	cfg.OBS.RequestTimeout = time.Duration(cfg.OBS.RequestTimeoutSeconds) * time.Second
	cfg.OBS.RefreshInterval = time.Duration(cfg.OBS.RefreshIntervalSeconds) * time.Second

	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 1
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Local"
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "obs_control.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 16
	}

	if cfg.Tally.Topic == "" {
		cfg.Tally.Topic = "obs/program"
	}
	if cfg.Tally.ClientID == "" {
		cfg.Tally.ClientID = "obsctld"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
