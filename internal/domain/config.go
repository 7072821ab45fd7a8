package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	TaskDB    TaskDBConfig    `mapstructure:"task_db"`
	AI        AIConfig        `mapstructure:"ai"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Diagnosis DiagnosisConfig `mapstructure:"diagnosis"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents the primary PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// TaskDBConfig represents the task tracker store configuration. The task
// store runs on database/sql and may point at the same database or a
// dedicated one.
type TaskDBConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// AIConfig represents the text-generation capability configuration
type AIConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	GenerationTimeout  time.Duration `mapstructure:"generation_timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	RateBurst          int           `mapstructure:"rate_burst"`
	ImageCacheSize     int           `mapstructure:"image_cache_size"`
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// CacheConfig represents Redis cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DiagnosisConfig represents diagnosis pipeline configuration
type DiagnosisConfig struct {
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	UpdateCondition  bool          `mapstructure:"update_condition"`
	MaxSummaryLength int           `mapstructure:"max_summary_length"`
	HistoryPageSize  int           `mapstructure:"history_page_size"`
}
