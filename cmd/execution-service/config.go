package main

import (
	"fmt"
	"os"
	"time"

	"arenaoj/internal/common/cache"
	"arenaoj/internal/common/db"
	"arenaoj/internal/common/http/middleware"
	"arenaoj/internal/common/mq"
	"arenaoj/internal/common/storage"
	"arenaoj/internal/execution/engine"
	"arenaoj/internal/execution/service"
	"arenaoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8088"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ExecutionConfig holds execution pipeline settings.
type ExecutionConfig struct {
	SourceBucket       string                  `yaml:"sourceBucket"`
	SourceKeyPrefix    string                  `yaml:"sourceKeyPrefix"`
	MaxCodeBytes       int                     `yaml:"maxCodeBytes"`
	IdempotencyTTL     time.Duration           `yaml:"idempotencyTTL"`
	AcceptedTopic      string                  `yaml:"acceptedTopic"`
	SubmissionLinkFmt  string                  `yaml:"submissionLinkFmt"`
	SubmissionCacheTTL time.Duration           `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration           `yaml:"submissionEmptyTTL"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig holds execution-service configuration.
type AppConfig struct {
	Server    ServerConfig         `yaml:"server"`
	Logger    logger.Config        `yaml:"logger"`
	Database  db.MySQLConfig       `yaml:"database"`
	Redis     cache.RedisConfig    `yaml:"redis"`
	Kafka     mq.KafkaConfig       `yaml:"kafka"`
	MinIO     storage.MinIOConfig  `yaml:"minio"`
	JWT       middleware.JWTConfig `yaml:"jwt"`
	Engine    engine.ClientConfig  `yaml:"engine"`
	Poller    engine.PollerConfig  `yaml:"poller"`
	Execution ExecutionConfig      `yaml:"execution"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		// Execute requests block until the engine finishes, so the write
		// timeout has to outlast the poller's wall-clock bound.
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Engine.BaseURL == "" {
		return nil, fmt.Errorf("engine base URL is required")
	}

	if cfg.Execution.SourceBucket == "" {
		cfg.Execution.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Execution.SourceBucket == "" {
		return nil, fmt.Errorf("source bucket is required")
	}
	if cfg.Execution.MaxCodeBytes == 0 {
		cfg.Execution.MaxCodeBytes = 256 * 1024
	}
	if cfg.Execution.IdempotencyTTL == 0 {
		cfg.Execution.IdempotencyTTL = 10 * time.Minute
	}
	if cfg.Execution.AcceptedTopic == "" {
		cfg.Execution.AcceptedTopic = "submission.accepted"
	}
	if cfg.Execution.SubmissionCacheTTL == 0 {
		cfg.Execution.SubmissionCacheTTL = 30 * time.Minute
	}
	if cfg.Execution.SubmissionEmptyTTL == 0 {
		cfg.Execution.SubmissionEmptyTTL = 5 * time.Minute
	}
	if cfg.Execution.RateLimit.Window == 0 {
		cfg.Execution.RateLimit.Window = time.Minute
	}
	if cfg.Execution.RateLimit.UserMax == 0 {
		cfg.Execution.RateLimit.UserMax = 10
	}
	if cfg.Execution.RateLimit.IPMax == 0 {
		cfg.Execution.RateLimit.IPMax = 30
	}
	if cfg.Execution.Timeouts.DB == 0 {
		cfg.Execution.Timeouts.DB = 3 * time.Second
	}
	if cfg.Execution.Timeouts.Cache == 0 {
		cfg.Execution.Timeouts.Cache = 1 * time.Second
	}
	if cfg.Execution.Timeouts.MQ == 0 {
		cfg.Execution.Timeouts.MQ = 3 * time.Second
	}
	if cfg.Execution.Timeouts.Storage == 0 {
		cfg.Execution.Timeouts.Storage = 5 * time.Second
	}

	return &cfg, nil
}
