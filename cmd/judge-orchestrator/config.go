package main

import (
	"fmt"
	"os"
	"time"

	"wbuoj/internal/common/cache"
	"wbuoj/internal/common/db"
	"wbuoj/internal/common/mq"
	"wbuoj/internal/common/storage"
	"wbuoj/internal/judge/service"
	"wbuoj/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
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

// JudgeConfig holds orchestrator settings.
type JudgeConfig struct {
	Domain        string `yaml:"domain"`
	PublicBaseURL string `yaml:"publicBaseURL"`

	WorkerToken   string               `yaml:"workerToken"`
	InternalToken string               `yaml:"internalToken"`
	Credentials   []service.Credential `yaml:"credentials"`

	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`

	LinkSecret       string        `yaml:"linkSecret"`
	LinkTTL          time.Duration `yaml:"linkTTL"`
	ManifestCacheTTL time.Duration `yaml:"manifestCacheTTL"`

	TaskTTL          time.Duration `yaml:"taskTTL"`
	DispatchInterval time.Duration `yaml:"dispatchInterval"`
	PingInterval     time.Duration `yaml:"pingInterval"`

	SessionTTL           time.Duration `yaml:"sessionTTL"`
	SessionSweepInterval time.Duration `yaml:"sessionSweepInterval"`

	EventTopic       string `yaml:"eventTopic"`
	ArtifactBucket   string `yaml:"artifactBucket"`
	MaxArtifactBytes int64  `yaml:"maxArtifactBytes"`
}

// AppConfig holds judge-orchestrator configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Judge    JudgeConfig         `yaml:"judge"`
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
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout <= 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Judge.LinkSecret == "" {
		return nil, fmt.Errorf("judge.linkSecret is required")
	}
	if len(cfg.Judge.Credentials) == 0 && cfg.Judge.WorkerToken == "" {
		return nil, fmt.Errorf("judge.credentials or judge.workerToken is required")
	}
	return &cfg, nil
}
