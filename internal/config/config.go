// Package config defines the service configuration and loads it from
// defaults, an optional YAML file and COMPLIANCE_ prefixed environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Backend names accepted by the storage, documents and events sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLocalFS  = "localfs"
	BackendMinio    = "minio"
	BackendKafka    = "kafka"
	BackendRedis    = "redis"
)

// Config represents the top-level configuration.
type Config struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`

	Log       LogConfig       `mapstructure:"log"`
	Web       WebConfig       `mapstructure:"web"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Events    EventsConfig    `mapstructure:"events"`
	Inference InferenceConfig `mapstructure:"inference"`
	Scanning  ScanningConfig  `mapstructure:"scanning"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// WebConfig configures the HTTP API and the gRPC health endpoint.
type WebConfig struct {
	APIHost         string        `mapstructure:"api_host" validate:"required"`
	GRPCHost        string        `mapstructure:"grpc_host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns" validate:"gte=1"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory postgres"`
}

type DocumentsConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=memory localfs minio"`
	LocalFS LocalFSConfig `mapstructure:"localfs"`
	Minio   MinioConfig   `mapstructure:"minio"`
}

type LocalFSConfig struct {
	Root string `mapstructure:"root"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type EventsConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=memory kafka redis"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Channel  string `mapstructure:"channel"`
}

// InferenceConfig configures the Gemini client.
type InferenceConfig struct {
	Endpoint          string        `mapstructure:"endpoint" validate:"required,url"`
	Model             string        `mapstructure:"model" validate:"required"`
	APIKey            string        `mapstructure:"api_key"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
}

// ScanningConfig tunes the orchestrator.
type ScanningConfig struct {
	Workers           int           `mapstructure:"workers" validate:"gte=1"`
	PairConcurrency   int           `mapstructure:"pair_concurrency" validate:"gte=1"`
	QueueSize         int           `mapstructure:"queue_size" validate:"gte=1"`
	ChunkWindow       int           `mapstructure:"chunk_window" validate:"eq=0|gte=16"`
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout" validate:"gt=0"`
	RedactExcerpts    bool          `mapstructure:"redact_excerpts"`
}

type RulesConfig struct {
	// CatalogPath replaces the embedded framework catalog when set.
	CatalogPath string `mapstructure:"catalog_path"`
}

type TelemetryConfig struct {
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability" validate:"gte=0,lte=1"`
	Insecure         bool    `mapstructure:"insecure"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the settings each selected
// backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.Storage.Backend == BackendPostgres && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for the postgres storage backend"))
	}
	switch c.Documents.Backend {
	case BackendLocalFS:
		if c.Documents.LocalFS.Root == "" {
			errs = append(errs, errors.New("documents.localfs.root is required for the localfs backend"))
		}
	case BackendMinio:
		if c.Documents.Minio.Endpoint == "" || c.Documents.Minio.Bucket == "" {
			errs = append(errs, errors.New("documents.minio.endpoint and bucket are required for the minio backend"))
		}
	}
	switch c.Events.Backend {
	case BackendKafka:
		if len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "" {
			errs = append(errs, errors.New("events.kafka.brokers and topic are required for the kafka backend"))
		}
	case BackendRedis:
		if c.Events.Redis.Addr == "" || c.Events.Redis.Channel == "" {
			errs = append(errs, errors.New("events.redis.addr and channel are required for the redis backend"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
