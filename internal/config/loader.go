package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// COMPLIANCE_SCANNING_WORKERS=8.
const EnvPrefix = "COMPLIANCE"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load retrieves, parses and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}

var _ Loader = (*ViperLoader)(nil)

// ViperLoader layers an optional YAML file and environment variables over
// the built-in defaults.
type ViperLoader struct {
	// path is the optional YAML file; empty means defaults and env only.
	path string
}

// NewLoader creates a loader reading path when it is not empty.
func NewLoader(path string) *ViperLoader { return &ViperLoader{path: path} }

// Load reads the configuration. A missing explicit file is an error.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.path != "" {
		v.SetConfigFile(l.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "compliance-armada")

	v.SetDefault("log.level", "info")

	v.SetDefault("web.api_host", ":8080")
	v.SetDefault("web.grpc_host", ":9090")
	v.SetDefault("web.read_timeout", "10s")
	v.SetDefault("web.write_timeout", "60s")
	v.SetDefault("web.idle_timeout", "120s")
	v.SetDefault("web.shutdown_timeout", "20s")
	v.SetDefault("web.max_upload_bytes", 5<<20)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.backend", BackendMemory)

	v.SetDefault("documents.backend", BackendMemory)
	v.SetDefault("documents.localfs.root", "./data/documents")
	v.SetDefault("documents.minio.endpoint", "")
	v.SetDefault("documents.minio.access_key", "")
	v.SetDefault("documents.minio.secret_key", "")
	v.SetDefault("documents.minio.bucket", "compliance-documents")
	v.SetDefault("documents.minio.use_ssl", false)
	v.SetDefault("documents.minio.prefix", "uploads")

	v.SetDefault("events.backend", BackendMemory)
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "scan-events")
	v.SetDefault("events.kafka.group_id", "compliance-armada")
	v.SetDefault("events.kafka.client_id", "compliance-armada")
	v.SetDefault("events.redis.addr", "")
	v.SetDefault("events.redis.password", "")
	v.SetDefault("events.redis.db", 0)
	v.SetDefault("events.redis.channel", "scan-events")

	v.SetDefault("inference.endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("inference.model", "gemini-1.5-flash")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.attempt_timeout", "30s")
	v.SetDefault("inference.max_retries", 2)
	v.SetDefault("inference.requests_per_second", 5.0)
	v.SetDefault("inference.burst", 5)

	v.SetDefault("scanning.workers", 4)
	v.SetDefault("scanning.pair_concurrency", 4)
	v.SetDefault("scanning.queue_size", 64)
	v.SetDefault("scanning.chunk_window", 0)
	v.SetDefault("scanning.evaluation_timeout", "2m")
	v.SetDefault("scanning.redact_excerpts", true)

	v.SetDefault("rules.catalog_path", "")

	v.SetDefault("telemetry.exporter_endpoint", "")
	v.SetDefault("telemetry.probability", 0.05)
	v.SetDefault("telemetry.insecure", true)
}
