// Package config loads runtime configuration from an optional YAML file
// with environment variables layered on top.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"TRACEBOOK_STORAGE_DRIVER"`
	Path   string `yaml:"path" env:"TRACEBOOK_STORAGE_PATH"`
	DSN    string `yaml:"dsn" env:"TRACEBOOK_STORAGE_DSN"`
}

type TracingConfig struct {
	// Enabled gates all persistence. Disabled installs generate ids but
	// write nothing, so pipeline code runs unchanged.
	Enabled bool `yaml:"enabled" env:"TRACEBOOK_TRACING_ENABLED"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"TRACEBOOK_LOG_LEVEL"`
	Format string `yaml:"format" env:"TRACEBOOK_LOG_FORMAT"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled" env:"OTEL_ENABLED"`
	Endpoint               string  `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure               bool    `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName            string  `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio" env:"OTEL_TRACES_SAMPLER_ARG"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "tracebook"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "tracebook.db",
		},
		Tracing: TracingConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

// Load reads path when it exists, overlays environment variables, and
// returns the merged configuration. A missing file is not an error; the
// defaults plus environment apply.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// Reject multi-document configs so trailing documents cannot
			// silently shadow the first.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	switch strings.TrimSpace(cfg.Storage.Driver) {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of text, json (got %q)", cfg.Logging.Format)
	}

	otel := cfg.Observability.OTel
	if otel.Enabled {
		if strings.TrimSpace(otel.Endpoint) == "" {
			return errors.New("observability.otel.endpoint must not be empty when otel is enabled")
		}
		if otel.SamplingRatio < 0 || otel.SamplingRatio > 1 {
			return fmt.Errorf("observability.otel.sampling_ratio must be within [0, 1] (got %v)", otel.SamplingRatio)
		}
		if otel.ExportTimeoutMS <= 0 {
			return fmt.Errorf("observability.otel.export_timeout_ms must be positive (got %d)", otel.ExportTimeoutMS)
		}
		if otel.MetricExportIntervalMS <= 0 {
			return fmt.Errorf("observability.otel.metric_export_interval_ms must be positive (got %d)", otel.MetricExportIntervalMS)
		}
	}

	return nil
}
