// Package config loads gateway configuration from YAML and FEDGATEWAY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	registry "github.com/hanpama/fedgateway/internal/registry"
)

// Config is the complete gateway configuration.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Gateway  GatewayConfig   `mapstructure:"gateway"`
	Services []ServiceConfig `mapstructure:"services"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	OTel     OTelConfig      `mapstructure:"otel"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig configures the HTTP endpoint.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Pretty         bool          `mapstructure:"pretty"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ForwardHeaders []string      `mapstructure:"forward_headers"`
}

// GatewayConfig configures polling, planning and execution.
type GatewayConfig struct {
	PollInterval             time.Duration `mapstructure:"poll_interval"`
	MaxBackoff               time.Duration `mapstructure:"max_backoff"`
	FetchTimeout             time.Duration `mapstructure:"fetch_timeout"`
	MaxConcurrencyPerService int           `mapstructure:"max_concurrency_per_service"`
	MaxConnsPerEndpoint      int           `mapstructure:"max_conns_per_endpoint"`
	BatchEntities            bool          `mapstructure:"batch_entities"`
	Introspection            bool          `mapstructure:"introspection"`
}

// ServiceConfig registers one downstream service. Schema, or the file
// named by SchemaFile, is a static SDL; without either the service is
// polled.
type ServiceConfig struct {
	Name         string        `mapstructure:"name"`
	URL          string        `mapstructure:"url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Schema       string        `mapstructure:"schema"`
	SchemaFile   string        `mapstructure:"schema_file"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// OTelConfig configures trace export. An empty endpoint disables tracing.
type OTelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// serves /metrics on the server address.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":4000",
			Timeout:      30 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Gateway: GatewayConfig{
			PollInterval:             10 * time.Second,
			MaxBackoff:               2 * time.Minute,
			FetchTimeout:             5 * time.Second,
			MaxConcurrencyPerService: 8,
			MaxConnsPerEndpoint:      16,
			BatchEntities:            true,
			Introspection:            true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		OTel: OTelConfig{
			Service: "fedgateway",
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Gateway.MaxConcurrencyPerService <= 0 {
		errs = append(errs, errors.New("gateway.max_concurrency_per_service: must be positive"))
	}
	if c.Gateway.PollInterval <= 0 {
		errs = append(errs, errors.New("gateway.poll_interval: must be positive"))
	}
	if c.Gateway.FetchTimeout < 0 {
		errs = append(errs, errors.New("gateway.fetch_timeout: must not be negative"))
	}
	seen := make(map[string]bool, len(c.Services))
	for i, s := range c.Services {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("services[%d].name: required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("services[%d].name: duplicate service %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("services[%d].url: required", i))
		}
		if s.Schema != "" && s.SchemaFile != "" {
			errs = append(errs, fmt.Errorf("services[%d]: schema and schema_file are exclusive", i))
		}
	}
	return errors.Join(errs...)
}

// Descriptors converts the services list to registry descriptors,
// reading static schema files.
func (c *Config) Descriptors() ([]registry.ServiceDescriptor, error) {
	out := make([]registry.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		sdl := s.Schema
		if s.SchemaFile != "" {
			b, err := os.ReadFile(s.SchemaFile)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", s.Name, err)
			}
			sdl = string(b)
		}
		out = append(out, registry.ServiceDescriptor{
			Name:         s.Name,
			URL:          s.URL,
			PollInterval: s.PollInterval,
			SDL:          sdl,
		})
	}
	return out, nil
}
