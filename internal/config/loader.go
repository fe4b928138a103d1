package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: FEDGATEWAY_SERVER_ADDR sets
// server.addr.
const EnvPrefix = "FEDGATEWAY"

// Load reads configuration from path, or from gateway.yaml in the working
// directory when path is empty and that file exists. Environment variables
// override file values, and ${VAR} references in service URLs are
// expanded.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// New returns a Viper instance carrying the defaults and environment
// bindings. Callers may bind CLI flags to it before LoadFromViper.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFromViper creates a Config from an existing Viper instance.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for i := range cfg.Services {
		cfg.Services[i].URL = expandEnvVar(cfg.Services[i].URL)
	}
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.pretty", d.Server.Pretty)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.forward_headers", d.Server.ForwardHeaders)
	v.SetDefault("gateway.poll_interval", d.Gateway.PollInterval)
	v.SetDefault("gateway.max_backoff", d.Gateway.MaxBackoff)
	v.SetDefault("gateway.fetch_timeout", d.Gateway.FetchTimeout)
	v.SetDefault("gateway.max_concurrency_per_service", d.Gateway.MaxConcurrencyPerService)
	v.SetDefault("gateway.max_conns_per_endpoint", d.Gateway.MaxConnsPerEndpoint)
	v.SetDefault("gateway.batch_entities", d.Gateway.BatchEntities)
	v.SetDefault("gateway.introspection", d.Gateway.Introspection)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("otel.endpoint", d.OTel.Endpoint)
	v.SetDefault("otel.service", d.OTel.Service)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVar expands ${VAR} and $VAR, leaving unknown variables as is.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimSuffix(strings.TrimPrefix(name, "{"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
