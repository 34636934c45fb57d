// Package config loads the router's own process configuration: service
// settings, the KV store connection, logging, and the recognized options
// from spec §6 (configTtl, healthTtl, sessionTtl, healthCheckInterval,
// configRefreshInterval, maxFailCount). This is distinct from the
// chain-configuration file the Config Loader watches, which is a plain
// JSON document per §6 and is read by internal/registry instead.
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/kvstore"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
)

type Config struct {
	Service ServiceConfig `yaml:"service" json:"service"`
	KVStore kvstore.Config `yaml:"kvstore" json:"kvstore"`
	Log     logger.Config  `yaml:"log" json:"log"`
	Router  RouterConfig   `yaml:"router" json:"router"`
}

type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// RouterConfig carries the recognized options table from spec §6, each
// with the spec's stated default and unit (seconds for TTLs,
// milliseconds for intervals, matching the table itself) rather than a
// yaml-parsed duration string, following the teacher's own config.go
// convention of plain numeric fields over custom duration unmarshaling.
type RouterConfig struct {
	ChainConfigPath             string `yaml:"chain_config_path" json:"chain_config_path"`
	ConfigTTLSeconds            int    `yaml:"config_ttl_seconds" json:"config_ttl_seconds"`
	HealthTTLSeconds            int    `yaml:"health_ttl_seconds" json:"health_ttl_seconds"`
	SessionTTLSeconds           int    `yaml:"session_ttl_seconds" json:"session_ttl_seconds"`
	HealthCheckIntervalMillis   int    `yaml:"health_check_interval_ms" json:"health_check_interval_ms"`
	ConfigRefreshIntervalMillis int    `yaml:"config_refresh_interval_ms" json:"config_refresh_interval_ms"`
	MaxFailCount                int    `yaml:"max_fail_count" json:"max_fail_count"`
}

func (r RouterConfig) ConfigTTL() time.Duration {
	return time.Duration(r.ConfigTTLSeconds) * time.Second
}

func (r RouterConfig) HealthTTL() time.Duration {
	return time.Duration(r.HealthTTLSeconds) * time.Second
}

func (r RouterConfig) SessionTTL() time.Duration {
	return time.Duration(r.SessionTTLSeconds) * time.Second
}

func (r RouterConfig) HealthCheckInterval() time.Duration {
	return time.Duration(r.HealthCheckIntervalMillis) * time.Millisecond
}

func (r RouterConfig) ConfigRefreshInterval() time.Duration {
	return time.Duration(r.ConfigRefreshIntervalMillis) * time.Millisecond
}

// Load reads a YAML config file, expands ${VAR:default} references against
// the process environment, and fills in defaults for anything unset.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars expands ${VAR:default} references by scanning for the
// ${...} delimiters directly rather than via regexp, matching the style
// already used for this service's own process config in the teacher
// lineage.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		parts := strings.SplitN(expr, ":", 2)
		varName := parts[0]
		defaultVal := ""
		if len(parts) > 1 {
			defaultVal = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-rpc-router"
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8080
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.KVStore.Address == "" {
		cfg.KVStore.Address = "127.0.0.1:6379"
	}
	if cfg.KVStore.PoolSize == 0 {
		cfg.KVStore.PoolSize = 50
	}
	if cfg.KVStore.DialTimeout == 0 {
		cfg.KVStore.DialTimeout = 5 * time.Second
	}
	if cfg.KVStore.ReadTimeout == 0 {
		cfg.KVStore.ReadTimeout = 3 * time.Second
	}
	if cfg.KVStore.WriteTimeout == 0 {
		cfg.KVStore.WriteTimeout = 3 * time.Second
	}
	if cfg.KVStore.HealthCheckInterval == 0 {
		cfg.KVStore.HealthCheckInterval = 30 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = cfg.Service.Name
	}

	if cfg.Router.ChainConfigPath == "" {
		cfg.Router.ChainConfigPath = "chains.json"
	}
	if cfg.Router.ConfigTTLSeconds == 0 {
		cfg.Router.ConfigTTLSeconds = 86400
	}
	if cfg.Router.HealthTTLSeconds == 0 {
		cfg.Router.HealthTTLSeconds = 3600
	}
	if cfg.Router.SessionTTLSeconds == 0 {
		cfg.Router.SessionTTLSeconds = 3600
	}
	if cfg.Router.HealthCheckIntervalMillis == 0 {
		cfg.Router.HealthCheckIntervalMillis = 60000
	}
	if cfg.Router.ConfigRefreshIntervalMillis == 0 {
		cfg.Router.ConfigRefreshIntervalMillis = 300000
	}
	if cfg.Router.MaxFailCount == 0 {
		cfg.Router.MaxFailCount = 3
	}
}
