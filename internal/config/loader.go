package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HOLDER_SNAPSHOT_LOG_LEVEL
const EnvPrefix = "HOLDER_SNAPSHOT"

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("interval", "")
	v.SetDefault("http_port", 8080)
	v.SetDefault("run_immediately", true)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("graph_max_retries", 3)
	v.SetDefault("token.fallback_decimals", 18)

	// 2. Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.BindEnv("rpc_url", "RPC_URL")
	v.BindEnv("rpc_urls", "RPC_URLS")
	v.BindEnv("graph_api_key", "GRAPH_API_KEY")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("interval", "INTERVAL")
	v.BindEnv("http_port", "HTTP_PORT")
	v.BindEnv("run_immediately", "RUN_IMMEDIATELY")
	v.BindEnv("timezone", "TIMEZONE")

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	// Comma-separated env vars
	if list := splitList(v.GetString("rpc_urls")); list != nil {
		cfg.RPCUrls = list
	}
	if list := splitList(v.GetString("blacklist")); list != nil {
		cfg.Blacklist = list
	}

	// 6. Normalize: convert single rpc_url to rpc_urls array
	if err := cfg.Normalize(); err != nil {
		return nil, errors.Wrap(err, "config normalization failed")
	}

	// 7. Validate
	validate := NewValidator()
	if err := validate.Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	if err := cfg.CheckUnits(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with DATABASE_URL from environment
func LoadWithDefaults(configPath string) (*Config, string, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", err
	}

	databaseURL, err := DatabaseURL()
	if err != nil {
		return nil, "", err
	}
	return cfg, databaseURL, nil
}

// DatabaseURL reads the required DATABASE_URL variable
func DatabaseURL() (string, error) {
	v := viper.New()
	v.BindEnv("database_url", "DATABASE_URL")
	dsn := v.GetString("database_url")
	if dsn == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return dsn, nil
}

// splitList splits a comma-separated value coming from the environment.
// Values without a comma are left to viper.
func splitList(raw string) []string {
	if !strings.Contains(raw, ",") {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
