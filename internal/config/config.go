package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Engine      Engine      `mapstructure:"engine"`
	FlowRuntime FlowRuntime `mapstructure:"flow_runtime"`
	Logger      Logger      `mapstructure:"logger"`
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
}

// Engine holds the order engine settings.
type Engine struct {
	AutoActivate bool   `mapstructure:"auto_activate"`
	FlowVersion  string `mapstructure:"flow_version"`
}

// FlowRuntime holds the configuration for the remote flow runtime. An empty
// BaseURL selects the in-process registry.
type FlowRuntime struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Database holds the configuration for the order table.
type Database struct {
	Driver string `mapstructure:"driver"` // memory, sqlite or pebble
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads config.yml from path, layered under an optional .env file
// in the same directory and the process environment. A missing config file
// is not an error; defaults apply.
func LoadConfig(path string) (config Config, err error) {
	if err = godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.auto_activate", true)
	v.SetDefault("engine.flow_version", "1.0.0")

	v.SetDefault("flow_runtime.base_url", "")
	v.SetDefault("flow_runtime.api_key", "")
	v.SetDefault("flow_runtime.rate_limit", 10) // requests per second
	v.SetDefault("flow_runtime.rate_limit_burst", 5)
	v.SetDefault("flow_runtime.timeout_seconds", 10)
	v.SetDefault("flow_runtime.max_retries", 3)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "orders.db")
	v.SetDefault("database.path", "data/orders")
}
