// Package config loads the hub's runtime configuration from environment
// variables (and an optional config file) via layered viper defaults,
// trimmed to the settings this hub actually has.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Presence PresenceConfig `mapstructure:"presence"`
	Frame    FrameConfig    `mapstructure:"frame"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	DefaultTenant string `mapstructure:"default_tenant"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type PresenceConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type FrameConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	ViewerTick  time.Duration `mapstructure:"viewer_tick"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	RingSize int    `mapstructure:"ring_size"`
}

// Load reads the hub configuration from environment variables (prefix
// LOOKOUT_, with "." mapped to "_") plus an optional app.yaml/app.env file in
// the working directory, falling back to the defaults set below.
func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LOOKOUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// PORT and JWT_SECRET are conventionally read as bare env vars even
	// under the LOOKOUT_ prefix, since infra tooling often sets them directly.
	if port := os.Getenv("PORT"); port != "" {
		viper.Set("server.address", ":"+port)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		viper.Set("security.jwt_secret", secret)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":3001")
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("security.jwt_secret", "change-me-in-production")
	viper.SetDefault("security.token_ttl", 60*time.Minute)
	viper.SetDefault("security.allowed_origins", []string{"*"})

	viper.SetDefault("presence.ttl", 15*time.Second)
	viper.SetDefault("presence.sweep_interval", 3*time.Second)

	viper.SetDefault("frame.min_interval", 250*time.Millisecond)
	viper.SetDefault("frame.viewer_tick", 250*time.Millisecond)

	viper.SetDefault("storage.data_dir", "./data")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.ring_size", 500)

	viper.SetDefault("default_tenant", "CLA1")
}

func validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if cfg.Security.JWTSecret == "" {
		return fmt.Errorf("JWT secret cannot be empty")
	}
	if cfg.Presence.TTL <= 0 {
		return fmt.Errorf("presence TTL must be positive")
	}
	if cfg.Presence.SweepInterval <= 0 {
		return fmt.Errorf("presence sweep interval must be positive")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage data dir cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, l := range validLevels {
		if cfg.Logging.Level == l {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	return nil
}
