// Package config loads the layered application configuration (spec §10.C).
// Kept from the teacher's internal/config/config.go: the viper-based
// file-then-env layering, embedded-filesystem fallback, and defaults/
// validation split. Replaced the teacher's Database/SSH/OPA/Storage
// sections (all Postgres- and OIDC-oriented) with the sections this spec's
// components actually need: the repository root, the Git HTTP auth flag,
// and the two optional supplemental features (S3 archival, webhook
// notification).
package config

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EmbeddedFS can be set by the binary's main package to ship a default
// config.yaml inside the executable.
var EmbeddedFS embed.FS

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Repos   ReposConfig   `mapstructure:"repos"`
	Git     GitConfig     `mapstructure:"git"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"` // debug, release
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Address returns the HTTP server listen address.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ReposConfig holds the repository-root setting (spec §6 Environment).
type ReposConfig struct {
	Root string `mapstructure:"root"`
}

// GitConfig holds the Git Smart HTTP endpoint settings (spec §4.D, §6).
type GitConfig struct {
	// AuthOnPrivateNetworks controls whether private/loopback clients still
	// need the repository access key.
	AuthOnPrivateNetworks bool `mapstructure:"auth_on_private_networks"`
}

// ArchiveConfig holds the optional S3 backup-archive settings.
type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`
}

// WebhookConfig holds the optional outbound push-notification settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json, console
}

// Load reads configuration from file and environment variables. It tries,
// in order: an explicit file path, an embedded config.yaml (if EmbeddedFS is
// set), common filesystem locations, then overlays environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix("CONFIGSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configLoaded := false

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			configLoaded = true
		}
	}

	if !configLoaded {
		if embedded, err := tryLoadEmbeddedConfig(configPath); err == nil && embedded != nil {
			if err := v.ReadConfig(bytes.NewReader(embedded)); err != nil {
				return nil, fmt.Errorf("reading embedded config: %w", err)
			}
			configLoaded = true
		}
	}

	if !configLoaded {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/configstore")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEmbedded loads configuration with an embedded filesystem as the
// fallback config source.
func LoadWithEmbedded(configPath string, embeddedFS embed.FS) (*Config, error) {
	EmbeddedFS = embeddedFS
	return Load(configPath)
}

func tryLoadEmbeddedConfig(configPath string) ([]byte, error) {
	entries, err := fs.ReadDir(EmbeddedFS, ".")
	if err != nil || len(entries) == 0 {
		return nil, fmt.Errorf("no embedded config available")
	}

	if configPath != "" {
		for _, path := range []string{
			configPath,
			strings.TrimPrefix(configPath, "configs/"),
			strings.TrimPrefix(configPath, "./configs/"),
			strings.TrimPrefix(configPath, "./"),
		} {
			if data, err := fs.ReadFile(EmbeddedFS, path); err == nil {
				return data, nil
			}
		}
	}

	for _, name := range []string{"config.yaml", "config.yml"} {
		if data, err := fs.ReadFile(EmbeddedFS, name); err == nil {
			return data, nil
		}
	}

	return nil, fmt.Errorf("config file not found in embedded filesystem")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("repos.root", "./data/repos")

	v.SetDefault("git.auth_on_private_networks", false)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "configstore-backups")

	v.SetDefault("webhook.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.format", "json")
}

func overrideFromEnv(v *viper.Viper) {
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		v.Set("archive.access_key_id", key)
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		v.Set("archive.secret_access_key", secret)
	}
	if secret := os.Getenv("CONFIGSTORE_WEBHOOK_SECRET"); secret != "" {
		v.Set("webhook.secret", secret)
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Repos.Root == "" {
		return fmt.Errorf("repos.root is required")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}
	if c.Webhook.Enabled && c.Webhook.URL == "" {
		return fmt.Errorf("webhook.url is required when webhook is enabled")
	}
	return nil
}

// IsDevelopment reports whether the server is running in debug mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Mode == "debug" || c.Server.Mode == "development"
}
