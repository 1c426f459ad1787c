// Package config wraps viper initialization and exposes the typed service
// configuration handed to the store and the platform adapters. Business code
// never reads ambient process state; it receives a ServiceConfig.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the base name of the config file (gitmirror.yaml).
const ConfigFileName = "gitmirror"

// Initialize sets up viper: config file discovery plus GITMIRROR_* env
// overrides. Priority is flags > env > config file > defaults; flag binding
// happens in the command layer.
func Initialize() error {
	viper.SetConfigName(ConfigFileName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/gitmirror")
	viper.AddConfigPath("/etc/gitmirror")

	viper.SetEnvPrefix("GITMIRROR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; env vars and flags may be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("db", "gitmirror.db")
	viper.SetDefault("log", "")
	viper.SetDefault("request-timeout", "30s")
	viper.SetDefault("github.api-base-url", "https://api.github.com")
	viper.SetDefault("gitee.api-base-url", "https://gitee.com/api/v5")
}

// UseConfigFile pins viper to an explicit config file, bypassing discovery.
func UseConfigFile(path string) error {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Reload re-reads the config file in place. Used by the serve command's
// file watcher to pick up rotated webhook secrets without a restart.
func Reload() error {
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to re-read config file: %w", err)
	}
	return nil
}

// GetString returns a config value as a string.
func GetString(key string) string { return viper.GetString(key) }

// GetBool returns a config value as a bool.
func GetBool(key string) bool { return viper.GetBool(key) }

// GetDuration returns a config value as a duration.
func GetDuration(key string) time.Duration { return viper.GetDuration(key) }

// ConfigFileUsed returns the path of the config file viper loaded, if any.
func ConfigFileUsed() string { return viper.ConfigFileUsed() }

// ServiceConfig carries every credential and endpoint the service needs.
// Constructed once at startup and passed into constructors so the engine,
// store, and adapters stay testable with fakes.
type ServiceConfig struct {
	ListenAddr string
	DBPath     string
	LogPath    string

	GiteeToken         string
	GiteeAPIBaseURL    string
	GiteeWebhookSecret string

	GitHubToken         string
	GitHubAPIBaseURL    string
	GitHubWebhookSecret string

	AdminPassword string

	// RequestTimeout bounds every outbound REST call.
	RequestTimeout time.Duration
}

// Load builds a ServiceConfig from the current viper state.
func Load() *ServiceConfig {
	return &ServiceConfig{
		ListenAddr: viper.GetString("listen"),
		DBPath:     viper.GetString("db"),
		LogPath:    viper.GetString("log"),

		GiteeToken:         viper.GetString("gitee.token"),
		GiteeAPIBaseURL:    viper.GetString("gitee.api-base-url"),
		GiteeWebhookSecret: viper.GetString("gitee.webhook-secret"),

		GitHubToken:         viper.GetString("github.token"),
		GitHubAPIBaseURL:    viper.GetString("github.api-base-url"),
		GitHubWebhookSecret: viper.GetString("github.webhook-secret"),

		AdminPassword: viper.GetString("admin-password"),

		RequestTimeout: viper.GetDuration("request-timeout"),
	}
}

// Validate checks the fields the webhook server cannot run without.
func (c *ServiceConfig) Validate() error {
	var missing []string
	if c.GiteeWebhookSecret == "" {
		missing = append(missing, "gitee.webhook-secret")
	}
	if c.GitHubWebhookSecret == "" {
		missing = append(missing, "github.webhook-secret")
	}
	if c.GiteeToken == "" {
		missing = append(missing, "gitee.token")
	}
	if c.GitHubToken == "" {
		missing = append(missing, "github.token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
