package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/build-trigger/internal/logger"
)

// Config holds the application's configuration values.
type Config struct {
	ServiceName    string
	ServiceVersion string
	ServerPort     string
	Database       DBConfig
	Logging        logger.Config
	GitLab         GitLabConfig
}

// DBConfig holds the PostgreSQL connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// GitLabConfig holds everything related to the webhook and provider API.
type GitLabConfig struct {
	WebhookSecret          string
	APITimeout             time.Duration
	EnableMergeRequestHook bool
}

// Load reads configuration from environment variables and an optional .env
// file, sets defaults, and validates required fields. The webhook secret and
// the database coordinates have no defaults: without them the service must
// not accept traffic.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")
	viper.SetDefault("DATABASE_PORT", 5432)
	viper.SetDefault("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute)
	viper.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute)
	viper.SetDefault("GITLAB_API_TIMEOUT", 30*time.Second)
	viper.SetDefault("GITLAB_ENABLE_MERGE_REQUEST_HOOK", false)

	// The .env file is optional; environment variables alone are enough.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			slog.Warn("failed to read .env file", "error", err)
		}
	}
	viper.AutomaticEnv()

	for _, key := range []string{
		"SERVICE_NAME",
		"SERVICE_VERSION",
		"DATABASE_HOST",
		"DATABASE_DB",
		"DATABASE_USER",
		"DATABASE_PASSWORD",
		"GITLAB_WEBHOOK_SECRET",
	} {
		if viper.GetString(key) == "" {
			return nil, fmt.Errorf("%s must be set", key)
		}
	}

	return &Config{
		ServiceName:    viper.GetString("SERVICE_NAME"),
		ServiceVersion: viper.GetString("SERVICE_VERSION"),
		ServerPort:     viper.GetString("SERVER_PORT"),
		Database: DBConfig{
			Host:            viper.GetString("DATABASE_HOST"),
			Port:            viper.GetInt("DATABASE_PORT"),
			Username:        viper.GetString("DATABASE_USER"),
			Password:        viper.GetString("DATABASE_PASSWORD"),
			Database:        viper.GetString("DATABASE_DB"),
			ConnMaxLifetime: viper.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: viper.GetDuration("DATABASE_CONN_MAX_IDLE_TIME"),
		},
		Logging: logger.Config{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
		GitLab: GitLabConfig{
			WebhookSecret:          viper.GetString("GITLAB_WEBHOOK_SECRET"),
			APITimeout:             viper.GetDuration("GITLAB_API_TIMEOUT"),
			EnableMergeRequestHook: viper.GetBool("GITLAB_ENABLE_MERGE_REQUEST_HOOK"),
		},
	}, nil
}
