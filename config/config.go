/*
config.go - Environment configuration

PURPOSE:
  Loads the small configuration surface the service consumes from the
  environment. Every knob is optional with a sane default, so the
  binary runs with zero configuration in development.

ENVIRONMENT VARIABLES:
  CREDITS_DB_PATH            Backing database file (default: credits.db)
  CREDITS_INITIAL_ALLOWANCE  Starting grant for new accounts (default: 20)
  CREDITS_BUSY_TIMEOUT_MS    Store lock wait bound in ms (default: 5000)
  CREDITS_PORT               HTTP listen port (default: 8080)
*/
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the process reads from the environment.
type Config struct {
	DBPath           string
	InitialAllowance int64
	BusyTimeout      time.Duration
	Port             int
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CREDITS")
	v.AutomaticEnv()

	v.SetDefault("DB_PATH", "credits.db")
	v.SetDefault("INITIAL_ALLOWANCE", 20)
	v.SetDefault("BUSY_TIMEOUT_MS", 5000)
	v.SetDefault("PORT", 8080)

	return &Config{
		DBPath:           v.GetString("DB_PATH"),
		InitialAllowance: v.GetInt64("INITIAL_ALLOWANCE"),
		BusyTimeout:      time.Duration(v.GetInt64("BUSY_TIMEOUT_MS")) * time.Millisecond,
		Port:             v.GetInt("PORT"),
	}, nil
}
