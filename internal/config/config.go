package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server      Server      `mapstructure:"server"`
	Database    Database    `mapstructure:"database"`
	Logger      Logger      `mapstructure:"logger"`
	Auth        Auth        `mapstructure:"auth"`
	Ledger      Ledger      `mapstructure:"ledger"`
	Idempotency Idempotency `mapstructure:"idempotency"`
	Reconcile   Reconcile   `mapstructure:"reconcile"`
}

// Server holds the configuration for the HTTP server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the sqlite database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level string `mapstructure:"level"`
}

// Auth holds the JWT configuration.
type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Ledger holds the trading ledger configuration.
type Ledger struct {
	BaseCurrency string        `mapstructure:"base_currency"`
	LockWait     time.Duration `mapstructure:"lock_wait"`
}

// Idempotency holds the record retention policy. ProcessingTTL is the
// window after which a stuck PROCESSING record is treated as abandoned;
// DoneTTL is how long completed responses stay replayable.
type Idempotency struct {
	ProcessingTTL time.Duration `mapstructure:"processing_ttl"`
	DoneTTL       time.Duration `mapstructure:"done_ttl"`
}

// Reconcile holds the reconciliation job configuration.
type Reconcile struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "coinledger.db?_busy_timeout=5000")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("auth.jwt_secret", "coinledger-secret-key")
	viper.SetDefault("ledger.base_currency", "USD")
	viper.SetDefault("ledger.lock_wait", 5*time.Second)
	viper.SetDefault("idempotency.processing_ttl", 15*time.Minute)
	viper.SetDefault("idempotency.done_ttl", 24*time.Hour)
	viper.SetDefault("reconcile.interval", 5*time.Minute)
	viper.SetDefault("reconcile.workers", 4)

	viper.SetEnvPrefix("COINLEDGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, err
		}
	}
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}
	return config, nil
}
