package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"promoengine/internal/affiliate"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	BadgerDBPath     string `mapstructure:"BADGERDB_PATH"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`

	// MetricsAddr enables the Prometheus listener when non-empty (e.g. ":9090").
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	// SessionsPath is the operator-managed directory holding the per-marketplace
	// session files produced by the out-of-band login tools.
	SessionsPath string `mapstructure:"SESSIONS_PATH"`

	AmazonEnabled      bool   `mapstructure:"AMAZON_ENABLED"`
	AmazonAssociateTag string `mapstructure:"AMAZON_ASSOCIATE_TAG"`

	MercadoLivreEnabled    bool   `mapstructure:"MERCADOLIVRE_ENABLED"`
	MercadoLivreTag        string `mapstructure:"MERCADOLIVRE_TAG"`
	MercadoLivreCookieFile string `mapstructure:"MERCADOLIVRE_COOKIE_FILE"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; env vars alone are a valid setup.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.BadgerDBPath == "" {
		c.BadgerDBPath = "./badger_data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SessionsPath == "" {
		c.SessionsPath = "./sessions"
	}
	if c.MercadoLivreTag == "" {
		c.MercadoLivreTag = "promozonestories"
	}
	if c.MercadoLivreCookieFile == "" {
		c.MercadoLivreCookieFile = filepath.Join(c.SessionsPath, "ml_cookies.json")
	}
}

// Validate rejects configurations that must not reach steady state. In
// particular a malformed associate tag for an enabled marketplace fails the
// process at startup, never at request time.
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	if c.AmazonEnabled {
		if c.AmazonAssociateTag == "" {
			return fmt.Errorf("AMAZON_ASSOCIATE_TAG is required when AMAZON_ENABLED is true")
		}
		if _, err := affiliate.ParseTag(c.AmazonAssociateTag); err != nil {
			return fmt.Errorf("invalid AMAZON_ASSOCIATE_TAG: %w", err)
		}
	}
	if c.MercadoLivreEnabled && c.MercadoLivreCookieFile == "" {
		return fmt.Errorf("MERCADOLIVRE_COOKIE_FILE is required when MERCADOLIVRE_ENABLED is true")
	}
	return nil
}
