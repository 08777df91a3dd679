package main

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type DBConfig struct {
	Driver      string `mapstructure:"driver"` // postgres (default) or sqlite
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Sentry SentryConfig `mapstructure:"sentry"`
}

// loadConfig reads an optional config.yaml plus UANGKU_* environment
// overrides. A local .env file is loaded first without overwriting variables
// that are already set.
func loadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("server.address", "")
	v.SetDefault("server.port", 8081)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("jwt.secret", "dev-insecure-secret-change") // development fallback

	v.SetEnvPrefix("UANGKU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// legacy env names kept for existing deployments
	_ = v.BindEnv("db.dsn", "UANGKU_DB_DSN", "DB_DSN")
	_ = v.BindEnv("jwt.secret", "UANGKU_JWT_SECRET", "JWT_SECRET")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
