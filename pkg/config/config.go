package config

import (
	"github.com/caarlos0/env/v11"
)

// Env carries the bootstrap settings that cannot live in the config file:
// file locations, credentials, and the log level.
type Env struct {
	ConfigPath string `env:"CONFIG_PATH" envDefault:"config.json"`
	CachePath  string `env:"CACHE_PATH" envDefault:"cache.json"`
	LogLevel   string `env:"LOGGER_LEVEL" envDefault:"debug"`

	APIHost     string `env:"API_HOST" envDefault:""`
	APIUsername string `env:"API_USERNAME" envDefault:""`
	APIPassword string `env:"API_PASSWORD" envDefault:""`

	ChatHost     string `env:"CHAT_HOST" envDefault:""`
	ChatUserID   string `env:"CHAT_USER_ID" envDefault:""`
	ChatPassword string `env:"CHAT_PASSWORD" envDefault:""`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":8081"`
}

func ReadEnvConfig(cfg *Env) error {
	return env.Parse(cfg)
}
