package config

import (
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	HTTPConfig
	RealtimeConfig
	StorageConfig
	OIDCConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetAPIBaseURL() string
	GetDownloadBaseURL() string
	GetWebSocketURL() string
	GetLoginRoute() string
}

type mainConfig struct {
	EnvVars
	HTTP
	Realtime
	Storage
	OIDC
}

func New() Config {
	return mainConfig{}
}

// Load reads a .env file from the working directory, if there is one, and
// returns the environment backed configuration.
func Load(filenames ...string) Config {
	_ = godotenv.Load(filenames...)
	return New()
}
