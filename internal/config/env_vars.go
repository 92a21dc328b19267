package config

import (
	"os"
	"strings"
	"time"
)

const (
	appNameVar         = "APP_NAME"
	envVar             = "ENV"
	logLevelVar        = "LOG_LEVEL"
	apiBaseURLVar      = "API_BASE_URL"
	downloadBaseURLVar = "DOWNLOAD_BASE_URL"
	webSocketURLVar    = "WS_URL"
	loginRouteVar      = "LOGIN_ROUTE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Course Client")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv(envVar)
	if env == "" {
		return "DEV"
	}
	return env
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

// GetAPIBaseURL returns the base URL of the JSON API (e.g., "https://api.example.com/api/v1")
func (EnvVars) GetAPIBaseURL() string {
	return strings.TrimRight(GetEnv(apiBaseURLVar, "http://localhost:8080/api/v1"), "/")
}

// GetDownloadBaseURL falls back to the API base URL when no dedicated
// download host is configured.
func (e EnvVars) GetDownloadBaseURL() string {
	return strings.TrimRight(GetEnv(downloadBaseURLVar, e.GetAPIBaseURL()), "/")
}

func (EnvVars) GetWebSocketURL() string {
	return GetEnv(webSocketURLVar, "ws://localhost:8080/ws")
}

// GetLoginRoute is where the UI sends the user after a hard logout.
func (EnvVars) GetLoginRoute() string {
	return GetEnv(loginRouteVar, "/login")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses values such as "10s" or "1500ms". Invalid values fall
// back to the default.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
