package config

import (
	"strings"
	"time"
)

type HTTPConfig interface {
	GetRequestTimeout() time.Duration
	GetDownloadTimeout() time.Duration
	GetRefreshPath() string
	GetAuthEndpoints() []string
	GetRefreshSkew() time.Duration
}

type HTTP struct{}

var _ HTTPConfig = HTTP{}

func (HTTP) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 10*time.Second)
}

// GetDownloadTimeout is zero (no client timeout) unless configured.
func (HTTP) GetDownloadTimeout() time.Duration {
	return GetEnvDuration("DOWNLOAD_TIMEOUT", 0)
}

func (HTTP) GetRefreshPath() string {
	return GetEnv("REFRESH_PATH", "/authenticate/refresh-token")
}

// GetAuthEndpoints lists the paths that never carry a bearer token.
func (h HTTP) GetAuthEndpoints() []string {
	value := GetEnv("AUTH_ENDPOINTS", "")
	if value == "" {
		return []string{"/authenticate/login", h.GetRefreshPath(), "/authenticate/login-with-token"}
	}
	var endpoints []string
	for _, e := range strings.Split(value, ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

func (HTTP) GetRefreshSkew() time.Duration {
	return GetEnvDuration("REFRESH_SKEW", 30*time.Second)
}
