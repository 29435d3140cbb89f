package gqlcache

import "os"

// Environment variables that take precedence over the values LoadConfig
// reads from the file.
const (
	EnvEndpoint = "GQLCACHE_ENDPOINT"
	EnvLogLevel = "GQLCACHE_LOG_LEVEL"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

func (c *Config) applyEnv() {
	c.Endpoint = GetEnvOrDefault(EnvEndpoint, c.Endpoint)
	c.LogLevel = GetEnvOrDefault(EnvLogLevel, c.LogLevel)
}
