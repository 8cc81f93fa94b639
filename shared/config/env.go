// Package config reads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
)

// lookup returns the first non-empty value among the given keys.
func lookup(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// parse converts the first non-empty value among keys, keeping the fallback
// when no key is set or the value does not parse.
func parse[T any](conv func(string) (T, error), fallback T, keys ...string) T {
	value := lookup(keys...)
	if value == "" {
		return fallback
	}
	parsed, err := conv(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func GetEnv(key, defaultValue string) string {
	if value := lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvWithFallback reads primary, then fallback. The fallback slot carries
// the conventional names (DATABASE_URL, OPENAI_API_KEY) so stock deployments
// work without the NADIA_ prefix.
func GetEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := lookup(primary, fallback); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	return parse(strconv.Atoi, defaultValue, key)
}

func GetEnvFloat(key string, defaultValue float64) float64 {
	return parse(func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}, defaultValue, key)
}

func GetEnvBool(key string, defaultValue bool) bool {
	return parse(strconv.ParseBool, defaultValue, key)
}

// GetEnvSlice parses a comma-separated env var into a string slice.
func GetEnvSlice(key string, defaultValue []string) []string {
	value := lookup(key)
	if value == "" {
		return defaultValue
	}
	var parts []string
	for _, p := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}
