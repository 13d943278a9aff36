// Package helpers holds small utilities shared by config loading and provider options.
package helpers

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetStringFromEnv returns the environment variable value or defaultValue if unset or empty.
//
// Example:
//
//	port := helpers.GetStringFromEnv("PORT", "8080")
func GetStringFromEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntFromEnv returns the environment variable as an int, or defaultValue if unset or invalid.
func GetIntFromEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloatFromEnv returns the environment variable as a float64, or defaultValue if unset or invalid.
func GetFloatFromEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetBoolFromEnv returns the environment variable as a bool, or defaultValue if unset or invalid.
func GetBoolFromEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDurationFromEnv returns the environment variable as a duration ("90s", "5m"), or
// defaultValue if unset or invalid.
func GetDurationFromEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetListFromEnv splits a comma-separated variable, trimming blanks. Returns defaultValue
// when unset or when no item survives trimming.
func GetListFromEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// FirstNonEmpty returns the first option that is not blank.
//
// Example:
//
//	key := helpers.FirstNonEmpty(cfg.EmbeddingAPIKey, cfg.OpenAIKey)
func FirstNonEmpty(options ...string) string {
	for _, option := range options {
		if strings.TrimSpace(option) != "" {
			return option
		}
	}
	return ""
}
