// Package config provides configuration for the coordination engine
// process, loaded the way the predecessor orchestrator loads its own:
// flat environment variables with defaults.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/swarmctl/swarmctl/internal/domain"
)

// Config holds the process configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Ledger storage
	StateDir    string
	TemplateDir string

	// TaskRunner mode, read from SWARMCTL_MODE. The runner itself is chosen
	// by internal/taskrunner.NewFromEnv, which reads the variable directly.
	TaskRunnerMode string

	// Model ceiling/floor and per-provider defaults, consumed only at
	// cluster start and task spawn (spec §5 Shared resources).
	Settings domain.Settings

	// Shutdown
	ShutdownTimeout time.Duration

	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		StateDir:        getEnv("STATE_DIR", "./state"),
		TemplateDir:     getEnv("TEMPLATE_DIR", "./templates"),
		TaskRunnerMode:  getEnv("SWARMCTL_MODE", ""),
		Settings:        loadSettings(),
		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

// loadSettings builds the model ceiling/floor settings from the
// environment, or from SETTINGS_JSON (an inline Settings document) when
// the deployment needs per-provider level overrides.
func loadSettings() domain.Settings {
	if raw := os.Getenv("SETTINGS_JSON"); raw != "" {
		var s domain.Settings
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return domain.Settings{
		MaxModel:        domain.ModelLevel(getEnv("MAX_MODEL", string(domain.ModelLevel3))),
		MinModel:        domain.ModelLevel(getEnv("MIN_MODEL", "")),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "mock"),
		StrictSchema:    getEnvBool("STRICT_SCHEMA", true),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
