package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables consulted for defaults not given on the command line
const (
	EnvConfigPath = "BRACHYEVAL_CONFIG"
	EnvLogLevel   = "BRACHYEVAL_LOG_LEVEL"
	EnvLogFile    = "BRACHYEVAL_LOG_FILE"
)

// LoadEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadEnv() {
	godotenv.Load()
}

// GetEnvOrDefault returns the environment value for key, or def when unset or empty
func GetEnvOrDefault(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
