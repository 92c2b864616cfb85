/*
config.go - Environment-backed configuration

PURPOSE:
  Central place for runtime settings. Values load from the process
  environment with a .env file as the local-dev convenience layer;
  flags in cmd/server override the environment where both are set.

VARIABLES:
  PORT          HTTP listen port (default 8080)
  DB_PATH       SQLite database path, ":memory:" for in-memory
  REDIS_ADDR    Redis address; empty disables the statement cache
  LOG_LEVEL     logrus level name (default "info")
  SYNC_WORKERS  orchestrator fan-out bound (default 4)
  DAY_TIMEOUT   per-day computation timeout, Go duration (default 30s)

SEE ALSO:
  - cmd/server/main.go: where configuration is consumed
  - config/logging.go: logger construction from LOG_LEVEL
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting the server binary needs.
type Config struct {
	Port        int
	DBPath      string
	RedisAddr   string
	LogLevel    string
	SyncWorkers int
	DayTimeout  time.Duration
}

// Load reads .env when present, then the environment, applying defaults
// for anything unset. It never fails: bad numeric values fall back to
// their defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        envInt("PORT", 8080),
		DBPath:      envString("DB_PATH", "statements.db"),
		RedisAddr:   envString("REDIS_ADDR", ""),
		LogLevel:    envString("LOG_LEVEL", "info"),
		SyncWorkers: envInt("SYNC_WORKERS", 4),
		DayTimeout:  envDuration("DAY_TIMEOUT", 30*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
