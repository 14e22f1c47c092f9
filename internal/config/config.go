// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string

	// WordlistPath points at a JSON word library; empty means the built-in
	// default English sets.
	WordlistPath string

	// SnapshotDSN selects the Postgres snapshot store when set. When empty,
	// snapshots go to a local file store named by SnapshotApp.
	SnapshotDSN string
	SnapshotApp string

	LogLevel string
}

// Load reads a .env file if one exists, then the process environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:         getenv("ADDR", ":8080"),
		WordlistPath: os.Getenv("WORDLIST_PATH"),
		SnapshotDSN:  os.Getenv("SNAPSHOT_DSN"),
		SnapshotApp:  getenv("SNAPSHOT_APP", "patty"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
