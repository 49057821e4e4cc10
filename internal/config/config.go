// Package config loads server configuration from the environment
// (optionally via a .env file), the teacher's own idiom of carrying
// godotenv in go.mod even though lol-draft-backend never wired it up.
// Every knob here defaults to the value spec.md names so an empty
// environment still produces a spec-compliant server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	BindAddr string

	DatabaseURL string
	StaticDir   string

	RoomHumanCap      int
	RoomBotFill       int
	CountdownDuration time.Duration
	PassageTimeout    time.Duration
	BroadcastBuffer   int
	RoomReapInterval  time.Duration
}

// Load reads .env (if present; a missing file is not an error, same
// as godotenv.Load's own convention) and then the process
// environment, falling back to spec.md §6's documented defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Config{
		Port:        getString("PORT", "3000"),
		BindAddr:    getString("BIND_ADDR", "0.0.0.0"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StaticDir:   getString("STATIC_DIR", "./web/dist"),
		RoomHumanCap:    5,
		RoomBotFill:     5,
		BroadcastBuffer: 64,
	}

	var err error
	if cfg.RoomHumanCap, err = getInt("ROOM_HUMAN_CAP", 5); err != nil {
		return Config{}, err
	}
	if cfg.RoomBotFill, err = getInt("ROOM_BOT_FILL", 5); err != nil {
		return Config{}, err
	}
	if cfg.BroadcastBuffer, err = getInt("BROADCAST_BUFFER", 64); err != nil {
		return Config{}, err
	}

	countdownMs, err := getInt("COUNTDOWN_MS", 3000)
	if err != nil {
		return Config{}, err
	}
	cfg.CountdownDuration = time.Duration(countdownMs) * time.Millisecond

	passageTimeoutMs, err := getInt("PASSAGE_TIMEOUT_MS", 250)
	if err != nil {
		return Config{}, err
	}
	cfg.PassageTimeout = time.Duration(passageTimeoutMs) * time.Millisecond

	reapStr := getString("ROOM_REAP_INTERVAL", "5m")
	cfg.RoomReapInterval, err = time.ParseDuration(reapStr)
	if err != nil {
		return Config{}, fmt.Errorf("parsing ROOM_REAP_INTERVAL=%q: %w", reapStr, err)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q: %w", key, v, err)
	}
	return n, nil
}
