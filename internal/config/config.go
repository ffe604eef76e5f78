package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Auth    AuthConfig
	Room    RoomConfig
	Archive ArchiveConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval drives the heartbeat; a session with no pong for
	// two intervals is considered dead.
	PingInterval  time.Duration
	SendQueueSize int
}

type AuthConfig struct {
	// Secret shared with the identity provider that signs connection tokens.
	Secret []byte
}

type RoomConfig struct {
	TypingTTL        time.Duration
	HistoryRetention int
	// GracePeriod is how long an empty room survives before it is
	// garbage-collected.
	GracePeriod time.Duration
	DefaultRoom string
}

type ArchiveConfig struct {
	// DatabaseURL is optional; when empty the archiver is disabled and
	// message history lives only in memory.
	DatabaseURL string
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:          getEnvOrDefault("PORT", ":8080"),
			ReadTimeout:   getDurationOrDefault("READ_TIMEOUT", "15s"),
			WriteTimeout:  getDurationOrDefault("WRITE_TIMEOUT", "15s"),
			PingInterval:  getDurationOrDefault("PING_INTERVAL", "25s"),
			SendQueueSize: getIntOrDefault("SEND_QUEUE_SIZE", 256),
		},
		Auth: AuthConfig{
			Secret: []byte(getEnvOrFatal("JWT_SECRET")),
		},
		Room: RoomConfig{
			TypingTTL:        getDurationOrDefault("TYPING_TTL", "5s"),
			HistoryRetention: getIntOrDefault("HISTORY_RETENTION", 500),
			GracePeriod:      getDurationOrDefault("ROOM_GRACE_PERIOD", "1m"),
			DefaultRoom:      getEnvOrDefault("DEFAULT_ROOM", "general"),
		},
		Archive: ArchiveConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrFatal(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s environment variable is required", key)
	}
	return value
}

func getDurationOrDefault(key, defaultValue string) time.Duration {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration for %s: %v", key, err)
	}
	return duration
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("Invalid integer for %s: %v", key, err)
	}
	return intValue
}
