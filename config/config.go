package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host        string
	Port        string
	Environment string

	AllowedOrigins []string
	WSSecret       string
	JWTSecret      string

	MaxPayload     int64
	MaxClients     int
	MaxRoomClients int

	MessageRatePerSec float64
	MessageBurst      float64
	HeartbeatInterval time.Duration

	RoomProvisioningTTL time.Duration

	Redis RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func Load() *Config {
	// Unset ALLOWED_ORIGINS means "no restriction" (spec §6), so it is not
	// given a permissive default the way the teacher's localhost list was.
	var origins []string
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		origins = strings.Split(originsStr, ",")
	}

	return &Config{
		Host:        getEnv("HOST", "0.0.0.0"),
		Port:        getEnv("PORT", "3000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		AllowedOrigins: origins,
		WSSecret:       getEnv("WS_SECRET", ""),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),

		MaxPayload:     getEnvInt64("MAX_PAYLOAD", 65536),
		MaxClients:     getEnvInt("MAX_CLIENTS", 1000),
		MaxRoomClients: getEnvInt("MAX_ROOM_CLIENTS", 50),

		MessageRatePerSec: getEnvFloat("MESSAGE_RATE_PER_SEC", 10),
		MessageBurst:      getEnvFloat("MESSAGE_BURST", 20),
		HeartbeatInterval: getEnvMillis("HEARTBEAT_INTERVAL", 30000),

		RoomProvisioningTTL: getEnvDuration("ROOM_PROVISIONING_TTL", 24*time.Hour),

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvMillis parses a millisecond count, matching HEARTBEAT_INTERVAL's
// documented unit (spec.md §6 default: "30000 ms").
func getEnvMillis(key string, defaultMillis int64) time.Duration {
	return time.Duration(getEnvInt64(key, defaultMillis)) * time.Millisecond
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
