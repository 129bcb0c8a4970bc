package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type LiveKit struct {
	APIKey    string
	APISecret string
	URL       string
}

type Config struct {
	Port      string
	JWTSecret string
	// RedisAddr empty selects the in-memory presence store.
	RedisAddr   string
	LiveKit     LiveKit
	RingTimeout time.Duration
	GraceWindow time.Duration
}

// Load reads configuration from the environment, seeded from a .env
// file when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:      port(getenv("PORT", "8080")),
		JWTSecret: getenv("JWT_SECRET", "your-secret-key"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		LiveKit: LiveKit{
			APIKey:    getenv("LIVEKIT_API_KEY", "devkey"),
			APISecret: getenv("LIVEKIT_API_SECRET", "devsecret"),
			URL:       getenv("LIVEKIT_URL", "ws://localhost:7880"),
		},
		RingTimeout: duration("CALL_RING_TIMEOUT", 30*time.Second),
		GraceWindow: duration("CALL_GRACE_WINDOW", 5*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}

func port(v string) string {
	if strings.HasPrefix(v, ":") {
		return v
	}
	return ":" + v
}
