package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           int
	BackendURL     string
	HTTPTimeout    time.Duration
	StatePath      string
	TypingInterval time.Duration
	NotifyTTL      time.Duration
	AllowedOrigin  string
	NatsURL        string
	NatsToken      string
	LogLevel       string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:           envInt("DISPATCHBOT_PORT", 8760),
		BackendURL:     envStr("DISPATCH_API_URL", "http://localhost:8000"),
		HTTPTimeout:    envDuration("DISPATCH_HTTP_TIMEOUT", 30*time.Second),
		StatePath:      envStr("DISPATCHBOT_STATE_PATH", "data/state.json"),
		TypingInterval: envDuration("TYPING_INTERVAL", 10*time.Millisecond),
		NotifyTTL:      envDuration("NOTIFY_TTL", 3*time.Second),
		AllowedOrigin:  envStr("ALLOWED_ORIGIN", "*"),
		NatsURL:        envStr("NATS_URL", ""),
		NatsToken:      envStr("NATS_TOKEN", ""),
		LogLevel:       envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
