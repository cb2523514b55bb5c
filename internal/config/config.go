package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Document store
	MongoURL string
	DBName   string

	// Upstream feed
	UpstreamURL   string
	MaxReconnects int // 0 = unlimited
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	RawQueueSize  int

	// HTTP / WebSocket surface
	ListenAddress string
	CORSOrigins   []string

	// Persistence
	PersistWorkers   int
	PersistQueueSize int
	StoreTimeout     time.Duration
	SnapshotTTLDays  int
	EventTTLDays     int
	TicksTTLDays     int // 0 = no TTL

	// Broadcaster
	SubscriberBuffer  int
	HeartbeatInterval time.Duration

	// Verifier
	VerifyWorkers int

	// Shutdown
	DrainTimeout time.Duration

	// Telemetry
	LogLevel string
}

// Load reads the environment (with .env overlay) into a Config.
// MONGO_URL and DB_NAME are required; everything else has defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MongoURL: os.Getenv("MONGO_URL"),
		DBName:   os.Getenv("DB_NAME"),

		UpstreamURL:   envStr("RUGS_UPSTREAM_URL", "https://backend.rugs.fun"),
		MaxReconnects: envInt("UPSTREAM_MAX_RECONNECTS", 0),
		BackoffMin:    time.Duration(envInt("UPSTREAM_BACKOFF_MIN_MS", 1000)) * time.Millisecond,
		BackoffMax:    time.Duration(envInt("UPSTREAM_BACKOFF_MAX_MS", 5000)) * time.Millisecond,
		RawQueueSize:  envInt("RAW_QUEUE_SIZE", 1024),

		ListenAddress: envStr("LISTEN_ADDRESS", "0.0.0.0:8001"),
		CORSOrigins:   splitOrigins(envStr("CORS_ORIGINS", "*")),

		PersistWorkers:   envInt("PERSIST_WORKERS", 4),
		PersistQueueSize: envInt("PERSIST_QUEUE_SIZE", 4096),
		StoreTimeout:     time.Duration(envInt("STORE_TIMEOUT_MS", 5000)) * time.Millisecond,
		SnapshotTTLDays:  envInt("SNAPSHOT_TTL_DAYS", 10),
		EventTTLDays:     envInt("EVENT_TTL_DAYS", 30),
		TicksTTLDays:     envInt("TICKS_TTL_DAYS", 0),

		SubscriberBuffer:  envInt("WS_SUBSCRIBER_BUFFER", 256),
		HeartbeatInterval: time.Duration(envInt("WS_HEARTBEAT_SEC", 30)) * time.Second,

		VerifyWorkers: envInt("VERIFY_WORKERS", 2),

		DrainTimeout: time.Duration(envInt("DRAIN_TIMEOUT_SEC", 10)) * time.Second,

		LogLevel: envStr("LOG_LEVEL", "info"),
	}

	if cfg.MongoURL == "" {
		return nil, fmt.Errorf("MONGO_URL is required")
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("DB_NAME is required")
	}
	if cfg.BackoffMin <= 0 || cfg.BackoffMax < cfg.BackoffMin {
		return nil, fmt.Errorf("invalid backoff bounds: min=%s max=%s", cfg.BackoffMin, cfg.BackoffMax)
	}
	return cfg, nil
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
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
