package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the controller needs at start-up so main
// stays lean. Values come from the environment with defaults suitable
// for a single-lot development setup.
type Config struct {
	HTTPAddr string

	// Message bus.
	BrokerURL    string
	BusClientID  string
	MinReconnect time.Duration
	MaxReconnect time.Duration

	// Outbound command pacing.
	PublishSpacing time.Duration

	// Persistence. Empty DSN selects the in-memory session store.
	PostgresDSN string

	// Payment reconciliation. Empty RedisURL selects the in-memory
	// payment session store.
	RedisURL     string
	FeedURL      string
	BankID       string
	AccountNo    string
	AccountName  string
	PollInterval time.Duration
	MaxWait      time.Duration

	// Plate recognition and lane cameras.
	RecognizerURL  string
	SnapshotInURL  string
	SnapshotOutURL string
	ImageDir       string

	// Tariff and lot size.
	HourlyRate int64
	Capacity   int

	// Audit pipeline. Empty broker list selects the recording sink.
	KafkaBrokers []string
	AuditTopic   string

	JWTSigningKey string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		HTTPAddr: envString("XPARKING_HTTP_ADDR", ":8080"),

		BrokerURL:    envString("XPARKING_MQTT_BROKER", "tcp://127.0.0.1:1883"),
		BusClientID:  envString("XPARKING_MQTT_CLIENT_ID", "xparking-controller"),
		MinReconnect: envDuration("XPARKING_MQTT_MIN_RECONNECT", time.Second),
		MaxReconnect: envDuration("XPARKING_MQTT_MAX_RECONNECT", 2*time.Minute),

		PublishSpacing: envDuration("XPARKING_PUBLISH_SPACING", 100*time.Millisecond),

		PostgresDSN: os.Getenv("XPARKING_POSTGRES_DSN"),

		RedisURL:     os.Getenv("XPARKING_REDIS_URL"),
		FeedURL:      envString("XPARKING_FEED_URL", "http://localhost:3000/api/lsgd"),
		BankID:       envString("XPARKING_BANK_ID", "MB"),
		AccountNo:    envString("XPARKING_ACCOUNT_NO", "0000000000"),
		AccountName:  envString("XPARKING_ACCOUNT_NAME", "X PARKING"),
		PollInterval: envDuration("XPARKING_POLL_INTERVAL", 3*time.Second),
		MaxWait:      envDuration("XPARKING_PAYMENT_MAX_WAIT", 5*time.Minute),

		RecognizerURL:  envString("XPARKING_RECOGNIZER_URL", "http://localhost:8500/recognize"),
		SnapshotInURL:  envString("XPARKING_SNAPSHOT_IN_URL", "http://localhost:8081/snapshot"),
		SnapshotOutURL: envString("XPARKING_SNAPSHOT_OUT_URL", "http://localhost:8082/snapshot"),
		ImageDir:       envString("XPARKING_IMAGE_DIR", "images"),

		HourlyRate: envInt64("XPARKING_HOURLY_RATE", 10000),
		Capacity:   int(envInt64("XPARKING_CAPACITY", 3)),

		KafkaBrokers: envList("XPARKING_KAFKA_BROKERS"),
		AuditTopic:   envString("XPARKING_AUDIT_TOPIC", "parking.audit"),

		// Default for development only, override in production.
		JWTSigningKey: envString("XPARKING_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
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

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
