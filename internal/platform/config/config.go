package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	id "payguard/pkg/domain"
)

// Config captures everything main needs to wire the engine.
type Config struct {
	Addr          string
	DatabaseURL   string // empty selects the in-memory dev backend
	JWTSigningKey string

	// Approval policy.
	MinApprovers     int
	AuthorizedAdmins []id.AdminID
	ApprovalWindow   time.Duration

	// Background loop cadence.
	EvaluateInterval  time.Duration
	ExecutorInterval  time.Duration
	ExpiryInterval    time.Duration
	ReconcileInterval time.Duration
	ProcessingTimeout time.Duration

	// Gateway retry policy.
	GatewayMaxAttempts uint64
	GatewayBackoff     time.Duration

	// Paystack credentials.
	PaystackBaseURL   string
	PaystackSecretKey string

	// Optional audit mirror.
	KafkaBrokers    []string
	KafkaAuditTopic string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:               envOr("PAYGUARD_ADDR", ":8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		JWTSigningKey:      envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		MinApprovers:       envInt("MIN_APPROVERS", 2),
		ApprovalWindow:     envDuration("APPROVAL_WINDOW", 72*time.Hour),
		EvaluateInterval:   envDuration("EVALUATE_INTERVAL", time.Hour),
		ExecutorInterval:   envDuration("EXECUTOR_INTERVAL", time.Minute),
		ExpiryInterval:     envDuration("EXPIRY_INTERVAL", 10*time.Minute),
		ReconcileInterval:  envDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ProcessingTimeout:  envDuration("PROCESSING_TIMEOUT", 15*time.Minute),
		GatewayMaxAttempts: uint64(envInt("GATEWAY_MAX_ATTEMPTS", 5)),
		GatewayBackoff:     envDuration("GATEWAY_BACKOFF", 2*time.Second),
		PaystackBaseURL:    envOr("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackSecretKey:  os.Getenv("PAYSTACK_SECRET_KEY"),
		KafkaAuditTopic:    envOr("KAFKA_AUDIT_TOPIC", "payguard.audit"),
	}

	for _, admin := range strings.Split(os.Getenv("AUTHORIZED_ADMINS"), ",") {
		if admin = strings.TrimSpace(admin); admin != "" {
			cfg.AuthorizedAdmins = append(cfg.AuthorizedAdmins, id.AdminID(admin))
		}
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
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
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
