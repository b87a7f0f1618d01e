package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDomainID namespaces static assignment UUIDs when DOMAIN_ID is unset,
// so a domain restarted with the same configuration keeps its slot identities.
var DefaultDomainID = uuid.MustParse("3b2f6c1e-8d4a-5f07-9c3e-a1d0b7e4f2c6")

// Config holds all process-level settings.
type Config struct {
	// HTTP status surface
	HTTPAddr string

	// UDP sockets
	UDPAddr  string
	DTLSAddr string

	// Domain
	DomainID         uuid.UUID
	AssignmentConfig string // optional YAML file with static slots and policy
	ExcludedTypes    []string
	NodeTimeout      time.Duration
	SweepInterval    time.Duration
	DeployedTTL      time.Duration  // how long handed-out dynamic work waits for its worker
	TrustedPrefixes  []netip.Prefix // sources allowed to create assignments

	// Tickets
	VerifyTimeout   time.Duration
	TicketPublicKey string // ED25519 public key, base64
	TicketCacheTTL  time.Duration

	// DTLS
	DTLSEnabled          bool
	DTLSCertFile         string
	DTLSKeyFile          string
	DTLSAllowInsecure    bool
	DTLSIdleTimeout      time.Duration
	DTLSHandshakeTimeout time.Duration
	DTLSMaxHandshakes    int

	// PostgreSQL (optional)
	DatabaseURL string

	// Redis (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT (optional)
	MQTTBrokerURL   string
	MQTTTopicPrefix string

	LogLevel slog.Level
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:             envOr("HTTP_ADDR", ":8080"),
		UDPAddr:              envOr("DOMAIN_UDP_ADDR", ":40102"),
		DTLSAddr:             envOr("DOMAIN_DTLS_ADDR", ":40103"),
		DomainID:             DefaultDomainID,
		AssignmentConfig:     envOr("ASSIGNMENT_CONFIG", ""),
		ExcludedTypes:        envListOr("EXCLUDED_TYPES", nil),
		NodeTimeout:          envDurationOr("NODE_TIMEOUT", 10*time.Second),
		SweepInterval:        envDurationOr("SWEEP_INTERVAL", time.Second),
		DeployedTTL:          envDurationOr("DEPLOYED_TTL", time.Minute),
		VerifyTimeout:        envDurationOr("VERIFY_TIMEOUT", 2*time.Second),
		TicketPublicKey:      envOr("TICKET_PUBLIC_KEY", ""),
		TicketCacheTTL:       envDurationOr("TICKET_CACHE_TTL", 5*time.Minute),
		DTLSEnabled:          envBoolOr("DTLS_ENABLED", true),
		DTLSCertFile:         envOr("DTLS_CERT_FILE", ""),
		DTLSKeyFile:          envOr("DTLS_KEY_FILE", ""),
		DTLSAllowInsecure:    envBoolOr("DTLS_ALLOW_INSECURE", false),
		DTLSIdleTimeout:      envDurationOr("DTLS_IDLE_TIMEOUT", 30*time.Second),
		DTLSHandshakeTimeout: envDurationOr("DTLS_HANDSHAKE_TIMEOUT", 5*time.Second),
		DTLSMaxHandshakes:    envIntOr("DTLS_MAX_HANDSHAKES", 256),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		RedisAddr:            envOr("REDIS_ADDR", ""),
		RedisPassword:        envOr("REDIS_PASSWORD", ""),
		RedisDB:              envIntOr("REDIS_DB", 0),
		MQTTBrokerURL:        envOr("MQTT_BROKER_URL", ""),
		MQTTTopicPrefix:      envOr("MQTT_TOPIC_PREFIX", "domain"),
	}

	if v := os.Getenv("DOMAIN_ID"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("parse DOMAIN_ID: %w", err)
		}
		cfg.DomainID = id
	}

	prefixes := envListOr("TRUSTED_PREFIXES", []string{"127.0.0.0/8", "::1/128"})
	for _, p := range prefixes {
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("parse TRUSTED_PREFIXES: %w", err)
		}
		cfg.TrustedPrefixes = append(cfg.TrustedPrefixes, prefix)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	if cfg.NodeTimeout <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("NODE_TIMEOUT and SWEEP_INTERVAL must be positive")
	}
	if cfg.DTLSMaxHandshakes < 1 {
		return nil, fmt.Errorf("DTLS_MAX_HANDSHAKES must be at least 1")
	}

	return cfg, nil
}

// Trusted reports whether addr may submit dynamic assignments.
func (c *Config) Trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range c.TrustedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envDurationOr accepts Go durations ("750ms") or bare integer seconds.
func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envListOr(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
