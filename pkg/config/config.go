// Package config loads the service's environment-variable configuration
// once at startup into a single immutable Config, following the same
// parse-with-defaults-then-validate discipline the teacher's
// database.LoadConfigFromEnv uses for its own sub-config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the closed set of recognized options from spec.md §6 plus the
// pool-sizing, worker, and resilience knobs this service needs.
type Config struct {
	// Storage (spec.md §6: DB_URL, required)
	DBURL           string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Bus
	BusBootstrap     string // BUS_BOOTSTRAP, required when consumers are enabled
	BusConsumerGroup string
	ActivationGate   string // ACTIVATION_GATE; empty means health-only mode
	ContractDir      string // CONTRACT_DIR, where pkg/contract.Load reads *.yaml from
	QuarantineTopic  string // QUARANTINE_TOPIC
	PairCreatedTopic string // PAIR_CREATED_TOPIC, where pkg/pairing's pair_created.v1 events are relayed

	// Lifecycle events, where internal/handlers' promotion handler relays
	// pattern_lifecycle_transition/pattern_promoted/pattern_deprecated
	PatternLifecycleTransitionTopic string
	PatternPromotedTopic            string
	PatternDeprecatedTopic          string

	// Identity
	PodID string

	// FSM / dispatch
	LeaseTTL               time.Duration
	HandlerTimeout          time.Duration
	WorkerCount             int
	PollInterval            time.Duration
	PollIntervalJitter      time.Duration
	OrphanDetectionInterval time.Duration
	OrphanThreshold         time.Duration
	MaxConcurrentHandlers   int

	// Circuit breaker
	CircuitBreakerFailureThreshold uint32
	CircuitBreakerOpenDuration     time.Duration

	// External memory service
	MemoryServiceURL     string
	MemoryServiceTimeout time.Duration

	// Pairing / feedback / retention
	PairingConfidenceFloor   float64
	PairingTemporalWindow    time.Duration
	SuccessDurationCeilingMS int64
	RetentionDaysFSMHistory  int

	// Feedback rollup (pkg/feedback.Scheduler)
	FeedbackRollupSchedule string
	FeedbackRollupWindow   time.Duration
}

// Load reads an optional .env file (local development only, mirroring
// cmd/tarsy/main.go's godotenv.Load call) and then builds Config from the
// process environment.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			// Non-fatal: proceed with whatever is already in the environment.
			fmt.Fprintf(os.Stderr, "config: could not load %s: %v\n", envPath, err)
		}
	}
	return FromEnv()
}

// FromEnv parses Config directly from os.Getenv, applying defaults and then
// validating cross-field invariants before returning.
func FromEnv() (Config, error) {
	cfg := Config{
		DBURL:            os.Getenv("DB_URL"),
		BusBootstrap:     os.Getenv("BUS_BOOTSTRAP"),
		BusConsumerGroup: getOrDefault("BUS_CONSUMER_GROUP", "patternctl"),
		ActivationGate:   os.Getenv("ACTIVATION_GATE"),
		ContractDir:      getOrDefault("CONTRACT_DIR", "./deploy/contracts"),
		QuarantineTopic:  getOrDefault("QUARANTINE_TOPIC", "prod.patternctl.evt.dispatch.quarantined.v1"),
		PairCreatedTopic: getOrDefault("PAIR_CREATED_TOPIC", "prod.patternctl.evt.pairing.pair_created.v1"),
		PodID:            getOrDefault("POD_ID", hostnameOrDefault()),
		MemoryServiceURL: os.Getenv("MEMORY_SERVICE_URL"),

		PatternLifecycleTransitionTopic: getOrDefault("PATTERN_LIFECYCLE_TRANSITION_TOPIC", "prod.patternctl.evt.lifecycle.pattern_lifecycle_transition.v1"),
		PatternPromotedTopic:            getOrDefault("PATTERN_PROMOTED_TOPIC", "prod.patternctl.evt.lifecycle.pattern_promoted.v1"),
		PatternDeprecatedTopic:          getOrDefault("PATTERN_DEPRECATED_TOPIC", "prod.patternctl.evt.lifecycle.pattern_deprecated.v1"),

		FeedbackRollupSchedule: getOrDefault("FEEDBACK_ROLLUP_SCHEDULE", "*/15 * * * *"),
	}

	var err error
	if cfg.DBMaxOpenConns, err = getIntOrDefault("DB_MAX_OPEN_CONNS", 25); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxIdleConns, err = getIntOrDefault("DB_MAX_IDLE_CONNS", 10); err != nil {
		return Config{}, err
	}
	if cfg.DBConnMaxLifetime, err = getDurationOrDefault("DB_CONN_MAX_LIFETIME", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.DBConnMaxIdleTime, err = getDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.WorkerCount, err = getIntOrDefault("WORKER_COUNT", 4); err != nil {
		return Config{}, err
	}
	leaseTTLSeconds, err := getIntOrDefault("LEASE_TTL_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	cfg.LeaseTTL = time.Duration(leaseTTLSeconds) * time.Second

	handlerTimeoutSeconds, err := getIntOrDefault("HANDLER_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.HandlerTimeout = time.Duration(handlerTimeoutSeconds) * time.Second

	if cfg.PollInterval, err = getDurationOrDefault("POLL_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollIntervalJitter, err = getDurationOrDefault("POLL_INTERVAL_JITTER", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.OrphanDetectionInterval, err = getDurationOrDefault("ORPHAN_DETECTION_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OrphanThreshold, err = getDurationOrDefault("ORPHAN_THRESHOLD", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentHandlers, err = getIntOrDefault("MAX_CONCURRENT_HANDLERS", 50); err != nil {
		return Config{}, err
	}

	failureThreshold, err := getIntOrDefault("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5)
	if err != nil {
		return Config{}, err
	}
	cfg.CircuitBreakerFailureThreshold = uint32(failureThreshold)

	if cfg.CircuitBreakerOpenDuration, err = getDurationOrDefault("CIRCUIT_BREAKER_OPEN_DURATION", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MemoryServiceTimeout, err = getDurationOrDefault("MEMORY_SERVICE_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.PairingConfidenceFloor, err = getFloatOrDefault("PAIRING_CONFIDENCE_FLOOR", 0.5); err != nil {
		return Config{}, err
	}
	if cfg.PairingTemporalWindow, err = getDurationOrDefault("PAIRING_TEMPORAL_WINDOW", 24*time.Hour); err != nil {
		return Config{}, err
	}

	successCeiling, err := getIntOrDefault("SUCCESS_DURATION_CEILING_MS", 30000)
	if err != nil {
		return Config{}, err
	}
	cfg.SuccessDurationCeilingMS = int64(successCeiling)

	if cfg.RetentionDaysFSMHistory, err = getIntOrDefault("RETENTION_DAYS_FSM_HISTORY", 90); err != nil {
		return Config{}, err
	}

	if cfg.FeedbackRollupWindow, err = getDurationOrDefault("FEEDBACK_ROLLUP_WINDOW", time.Hour); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-field invariants spec.md §6 implies: DB_URL is
// always required, BUS_BOOTSTRAP only when the activation gate is set, and
// MEMORY_SERVICE_URL only matters once the learning pipeline can run.
func (c Config) Validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if c.ActivationGate != "" && c.BusBootstrap == "" {
		return fmt.Errorf("BUS_BOOTSTRAP is required when ACTIVATION_GATE is set")
	}
	if c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.DBMaxIdleConns, c.DBMaxOpenConns)
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.PairingConfidenceFloor < 0 || c.PairingConfidenceFloor > 1 {
		return fmt.Errorf("PAIRING_CONFIDENCE_FLOOR must be in [0,1]")
	}
	if c.RetentionDaysFSMHistory < 0 {
		return fmt.Errorf("RETENTION_DAYS_FSM_HISTORY cannot be negative")
	}
	return nil
}

// ConsumersEnabled reports whether the activation gate permits the consumer
// fleet to start, per spec.md §4.2's degraded-mode requirement.
func (c Config) ConsumersEnabled() bool {
	return c.ActivationGate != ""
}

func getOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloatOrDefault(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDurationOrDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "patternctl-local"
	}
	return h
}
