package config

import "time"

// IdempotencyConfig configures replay of POST /purchases responses keyed
// by the Idempotency-Key request header.
type IdempotencyConfig struct {
	Enabled bool
	TTL     time.Duration // how long a stored response can be replayed
	Lock    time.Duration // how long a key stays claimed by an in-flight request
	Prefix  string
}

// LoadIdempotencyConfig reads IDEMPOTENCY_* variables.
func LoadIdempotencyConfig() IdempotencyConfig {
	cfg := IdempotencyConfig{
		Enabled: envBool("IDEMPOTENCY_ENABLED", true),
		TTL:     envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		Lock:    envDur("IDEMPOTENCY_LOCK", time.Minute),
		Prefix:  envStr("IDEMPOTENCY_PREFIX", "idem"),
	}
	if cfg.Lock <= 0 {
		cfg.Lock = time.Minute
	}
	return cfg
}
