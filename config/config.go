package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"vaultflow/operation"
	"vaultflow/policy"
)

// Config holds runtime configuration for the authorization engine. Secrets
// and thresholds are injected here at process start; nothing is embedded in
// the engine itself.
type Config struct {
	Env         string
	HTTPPort    string
	DatabaseURL string
	JWTSecret   string
	TokenTTL    time.Duration

	// RedisAddr enables the submission rate limiter when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RateCapacity  int
	RateRefill    float64

	// MaxMovement is the hard per-transaction cap enforced at execution
	// time; zero disables it.
	MaxMovement int64

	Thresholds policy.Config
}

// Load reads configuration from environment variables with development
// defaults. POLICY_LIMITS entries of the form "role:TYPE=limit" override the
// stock threshold table.
func Load() Config {
	cfg := Config{
		Env:           getEnv("APP_ENV", "dev"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", "dev-only-secret"),
		TokenTTL:      getEnvDuration("TOKEN_TTL", 8*time.Hour),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RateCapacity:  getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateRefill:    getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 10),
		MaxMovement:   getEnvInt64("MAX_MOVEMENT", 0),
		Thresholds:    policy.DefaultConfig(),
	}

	applyLimitOverrides(&cfg.Thresholds, os.Getenv("POLICY_LIMITS"))
	return cfg
}

func applyLimitOverrides(thresholds *policy.Config, raw string) {
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rolePart, limitPart, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		role, opType, ok := strings.Cut(rolePart, ":")
		if !ok {
			continue
		}
		limit, err := strconv.ParseInt(strings.TrimSpace(limitPart), 10, 64)
		if err != nil || limit < 0 {
			continue
		}
		role = strings.TrimSpace(role)
		if thresholds.Limits[role] == nil {
			thresholds.Limits[role] = map[operation.Type]int64{}
		}
		thresholds.Limits[role][operation.Type(strings.TrimSpace(opType))] = limit
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
