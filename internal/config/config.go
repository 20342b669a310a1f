package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	LogLevel    string
	PostgresDSN string

	NonceTTLSeconds int

	ReplaySnapshotPath string
	ReplaySnapshotSync bool

	WitnessBundlePath string

	ChallengerPublicKeyBase64 string
	NodePublicKeyBase64       string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                  addr,
		LogLevel:                  envDefault("LOG_LEVEL", "info"),
		PostgresDSN:               os.Getenv("POSTGRES_DSN"),
		NonceTTLSeconds:           envIntDefault("NONCE_TTL_SECONDS", 86400),
		ReplaySnapshotPath:        os.Getenv("REPLAY_SNAPSHOT_PATH"),
		ReplaySnapshotSync:        envBoolDefault("REPLAY_SNAPSHOT_SYNC", true),
		WitnessBundlePath:         os.Getenv("WITNESS_BUNDLE_PATH"),
		ChallengerPublicKeyBase64: os.Getenv("CHALLENGER_PUBLIC_KEY_BASE64"),
		NodePublicKeyBase64:       os.Getenv("NODE_PUBLIC_KEY_BASE64"),
		RateLimitRequests:         envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:    envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:       envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:          envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   envIntDefault("REDIS_DB", 0),
	}
}

func (c Config) NonceTTL() time.Duration {
	if c.NonceTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.NonceTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
