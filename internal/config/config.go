// Package config provides configuration loading and validation for the
// recommendation service processes. It uses koanf to merge environment
// variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server and the ingestor.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (fast preference cache)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// NATS JetStream (event stream)
	NATSURL     string `koanf:"nats_url"`
	NATSDurable string `koanf:"nats_durable"`

	// Embedding oracle (OpenAI-compatible)
	EmbeddingAPIKey     string `koanf:"embedding_api_key"`
	EmbeddingBaseURL    string `koanf:"embedding_base_url"`
	EmbeddingModel      string `koanf:"embedding_model"`
	EmbeddingDimensions int    `koanf:"embedding_dimensions"`

	// Preference engine
	PreferenceCacheTTLSeconds int     `koanf:"preference_cache_ttl_seconds"`
	LikeWeight                float64 `koanf:"like_weight"`
	DislikeWeight             float64 `koanf:"dislike_weight"`

	// Ranking
	MinSimilarity float64 `koanf:"min_similarity"`
	TopN          int     `koanf:"top_n"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingRedisAddr       = errors.New("REDIS_ADDR is required")
	ErrMissingNATSURL         = errors.New("NATS_URL is required")
	ErrMissingEmbeddingAPIKey = errors.New("EMBEDDING_API_KEY is required")
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrInvalidDimensions      = errors.New("EMBEDDING_DIMENSIONS must be positive")
	ErrInvalidWeights         = errors.New("LIKE_WEIGHT and DISLIKE_WEIGHT must be positive")
	ErrInvalidMinSimilarity   = errors.New("MIN_SIMILARITY must be within [-1, 1]")
	ErrInvalidTopN            = errors.New("TOP_N must be positive")
	ErrInvalidCacheTTL        = errors.New("PREFERENCE_CACHE_TTL_SECONDS must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultNATSDurable         = "recsvc"
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingDimensions = 384
	DefaultCacheTTLSeconds     = 86400
	DefaultLikeWeight          = 0.3
	DefaultDislikeWeight       = 0.1
	DefaultMinSimilarity       = 0.1
	DefaultTopN                = 20
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try RECSVC_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"RECSVC_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	redisDB, redisDBErr := getEnvIntOrDefault("REDIS_DB", k.Int("redis_db"), 0)
	if redisDBErr != nil {
		loadErrs = append(loadErrs, redisDBErr)
	}

	dimensions, dimErr := getEnvIntOrDefault("EMBEDDING_DIMENSIONS", k.Int("embedding_dimensions"), DefaultEmbeddingDimensions)
	if dimErr != nil {
		loadErrs = append(loadErrs, dimErr)
	}

	cacheTTL, ttlErr := getEnvIntOrDefault("PREFERENCE_CACHE_TTL_SECONDS", k.Int("preference_cache_ttl_seconds"), DefaultCacheTTLSeconds)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	topN, topNErr := getEnvIntOrDefault("TOP_N", k.Int("top_n"), DefaultTopN)
	if topNErr != nil {
		loadErrs = append(loadErrs, topNErr)
	}

	likeWeight, likeErr := getEnvFloatOrDefault("LIKE_WEIGHT", k.Float64("like_weight"), DefaultLikeWeight)
	if likeErr != nil {
		loadErrs = append(loadErrs, likeErr)
	}

	dislikeWeight, dislikeErr := getEnvFloatOrDefault("DISLIKE_WEIGHT", k.Float64("dislike_weight"), DefaultDislikeWeight)
	if dislikeErr != nil {
		loadErrs = append(loadErrs, dislikeErr)
	}

	minSimilarity, minSimErr := getEnvFloatOrDefault("MIN_SIMILARITY", k.Float64("min_similarity"), DefaultMinSimilarity)
	if minSimErr != nil {
		loadErrs = append(loadErrs, minSimErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                      port,
		Env:                       getEnvOrDefaultMulti([]string{"RECSVC_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:               getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:                 getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:             getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		RedisDB:                   redisDB,
		NATSURL:                   getEnvOrKoanf("NATS_URL", k, "nats_url"),
		NATSDurable:               getEnvOrDefault("NATS_DURABLE", k.String("nats_durable"), DefaultNATSDurable),
		EmbeddingAPIKey:           getEnvOrKoanf("EMBEDDING_API_KEY", k, "embedding_api_key"),
		EmbeddingBaseURL:          getEnvOrKoanf("EMBEDDING_BASE_URL", k, "embedding_base_url"),
		EmbeddingModel:            getEnvOrDefault("EMBEDDING_MODEL", k.String("embedding_model"), DefaultEmbeddingModel),
		EmbeddingDimensions:       dimensions,
		PreferenceCacheTTLSeconds: cacheTTL,
		LikeWeight:                likeWeight,
		DislikeWeight:             dislikeWeight,
		MinSimilarity:             minSimilarity,
		TopN:                      topN,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// PreferenceCacheTTL returns the fast-cache TTL as a duration.
func (c *Config) PreferenceCacheTTL() time.Duration {
	return time.Duration(c.PreferenceCacheTTLSeconds) * time.Second
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: a zero value from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and the
// numeric tunables are in range. Returns a slice of validation errors (empty
// if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisAddr == "" {
		errs = append(errs, ErrMissingRedisAddr)
	}
	if c.NATSURL == "" {
		errs = append(errs, ErrMissingNATSURL)
	}
	if c.EmbeddingAPIKey == "" {
		errs = append(errs, ErrMissingEmbeddingAPIKey)
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, ErrInvalidDimensions)
	}
	if c.LikeWeight <= 0 || c.DislikeWeight <= 0 {
		errs = append(errs, ErrInvalidWeights)
	}
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		errs = append(errs, ErrInvalidMinSimilarity)
	}
	if c.TopN <= 0 {
		errs = append(errs, ErrInvalidTopN)
	}
	if c.PreferenceCacheTTLSeconds <= 0 {
		errs = append(errs, ErrInvalidCacheTTL)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"redis_addr":           c.RedisAddr,
		"redis_password":       maskSecret(c.RedisPassword),
		"redis_db":             fmt.Sprintf("%d", c.RedisDB),
		"nats_url":             c.NATSURL,
		"nats_durable":         c.NATSDurable,
		"embedding_api_key":    maskSecret(c.EmbeddingAPIKey),
		"embedding_base_url":   c.EmbeddingBaseURL,
		"embedding_model":      c.EmbeddingModel,
		"embedding_dimensions": fmt.Sprintf("%d", c.EmbeddingDimensions),
		"preference_cache_ttl": c.PreferenceCacheTTL().String(),
		"like_weight":          fmt.Sprintf("%g", c.LikeWeight),
		"dislike_weight":       fmt.Sprintf("%g", c.DislikeWeight),
		"min_similarity":       fmt.Sprintf("%g", c.MinSimilarity),
		"top_n":                fmt.Sprintf("%d", c.TopN),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
