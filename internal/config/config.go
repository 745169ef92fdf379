package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port     string
	MongoURI string

	// Key-value cache backend selection. If both the REST pair and the Redis
	// URL are present, the REST backend wins. If neither is set the server
	// runs with caching disabled (no-op backend).
	RedisURL       string
	CacheRESTURL   string
	CacheRESTToken string

	// Identity
	JWTSecret string

	// Token encryption at rest (64 hex chars = 32 bytes)
	EncryptionMasterKey string

	// LLM scoring provider
	ScoringAPIURL string
	ScoringAPIKey string
	ScoringModel  string
	ScoringRPS    float64 // requests per second allowed against the provider
	AICacheTTL    time.Duration

	// Job schedule profile
	SchedulePath string // YAML file with per-job cron expressions
	LowCostMode  bool   // use the reduced-frequency profile

	// HTTP
	AllowedOrigins string

	// Admin users allowed to hit /api/admin routes (comma-separated user IDs)
	AdminUserIDs []string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	adminEnv := getEnv("ADMIN_USER_IDS", "")
	var adminUserIDs []string
	if adminEnv != "" {
		adminUserIDs = strings.Split(adminEnv, ",")
		for i := range adminUserIDs {
			adminUserIDs[i] = strings.TrimSpace(adminUserIDs[i])
		}
	}

	return &Config{
		Port:     getEnv("PORT", "3001"),
		MongoURI: getEnv("MONGODB_URI", ""),

		RedisURL:       getEnv("REDIS_URL", ""),
		CacheRESTURL:   getEnv("CACHE_REST_URL", ""),
		CacheRESTToken: getEnv("CACHE_REST_TOKEN", ""),

		JWTSecret:           getEnv("JWT_SECRET", ""),
		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),

		ScoringAPIURL: getEnv("SCORING_API_URL", "https://api.openai.com/v1/chat/completions"),
		ScoringAPIKey: getEnv("SCORING_API_KEY", ""),
		ScoringModel:  getEnv("SCORING_MODEL", "gpt-4o-mini"),
		ScoringRPS:    getFloatEnv("SCORING_RPS", 1.0),
		AICacheTTL:    time.Duration(getIntEnv("AI_CACHE_TTL_HOURS", 24)) * time.Hour,

		SchedulePath: getEnv("SCHEDULE_PROFILE_PATH", "./schedules.yaml"),
		LowCostMode:  getBoolEnv("LOW_COST_MODE", false),

		AllowedOrigins: getEnv("ALLOWED_ORIGINS", ""),

		AdminUserIDs: adminUserIDs,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
