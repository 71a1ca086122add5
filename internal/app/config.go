package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	UpstreamBaseURL        string
	UpstreamPathPrefix     string
	UpstreamToken          string
	UpstreamConnectTimeout time.Duration
	UpstreamHeaderTimeout  time.Duration

	// DeviceID must stay stable across restarts; upstreams key active
	// play sessions by it.
	DeviceID string

	ProgressBackend    string // memory | sqlite | mongo
	ProgressSQLitePath string
	MongoURI           string
	MongoDatabase      string

	RedisAddr       string
	LibraryCacheTTL time.Duration

	KeepAliveTone  bool
	AllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		UpstreamBaseURL:        getEnv("UPSTREAM_BASE_URL", "http://localhost:13378"),
		UpstreamPathPrefix:     getEnv("UPSTREAM_PATH_PREFIX", "audiobookshelf"),
		UpstreamToken:          getEnv("UPSTREAM_TOKEN", ""),
		UpstreamConnectTimeout: getEnvDuration("UPSTREAM_CONNECT_TIMEOUT", 8*time.Second),
		UpstreamHeaderTimeout:  getEnvDuration("UPSTREAM_HEADER_TIMEOUT", 15*time.Second),

		DeviceID: getEnv("DEVICE_ID", "bookstream-server"),

		ProgressBackend:    strings.ToLower(getEnv("PROGRESS_BACKEND", "sqlite")),
		ProgressSQLitePath: getEnv("PROGRESS_SQLITE_PATH", "data/progress.db"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "bookstream"),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		LibraryCacheTTL: getEnvDuration("LIBRARY_CACHE_TTL", 5*time.Minute),

		KeepAliveTone:  getEnvBool("KEEP_ALIVE_TONE", true),
		AllowedOrigins: splitCommaList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCommaList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
