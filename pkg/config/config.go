package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the dashboard service
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Data sources
	Data DataConfig

	// Credential service (auth + activity rows)
	Supabase SupabaseConfig

	// Session / activity timing
	Session SessionConfig

	// Optional infrastructure
	Redis    RedisConfig
	Database DatabaseConfig

	// Scheduler
	Schedule ScheduleConfig

	// UI preference defaults (YAML)
	PreferencesFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// DataConfig holds locations of the JSON files produced by the collection jobs
type DataConfig struct {
	StaticURL      string        // base URL or directory containing latest.json
	LiveAPIURL     string        // base URL of /api/health and /api/refresh (optional)
	HealthTimeout  time.Duration // health probe abort timeout
	RefreshTimeout time.Duration // live refresh abort timeout
	FetchRate      float64       // outbound requests per second for file fan-out
}

// SupabaseConfig holds the credential-service endpoint
type SupabaseConfig struct {
	URL     string
	AnonKey string
}

// SessionConfig holds session expiry and inactivity settings
type SessionConfig struct {
	Duration          time.Duration // absolute session lifetime
	InactivityTimeout time.Duration // auto sign-out after no activity
	ActivityThrottle  time.Duration // minimum gap between accepted activity events
	SignInRateLimit   int           // attempts per minute per email (Redis only)
	WorkspaceIdleTTL  time.Duration // idle client workspaces are evicted after this
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration (activity log writer)
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a Postgres connection is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// ScheduleConfig holds cron expressions (with seconds field)
type ScheduleConfig struct {
	SnapshotReload     string
	PaperTradingReload string
	WorkspaceCleanup   string
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Data: DataConfig{
			StaticURL:      getEnv("STATIC_DATA_URL", ""),
			LiveAPIURL:     getEnv("LIVE_API_URL", ""),
			HealthTimeout:  getEnvAsDuration("HEALTH_TIMEOUT", "5s"),
			RefreshTimeout: getEnvAsDuration("REFRESH_TIMEOUT", "120s"),
			FetchRate:      getEnvAsFloat("DATA_FETCH_RATE", 10),
		},

		Supabase: SupabaseConfig{
			URL:     getEnv("SUPABASE_URL", ""),
			AnonKey: getEnv("SUPABASE_ANON_KEY", ""),
		},

		Session: SessionConfig{
			Duration:          getEnvAsDuration("SESSION_DURATION", "8h"),
			InactivityTimeout: getEnvAsDuration("INACTIVITY_TIMEOUT", "1h"),
			ActivityThrottle:  getEnvAsDuration("ACTIVITY_THROTTLE", "30s"),
			SignInRateLimit:   getEnvAsInt("SIGNIN_RATE_LIMIT", 5),
			WorkspaceIdleTTL:  getEnvAsDuration("WORKSPACE_IDLE_TTL", "12h"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Schedule: ScheduleConfig{
			SnapshotReload:     getEnv("SNAPSHOT_RELOAD_SCHEDULE", "0 */5 * * * *"),
			PaperTradingReload: getEnv("PAPER_TRADING_RELOAD_SCHEDULE", "0 */30 * * * *"),
			WorkspaceCleanup:   getEnv("WORKSPACE_CLEANUP_SCHEDULE", "0 */10 * * * *"),
		},

		PreferencesFile: getEnv("PREFERENCES_FILE", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
// 인증 서비스 URL/키가 없으면 어떤 기능도 쓸 수 없으므로 시작 시 실패시킨다.
func (c *Config) validate() error {
	if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY are required")
	}

	if c.Data.StaticURL == "" {
		return fmt.Errorf("STATIC_DATA_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Session.Duration <= 0 || c.Session.InactivityTimeout <= 0 {
		return fmt.Errorf("SESSION_DURATION and INACTIVITY_TIMEOUT must be positive")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
