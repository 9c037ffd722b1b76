package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the attribution service.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Geo         GeoConfig
	Attribution AttributionConfig
	Snapshots   SnapshotConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional analytics event stream.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled bool
	// Track* applies to the tracking endpoints, Mgmt* to everything else.
	TrackRPS   float64
	TrackBurst int
	MgmtRPS    float64
	MgmtBurst  int
}

type LogConfig struct {
	Level  string
	Format string
}

// GeoConfig configures GeoIP visit enrichment.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// AttributionConfig holds the attribution policy knobs.
type AttributionConfig struct {
	// Window is how long a visit stays attributable without activity.
	Window time.Duration
}

// SnapshotConfig configures the in-process snapshot rebuilder. Off by
// default: most deployments drive snapshot builds from an external
// scheduler.
type SnapshotConfig struct {
	Enabled  bool
	Interval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ATTRIB_HTTP_ADDR", ":8080"),
			Env:             getEnv("ATTRIB_ENV", "development"),
			ShutdownTimeout: getDurationEnv("ATTRIB_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolEnv("ATTRIB_DB_ENABLED", true),
			Host:     getEnv("ATTRIB_DB_HOST", "localhost"),
			Port:     getIntEnv("ATTRIB_DB_PORT", 5432),
			User:     getEnv("ATTRIB_DB_USER", "attribution"),
			Password: getEnv("ATTRIB_DB_PASSWORD", "attribution_secret"),
			DBName:   getEnv("ATTRIB_DB_NAME", "attribution"),
			SSLMode:  getEnv("ATTRIB_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("ATTRIB_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("ATTRIB_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("ATTRIB_REDIS_ENABLED", false),
			Addr:     getEnv("ATTRIB_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ATTRIB_REDIS_PASSWORD", ""),
			DB:       getIntEnv("ATTRIB_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("ATTRIB_CLICKHOUSE_ENABLED", false),
			Addr:     getEnv("ATTRIB_CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("ATTRIB_CLICKHOUSE_DB", "attribution"),
			User:     getEnv("ATTRIB_CLICKHOUSE_USER", "default"),
			Password: getEnv("ATTRIB_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("ATTRIB_AUTH_ENABLED", false),
			MasterKey: getEnv("ATTRIB_API_KEY", ""),
			SkipPaths: getSliceEnv("ATTRIB_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/track/visit", "/track/activity"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("ATTRIB_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("ATTRIB_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("ATTRIB_RATE_LIMIT_TRACK_BURST", 200),
			MgmtRPS:    getFloatEnv("ATTRIB_RATE_LIMIT_MGMT_RPS", 100),
			MgmtBurst:  getIntEnv("ATTRIB_RATE_LIMIT_MGMT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("ATTRIB_LOG_LEVEL", "info"),
			Format: getEnv("ATTRIB_LOG_FORMAT", "json"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("ATTRIB_GEO_ENABLED", false),
			DatabasePath: getEnv("ATTRIB_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Attribution: AttributionConfig{
			Window: getDurationEnv("ATTRIB_WINDOW", 720*time.Hour),
		},
		Snapshots: SnapshotConfig{
			Enabled:  getBoolEnv("ATTRIB_SNAPSHOTS_ENABLED", false),
			Interval: getDurationEnv("ATTRIB_SNAPSHOTS_INTERVAL", 15*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("ATTRIB_API_KEY is required when auth is enabled")
	}
	if c.Attribution.Window <= 0 {
		return fmt.Errorf("ATTRIB_WINDOW must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
