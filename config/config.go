package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Auth     AuthConfig
	CheckIn  CheckInConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	EmbeddedWorker     bool   // also consume check-in jobs in the API process
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/sampleday?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	Issuer      string
}

// AWSConfig holds AWS credentials and the event image bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ImagesBucket         string
	PresignExpireMinutes int
}

// AuthConfig holds sign-up settings.
type AuthConfig struct {
	AdminSignupCode string // empty disables admin sign-up
}

// CheckInConfig tunes the check-in engine and its trackers.
type CheckInConfig struct {
	RadiusMeters    float64
	RefreshInterval time.Duration
	SampleTTL       time.Duration
	MaxSessions     int
	EventCacheSize  int
}

// checkInFile is the TOML layout of CHECKIN_CONFIG_FILE. Durations use Go syntax ("30s").
type checkInFile struct {
	CheckIn struct {
		RadiusMeters    float64 `toml:"radius_meters"`
		RefreshInterval string  `toml:"refresh_interval"`
		SampleTTL       string  `toml:"sample_ttl"`
		MaxSessions     int     `toml:"max_sessions"`
		EventCacheSize  int     `toml:"event_cache_size"`
	} `toml:"checkin"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file. When
// CHECKIN_CONFIG_FILE is set, its [checkin] table overrides the check-in settings.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8081"),
			EmbeddedWorker:     getEnv("EMBEDDED_WORKER", "true") == "true",
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "sampleday"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
			Issuer:      getEnv("JWT_ISSUER", "sampleday"),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ImagesBucket:         getEnv("AWS_S3_IMAGES_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Auth: AuthConfig{
			AdminSignupCode: getEnv("ADMIN_SIGNUP_CODE", ""),
		},
		CheckIn: CheckInConfig{
			RadiusMeters:    getEnvFloat("CHECKIN_RADIUS_METERS", 100),
			RefreshInterval: getEnvDuration("CHECKIN_REFRESH_INTERVAL", 30*time.Second),
			SampleTTL:       getEnvDuration("CHECKIN_SAMPLE_TTL", 5*time.Minute),
			MaxSessions:     getEnvInt("CHECKIN_MAX_SESSIONS", 10000),
			EventCacheSize:  getEnvInt("EVENT_CACHE_SIZE", 1024),
		},
	}

	if path := os.Getenv("CHECKIN_CONFIG_FILE"); path != "" {
		if err := cfg.CheckIn.applyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *CheckInConfig) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open check-in config: %w", err)
	}
	defer f.Close()

	var file checkInFile
	if err := toml.NewDecoder(f).Decode(&file); err != nil {
		return fmt.Errorf("decode check-in config %s: %w", path, err)
	}
	t := file.CheckIn
	if t.RadiusMeters > 0 {
		c.RadiusMeters = t.RadiusMeters
	}
	if t.RefreshInterval != "" {
		if c.RefreshInterval, err = time.ParseDuration(t.RefreshInterval); err != nil {
			return fmt.Errorf("check-in refresh_interval: %w", err)
		}
	}
	if t.SampleTTL != "" {
		if c.SampleTTL, err = time.ParseDuration(t.SampleTTL); err != nil {
			return fmt.Errorf("check-in sample_ttl: %w", err)
		}
	}
	if t.MaxSessions > 0 {
		c.MaxSessions = t.MaxSessions
	}
	if t.EventCacheSize > 0 {
		c.EventCacheSize = t.EventCacheSize
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
