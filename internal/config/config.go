package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Trust     TrustConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Email     EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectAttempts   int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	TOTPEncryptionKey  string
	TOTPIssuer         string
	BackupCodeCount    int
	TimingDelayBaseMs  int
	TimingDelayJitter  int
	// OAuthAssertionSecret verifies identity assertions from the OAuth broker.
	// Empty disables the oauth post-auth flow.
	OAuthAssertionSecret string
}

// TrustConfig drives the device scorer and the step-up gate. It is built once
// at startup and handed to trust.NewScorer / trust.NewGate.
type TrustConfig struct {
	TrustThreshold     int
	MediumThreshold    int
	GracePeriodMinutes int
	SessionTTL         time.Duration
	CodeTTL            time.Duration
	CodeMaxAttempts    int
}

// RateLimitConfig holds per-class request budgets.
type RateLimitConfig struct {
	AuthStrictPerMinute int
	GeneralPerMinute    int
	BasicPerMinute      int
	SMSPerIPPerHour     int
	SMSPerUserPer10Min  int
	DataExportPerDay    int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AWSConfig struct {
	Region       string
	AvatarBucket string
	ExportBucket string
	PresignTTL   time.Duration
	SMSSenderID  string
}

type EmailConfig struct {
	FromAddress string
	AppBaseURL  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "trustgate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectAttempts:   getEnvAsInt("DB_CONNECT_ATTEMPTS", 5),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TOTPEncryptionKey:  getEnv("TOTP_ENCRYPTION_KEY", ""),
			TOTPIssuer:         getEnv("TOTP_ISSUER", "Trustgate"),
			BackupCodeCount:    getEnvAsInt("BACKUP_CODE_COUNT", 10),
			TimingDelayBaseMs:  getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayJitter:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),

			OAuthAssertionSecret: getEnv("OAUTH_ASSERTION_SECRET", ""),
		},
		Trust: TrustConfig{
			TrustThreshold:     getEnvAsInt("TRUST_THRESHOLD", 70),
			MediumThreshold:    getEnvAsInt("TRUST_MEDIUM_THRESHOLD", 40),
			GracePeriodMinutes: getEnvAsInt("STEP_UP_GRACE_PERIOD_MINUTES", 60),
			SessionTTL:         getEnvAsDuration("DEVICE_SESSION_TTL", 30*24*time.Hour),
			CodeTTL:            getEnvAsDuration("VERIFICATION_CODE_TTL", 10*time.Minute),
			CodeMaxAttempts:    getEnvAsInt("VERIFICATION_CODE_MAX_ATTEMPTS", 5),
		},
		RateLimit: RateLimitConfig{
			AuthStrictPerMinute: getEnvAsInt("RATE_LIMIT_AUTH_STRICT", 5),
			GeneralPerMinute:    getEnvAsInt("RATE_LIMIT_GENERAL", 60),
			BasicPerMinute:      getEnvAsInt("RATE_LIMIT_BASIC", 30),
			SMSPerIPPerHour:     getEnvAsInt("RATE_LIMIT_SMS_IP", 5),
			SMSPerUserPer10Min:  getEnvAsInt("RATE_LIMIT_SMS_USER", 3),
			DataExportPerDay:    getEnvAsInt("RATE_LIMIT_DATA_EXPORT", 2),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:       getEnv("AWS_REGION", "us-east-1"),
			AvatarBucket: getEnv("AVATAR_BUCKET", ""),
			ExportBucket: getEnv("EXPORT_BUCKET", ""),
			PresignTTL:   getEnvAsDuration("EXPORT_LINK_TTL", 24*time.Hour),
			SMSSenderID:  getEnv("SMS_SENDER_ID", "Trustgate"),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@example.com"),
			AppBaseURL:  getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Trust.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects thresholds that would make the tiers overlap or the
// score range unreachable.
func (c *TrustConfig) Validate() error {
	if c.TrustThreshold < 0 || c.TrustThreshold > 100 {
		return fmt.Errorf("TRUST_THRESHOLD must be within 0..100 (got %d)", c.TrustThreshold)
	}
	if c.MediumThreshold < 0 || c.MediumThreshold > c.TrustThreshold {
		return fmt.Errorf("TRUST_MEDIUM_THRESHOLD must be within 0..%d (got %d)", c.TrustThreshold, c.MediumThreshold)
	}
	if c.GracePeriodMinutes < 0 {
		return fmt.Errorf("STEP_UP_GRACE_PERIOD_MINUTES cannot be negative")
	}
	if c.CodeMaxAttempts <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns host:port, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
