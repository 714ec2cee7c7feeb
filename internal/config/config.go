package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration. It is built once at startup and
// never mutated afterwards; components receive it by reference.
type Config struct {
	Environment string

	Server   ServerConfig
	Logging  LoggingConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
	OTP      OTPConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	DB       int
	PoolSize int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// OTPConfig carries the lifecycle tunables. All thresholds default to the
// values the service shipped with; override via environment.
type OTPConfig struct {
	CodeLength             int
	MaxAttempts            int
	MaxResendCount         int
	ExpiryMinutes          int
	BlockDurationMinutes   int
	ResendCooldownSeconds  int
	RateLimitMax           int
	RateLimitWindowSeconds int
	BcryptCost             int
	AllowedApplications    []string
}

func (o OTPConfig) Expiry() time.Duration {
	return time.Duration(o.ExpiryMinutes) * time.Minute
}

func (o OTPConfig) BlockDuration() time.Duration {
	return time.Duration(o.BlockDurationMinutes) * time.Minute
}

func (o OTPConfig) ResendCooldown() time.Duration {
	return time.Duration(o.ResendCooldownSeconds) * time.Second
}

func (o OTPConfig) RateLimitWindow() time.Duration {
	return time.Duration(o.RateLimitWindowSeconds) * time.Second
}

// Load reads configuration from the environment. A .env file is applied
// first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnv("DB_DATABASE", "otp_service"),
			User:     getEnv("DB_USERNAME", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_DELIVERY_TOPIC", "otp.delivery.requests"),
		},
		OTP: OTPConfig{
			CodeLength:             getEnvInt("OTP_LENGTH", 6),
			MaxAttempts:            getEnvInt("OTP_MAX_ATTEMPTS", 3),
			MaxResendCount:         getEnvInt("OTP_MAX_RESEND_COUNT", 5),
			ExpiryMinutes:          getEnvInt("OTP_EXPIRY_MINUTES", 10),
			BlockDurationMinutes:   getEnvInt("OTP_BLOCK_DURATION_MINUTES", 15),
			ResendCooldownSeconds:  getEnvInt("OTP_RESEND_COOLDOWN_SECONDS", 60),
			RateLimitMax:           getEnvInt("OTP_RATE_LIMIT_MAX", 5),
			RateLimitWindowSeconds: getEnvInt("OTP_RATE_LIMIT_WINDOW_SECONDS", 900),
			BcryptCost:             getEnvInt("OTP_BCRYPT_COST", 12),
			AllowedApplications:    getEnvList("ALLOWED_APPLICATIONS", nil),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// DSN builds the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
