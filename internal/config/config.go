package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig
	JWT      JWTConfig
	App      AppConfig
	Engine   EngineConfig
	Kafka    KafkaConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string
	AccessExpiration string
}

// AppConfig holds application configuration
type AppConfig struct {
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// EngineConfig holds the productivity engine settings
type EngineConfig struct {
	Store             string
	DefaultTimezone   string
	RecalcWorkers     int
	JobRetention      time.Duration
	IdleCheckInterval time.Duration
	NightlyRecalcHour int // -1 disables the nightly run
}

// KafkaConfig holds event bus settings. No brokers disables publishing.
type KafkaConfig struct {
	Brokers       []string
	AlertTopic    string
	ProgressTopic string
	WriteTimeout  time.Duration
}

func Load() (*Config, error) {
	// A missing .env is fine, the environment may be set by the container.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{}

	// Database configuration
	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 25)
	if err != nil {
		return nil, err
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, err
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "productivity"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: int32(maxConns),
		MinConns: int32(minConns),
	}

	// Application configuration
	appPort, err := getEnvInt("APP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	config.App = AppConfig{
		Port:           appPort,
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS"),
	}

	// JWT configuration
	config.JWT = JWTConfig{
		Secret:           getEnv("JWT_SECRET_KEY", ""),
		AccessExpiration: getEnv("JWT_ACCESS_EXPIRATION_TIME", "1h"),
	}

	// Engine configuration
	workers, err := getEnvInt("ENGINE_RECALC_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	retention, err := getEnvDuration("ENGINE_JOB_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	idleInterval, err := getEnvDuration("ENGINE_IDLE_CHECK_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	nightlyHour, err := getEnvInt("ENGINE_NIGHTLY_RECALC_HOUR", 2)
	if err != nil {
		return nil, err
	}

	config.Engine = EngineConfig{
		Store:             getEnv("ENGINE_STORE", StorePostgres),
		DefaultTimezone:   getEnv("ENGINE_DEFAULT_TIMEZONE", "UTC"),
		RecalcWorkers:     workers,
		JobRetention:      retention,
		IdleCheckInterval: idleInterval,
		NightlyRecalcHour: nightlyHour,
	}

	// Kafka configuration
	writeTimeout, err := getEnvDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	config.Kafka = KafkaConfig{
		Brokers:       getEnvSlice("KAFKA_BROKERS"),
		AlertTopic:    getEnv("KAFKA_ALERT_TOPIC", "productivity.idle-alerts"),
		ProgressTopic: getEnv("KAFKA_PROGRESS_TOPIC", "productivity.recalculation-progress"),
		WriteTimeout:  writeTimeout,
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Engine.Store {
	case StorePostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("ENGINE_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Engine.Store)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if _, err := time.ParseDuration(c.JWT.AccessExpiration); err != nil {
		return fmt.Errorf("invalid JWT_ACCESS_EXPIRATION_TIME: %w", err)
	}
	if _, err := bizday.LoadLocation(c.Engine.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid ENGINE_DEFAULT_TIMEZONE: %w", err)
	}
	if c.Engine.RecalcWorkers <= 0 {
		return fmt.Errorf("ENGINE_RECALC_WORKERS must be positive")
	}
	if c.Engine.JobRetention <= 0 {
		return fmt.Errorf("ENGINE_JOB_RETENTION must be positive")
	}
	if c.Engine.IdleCheckInterval <= 0 {
		return fmt.Errorf("ENGINE_IDLE_CHECK_INTERVAL must be positive")
	}
	if c.Engine.NightlyRecalcHour < -1 || c.Engine.NightlyRecalcHour > 23 {
		return fmt.Errorf("ENGINE_NIGHTLY_RECALC_HOUR must be between -1 and 23")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
