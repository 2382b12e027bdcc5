package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment string
	Storage     StorageConfig
	API         APIConfig
	Upload      UploadConfig
	Worker      WorkerConfig
	Reconcile   ReconcileConfig
	Timeline    TimelineConfig
	OTLPEndpoint string
	CORS        CORSConfig
}

// StorageConfig holds filesystem layout configuration.
type StorageConfig struct {
	// DataDir is the root for chunks, staging, events and task markers.
	DataDir string
	// HLSDir is the root for transcoded HLS output.
	HLSDir string
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Port      string
	Username  string
	Password  string
	JWTSecret string
}

// UploadConfig holds chunked upload configuration.
type UploadConfig struct {
	// TaskRetention is how long an idle task survives before the expiry
	// sweep reclaims it.
	TaskRetention time.Duration
}

// WorkerConfig holds transcode worker configuration.
type WorkerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	MetricsPort int
}

// ReconcileConfig holds fingerprint reconciliation configuration.
type ReconcileConfig struct {
	// MaxDistance is the largest Hamming distance still treated as a match.
	MaxDistance int
}

// TimelineConfig holds timeline view configuration.
type TimelineConfig struct {
	// BirthDate anchors the age buckets, format 2006-01-02.
	BirthDate string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Default values
const (
	DefaultPort           = "8080"
	DefaultMetricsPort    = 2112
	DefaultTaskRetention  = 24 * time.Hour
	DefaultWorkerInterval = time.Minute
	DefaultMaxAttempts    = 3
	DefaultMaxDistance    = 5
	DefaultOTLPEndpoint   = "localhost:4317"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		Storage: StorageConfig{
			DataDir: getEnv("DATA_DIR", "data"),
			HLSDir:  getEnv("HLS_DIR", "m3u8"),
		},
		API: APIConfig{
			Port:      getEnv("PORT", DefaultPort),
			Username:  os.Getenv("API_USERNAME"),
			Password:  os.Getenv("API_PASSWORD"),
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Upload: UploadConfig{
			TaskRetention: getEnvDuration("TASK_RETENTION", DefaultTaskRetention),
		},
		Worker: WorkerConfig{
			Interval:    getEnvDuration("WORKER_INTERVAL", DefaultWorkerInterval),
			MaxAttempts: getEnvInt("TRANSCODE_MAX_ATTEMPTS", DefaultMaxAttempts),
			MetricsPort: getEnvInt("METRICS_PORT", DefaultMetricsPort),
		},
		Reconcile: ReconcileConfig{
			MaxDistance: getEnvInt("RECONCILE_MAX_DISTANCE", DefaultMaxDistance),
		},
		Timeline: TimelineConfig{
			BirthDate: getEnv("BIRTH_DATE", "2025-05-09"),
		},
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
			}),
		},
	}

	return cfg, nil
}

// LoadAPI loads and validates configuration for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker loads and validates configuration for the worker service.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateAPI validates configuration required for the API service.
func (c *Config) ValidateAPI() error {
	var errs []string

	if c.Storage.DataDir == "" {
		errs = append(errs, "DATA_DIR is required")
	}
	if c.IsProduction() {
		if c.API.Username == "" {
			errs = append(errs, "API_USERNAME is required in production")
		}
		if c.API.Password == "" {
			errs = append(errs, "API_PASSWORD is required in production")
		}
		if len(c.API.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateWorker validates configuration required for the worker service.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.Storage.DataDir == "" {
		errs = append(errs, "DATA_DIR is required")
	}
	if c.Storage.HLSDir == "" {
		errs = append(errs, "HLS_DIR is required")
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, "TRANSCODE_MAX_ATTEMPTS must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction returns true if running in a production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// GetAPICredentials returns API credentials with a fallback for development.
func (c *Config) GetAPICredentials() (username, password string, err error) {
	username = c.API.Username
	password = c.API.Password

	if username == "" || password == "" {
		if c.IsProduction() {
			return "", "", errors.New("API credentials not configured")
		}
		return "admin", "secret", nil
	}
	return username, password, nil
}

// GetJWTSecret returns the JWT signing secret.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required (set it even for development)")
	}
	if len(secret) < 32 && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}
	return []byte(secret), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
