package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
	// ConnectAttempts bounds the startup ping retries.
	ConnectAttempts int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ScannerConfig selects and configures the malware scanning backend.
type ScannerConfig struct {
	// Provider is one of mock, clamav or virustotal.
	Provider          string
	ClamAVEndpoint    string
	VirusTotalAPIKey  string
	VirusTotalBaseURL string
	// Environment is the deployment environment (APP_ENV), used to flag the
	// mock scanner when it runs in production.
	Environment string
}

// Production reports whether the scanner runs in a production deployment.
func (c ScannerConfig) Production() bool {
	return c.Environment == EnvProduction
}

// RedisConfig holds connection settings for the rescan queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RescanConfig controls the background re-scan of degraded uploads.
type RescanConfig struct {
	Enabled  bool
	Queue    string
	Interval time.Duration
}

// UploadConfig holds upload policy switches.
type UploadConfig struct {
	// AllowSkipScan lets callers request an upload without malware scanning.
	AllowSkipScan bool
	// MaxBytes caps the request body; larger uploads get 413.
	MaxBytes int
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost  string
	Port     string
	Env      string
	Timezone string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Scanner  ScannerConfig
	Redis    RedisConfig
	Rescan   RescanConfig
	Upload   UploadConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	env := getEnv("APP_ENV", EnvDevelopment)
	return &AppConfig{
		AppHost:  getEnv("APP_HOST", "localhost:8080"),
		Port:     getEnv("PORT", "8080"),
		Env:      env,
		Timezone: getEnv("APP_TIMEZONE", "UTC"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
			ConnectAttempts:    getEnvInt("DB_CONNECT_ATTEMPTS", 5),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Scanner: ScannerConfig{
			Provider:          getEnv("SCANNER_PROVIDER", "mock"),
			ClamAVEndpoint:    getEnv("CLAMAV_ENDPOINT", ""),
			VirusTotalAPIKey:  getEnv("VIRUSTOTAL_API_KEY", ""),
			VirusTotalBaseURL: getEnv("VIRUSTOTAL_BASE_URL", "https://www.virustotal.com/api/v3"),
			Environment:       env,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Rescan: RescanConfig{
			Enabled:  getEnvBool("RESCAN_ENABLED", false),
			Queue:    getEnv("RESCAN_QUEUE", "docgate:rescan"),
			Interval: getEnvDuration("RESCAN_INTERVAL", 30*time.Second),
		},
		Upload: UploadConfig{
			AllowSkipScan: getEnvBool("UPLOAD_SKIP_SCAN", false),
			MaxBytes:      getEnvInt("UPLOAD_MAX_BYTES", 25<<20),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}
