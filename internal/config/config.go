// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Driver names accepted by the storage, realtime and profile lookup settings.
const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	RealtimeDriverMemory   = "memory"
	RealtimeDriverPostgres = "postgres"

	ProfileSourceDatabase      = "database"
	ProfileSourceElasticsearch = "elasticsearch"
)

// Config holds all configuration for the application.
type Config struct {
	// Server Configuration
	GinMode            string        `mapstructure:"GIN_MODE"`
	ServerHost         string        `mapstructure:"SERVER_HOST"`
	ServerPort         string        `mapstructure:"SERVER_PORT"`
	ServerTimeout      time.Duration `mapstructure:"-"`
	CORSAllowedOrigins []string      `mapstructure:"-"`

	// Database Configuration
	DBDriver          string        `mapstructure:"DB_DRIVER"`
	DBHost            string        `mapstructure:"DB_HOST"`
	DBPort            string        `mapstructure:"DB_PORT"`
	DBUser            string        `mapstructure:"DB_USER"`
	DBPassword        string        `mapstructure:"DB_PASSWORD"`
	DBName            string        `mapstructure:"DB_NAME"`
	DBSSLMode         string        `mapstructure:"DB_SSL_MODE"`
	DBTimezone        string        `mapstructure:"DB_TIMEZONE"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"-"`
	DBSource          string        `mapstructure:"DB_SOURCE"`
	DBSQLitePath      string        `mapstructure:"DB_SQLITE_PATH"`

	// Logging Configuration
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	// Realtime
	RealtimeDriver         string        `mapstructure:"REALTIME_DRIVER"`
	RealtimeBufferSize     int           `mapstructure:"REALTIME_BUFFER_SIZE"`
	RealtimePublishTimeout time.Duration `mapstructure:"-"`

	// Profile lookups
	ProfileSource           string        `mapstructure:"PROFILE_SOURCE"`
	ProfileBatchWindow      time.Duration `mapstructure:"-"`
	ProfileLookupTimeout    time.Duration `mapstructure:"-"`
	ProfileCacheCapacity    int           `mapstructure:"PROFILE_CACHE_CAPACITY"`
	ProfileBreakerThreshold uint32        `mapstructure:"PROFILE_BREAKER_THRESHOLD"`

	// Conversations
	ConversationFreshness     time.Duration `mapstructure:"-"`
	ConversationCacheCapacity int           `mapstructure:"CONVERSATION_CACHE_CAPACITY"`
	ConversationMessageLimit  int           `mapstructure:"CONVERSATION_MESSAGE_LIMIT"`

	// Notifications
	NotificationFetchLimit int `mapstructure:"NOTIFICATION_FETCH_LIMIT"`

	// Cron Jobs
	NotificationReconcileSchedule string `mapstructure:"NOTIFICATION_RECONCILE_SCHEDULE"`

	// Firebase Configuration
	FirebaseServiceAccountKeyPath string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_KEY_PATH"`
	FirebaseProjectID             string `mapstructure:"FIREBASE_PROJECT_ID"`

	// Elasticsearch Configuration
	ElasticsearchURL string `mapstructure:"ELASTICSEARCH_URL"`
}

// Load attempts to load configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	v := viper.New()

	// Set default values
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_TIMEOUT_SECONDS", 30)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("DB_DRIVER", DBDriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "matrimony_db")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 60)
	v.SetDefault("DB_SOURCE", "")
	v.SetDefault("DB_SQLITE_PATH", "matrimony_sync.db")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 28)

	v.SetDefault("REALTIME_DRIVER", RealtimeDriverMemory)
	v.SetDefault("REALTIME_BUFFER_SIZE", 64)
	v.SetDefault("REALTIME_PUBLISH_TIMEOUT_SECONDS", 5)

	v.SetDefault("PROFILE_SOURCE", ProfileSourceDatabase)
	v.SetDefault("PROFILE_BATCH_WINDOW_MS", 100)
	v.SetDefault("PROFILE_LOOKUP_TIMEOUT_SECONDS", 10)
	v.SetDefault("PROFILE_CACHE_CAPACITY", 500)
	v.SetDefault("PROFILE_BREAKER_THRESHOLD", 5)

	v.SetDefault("CONVERSATION_FRESHNESS_SECONDS", 30)
	v.SetDefault("CONVERSATION_CACHE_CAPACITY", 500)
	v.SetDefault("CONVERSATION_MESSAGE_LIMIT", 50)

	v.SetDefault("NOTIFICATION_FETCH_LIMIT", 100)
	v.SetDefault("NOTIFICATION_RECONCILE_SCHEDULE", "@every 5m")

	// Firebase
	v.SetDefault("FIREBASE_PROJECT_ID", "") // Optional
	v.SetDefault("FIREBASE_SERVICE_ACCOUNT_KEY_PATH", "")

	// Elasticsearch
	v.SetDefault("ELASTICSEARCH_URL", "http://localhost:9200")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	// Convert duration fields
	cfg.ServerTimeout = time.Duration(v.GetInt("SERVER_TIMEOUT_SECONDS")) * time.Second
	cfg.DBConnMaxLifetime = time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME_MINUTES")) * time.Minute
	cfg.RealtimePublishTimeout = time.Duration(v.GetInt("REALTIME_PUBLISH_TIMEOUT_SECONDS")) * time.Second
	cfg.ProfileBatchWindow = time.Duration(v.GetInt("PROFILE_BATCH_WINDOW_MS")) * time.Millisecond
	cfg.ProfileLookupTimeout = time.Duration(v.GetInt("PROFILE_LOOKUP_TIMEOUT_SECONDS")) * time.Second
	cfg.ConversationFreshness = time.Duration(v.GetInt("CONVERSATION_FRESHNESS_SECONDS")) * time.Second
	cfg.CORSAllowedOrigins = splitList(v.GetString("CORS_ALLOWED_ORIGINS"))

	// An explicit DB_SOURCE wins; otherwise GORM and the LISTEN connection share a DSN built from the parts.
	if strings.TrimSpace(cfg.DBSource) == "" {
		cfg.DBSource = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode, cfg.DBTimezone)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	switch cfg.DBDriver {
	case DBDriverPostgres, DBDriverSQLite:
	default:
		return fmt.Errorf("FATAL: DB_DRIVER must be %q or %q, got %q", DBDriverPostgres, DBDriverSQLite, cfg.DBDriver)
	}
	switch cfg.RealtimeDriver {
	case RealtimeDriverMemory:
	case RealtimeDriverPostgres:
		if cfg.DBDriver != DBDriverPostgres {
			return fmt.Errorf("FATAL: REALTIME_DRIVER=postgres requires DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("FATAL: REALTIME_DRIVER must be %q or %q, got %q", RealtimeDriverMemory, RealtimeDriverPostgres, cfg.RealtimeDriver)
	}
	switch cfg.ProfileSource {
	case ProfileSourceDatabase, ProfileSourceElasticsearch:
	default:
		return fmt.Errorf("FATAL: PROFILE_SOURCE must be %q or %q, got %q", ProfileSourceDatabase, ProfileSourceElasticsearch, cfg.ProfileSource)
	}

	// Basic validation for critical configs
	if strings.TrimSpace(cfg.FirebaseServiceAccountKeyPath) == "" {
		return fmt.Errorf("FATAL: FIREBASE_SERVICE_ACCOUNT_KEY_PATH is not set. This is required for Firebase Admin SDK initialization")
	}
	if _, err := os.Stat(cfg.FirebaseServiceAccountKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("FATAL: Firebase service account key file specified in FIREBASE_SERVICE_ACCOUNT_KEY_PATH (%s) not found", cfg.FirebaseServiceAccountKeyPath)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
