package config

import (
	"fmt"
	"strings"
	"time"

	"marketchat-backend/pkg/env"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	Media     MediaConfig
	JWT       JWTConfig
	Log       LogConfig
	Realtime  RealtimeConfig
	Status    StatusConfig
	Push      PushConfig
	CORS      CORSConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// MinIOConfig holds MinIO configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MediaConfig controls how uploaded objects are addressed
type MediaConfig struct {
	// PublicBaseURL, when set, is used to build permanent object URLs.
	// Otherwise presigned GET URLs valid for URLExpiry are returned.
	PublicBaseURL string
	URLExpiry     time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret   string
	Audience string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// RealtimeConfig configures change propagation and ephemeral signals
type RealtimeConfig struct {
	Broker            string // redis, memory
	TypingLeaseTTL    time.Duration
	ViewingTTL        time.Duration
	ReadReceiptWindow int
}

// StatusConfig configures story lifetime and the optional reaper
type StatusConfig struct {
	TTL            time.Duration
	ReaperInterval time.Duration
	ReaperGrace    time.Duration
}

// PushConfig selects and configures the device push provider
type PushConfig struct {
	Provider           string // mock, fcm, apns
	FCMProjectID       string
	FCMCredentialsPath string
	APNsBundleID       string
	APNsKeyPath        string
	APNsKeyID          string
	APNsTeamID         string
	APNsCertPath       string
	APNsCertPassword   string
	APNsProduction     bool
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load(serviceName string, defaultPort int) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        env.GetInt("PORT", defaultPort),
			Environment: env.GetString("ENV", "development"),
			ServiceName: env.GetString("SERVICE_NAME", serviceName),
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "marketchat"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
			MinConns: env.GetInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "marketchat"),
			Username:    env.GetStringFromFile("CASSANDRA_USER", ""),
			Password:    env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
		},
		MinIO: MinIOConfig{
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "marketchat-media"),
		},
		Media: MediaConfig{
			PublicBaseURL: strings.TrimRight(env.GetString("MEDIA_PUBLIC_BASE_URL", ""), "/"),
			URLExpiry:     env.GetDuration("MEDIA_URL_EXPIRY", 7*24*time.Hour),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "marketchat-api"),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Realtime: RealtimeConfig{
			Broker:            env.GetString("REALTIME_BROKER", "redis"),
			TypingLeaseTTL:    env.GetDuration("TYPING_LEASE_TTL", 5*time.Second),
			ViewingTTL:        env.GetDuration("VIEWING_TTL", 2*time.Minute),
			ReadReceiptWindow: env.GetInt("READ_RECEIPT_WINDOW", 50),
		},
		Status: StatusConfig{
			TTL:            env.GetDuration("STATUS_TTL", 24*time.Hour),
			ReaperInterval: env.GetDuration("STATUS_REAPER_INTERVAL", 0),
			ReaperGrace:    env.GetDuration("STATUS_REAPER_GRACE", time.Hour),
		},
		Push: PushConfig{
			Provider:           env.GetString("PUSH_PROVIDER", "mock"),
			FCMProjectID:       env.GetString("FCM_PROJECT_ID", ""),
			FCMCredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			APNsBundleID:       env.GetString("APNS_BUNDLE_ID", ""),
			APNsKeyPath:        env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:          env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:         env.GetString("APNS_TEAM_ID", ""),
			APNsCertPath:       env.GetString("APNS_CERT_PATH", ""),
			APNsCertPassword:   env.GetStringFromFile("APNS_CERT_PASSWORD", ""),
			APNsProduction:     env.GetBool("APNS_PRODUCTION", false),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Realtime.Broker {
	case "redis", "memory":
	default:
		return fmt.Errorf("REALTIME_BROKER must be redis or memory, got %q", c.Realtime.Broker)
	}
	if c.Realtime.TypingLeaseTTL <= 0 {
		return fmt.Errorf("TYPING_LEASE_TTL must be positive")
	}
	if c.Realtime.ReadReceiptWindow <= 0 {
		return fmt.Errorf("READ_RECEIPT_WINDOW must be positive")
	}
	if c.Status.TTL <= 0 {
		return fmt.Errorf("STATUS_TTL must be positive")
	}
	if c.Media.URLExpiry <= 0 || c.Media.URLExpiry > 7*24*time.Hour {
		// S3 presigned URLs cannot outlive seven days
		return fmt.Errorf("MEDIA_URL_EXPIRY must be between 1s and 168h")
	}

	return nil
}

// RequireJWT checks the token secret for services that authenticate requests
func (c *Config) RequireJWT() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
