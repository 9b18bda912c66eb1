package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Nats        NatsConfig
	Auth        AuthConfig
	Collab      CollabConfig
	Persistence PersistenceConfig
	SMTP        SMTPConfig
	Taxonomy    TaxonomyConfig
	Tracing     TracingConfig
	Export      ExportConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	InstanceID         string
	LogFilePath        string
	CollabLogFilePath  string
	CorsAllowedOrigins string
	BodyLimitMB        int
}

type DatabaseConfig struct {
	Connection string
}

type RedisConfig struct {
	URL          string
	RelayEnabled bool
}

type NatsConfig struct {
	URL     string
	Enabled bool
}

type AuthConfig struct {
	JWTSecret string
}

// CollabConfig tunes the realtime sync layer.
type CollabConfig struct {
	ReconnectGrace time.Duration
	PresenceTTL    time.Duration
	MaxChunkBytes  int
	ChunkTimeout   time.Duration
	MaxChunks      int
	MaxBacklog     int
	MaxMessageSize int64
}

type PersistenceConfig struct {
	Driver         string // "redis", "postgres" or "memory"
	Debounce       time.Duration
	WriteTimeout   time.Duration
	AlertThreshold int
	MaxBackoff     time.Duration
	AlertEmail     string
}

type SMTPConfig struct {
	Host       string
	Port       int
	Email      string
	Password   string
	SenderName string
}

type TaxonomyConfig struct {
	URL      string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type TracingConfig struct {
	Enabled  bool
	Endpoint string
}

type ExportConfig struct {
	PandocPath string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	hostname, _ := os.Hostname()

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			InstanceID:         getEnv("INSTANCE_ID", hostname),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CollabLogFilePath:  getEnv("COLLAB_LOG_FILE_PATH", "logs/collab.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			BodyLimitMB:        getEnvAsInt("BODY_LIMIT_MB", 20),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			RelayEnabled: getEnvAsBool("COLLAB_RELAY_ENABLED", false),
		},
		Nats: NatsConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Collab: CollabConfig{
			ReconnectGrace: getEnvAsDuration("COLLAB_RECONNECT_GRACE", 30*time.Second),
			PresenceTTL:    getEnvAsDuration("COLLAB_PRESENCE_TTL", 15*time.Second),
			MaxChunkBytes:  getEnvAsInt("COLLAB_MAX_CHUNK_BYTES", 32*1024),
			ChunkTimeout:   getEnvAsDuration("COLLAB_CHUNK_TIMEOUT", 30*time.Second),
			MaxChunks:      getEnvAsInt("COLLAB_MAX_CHUNKS", 1024),
			MaxBacklog:     getEnvAsInt("COLLAB_MAX_BACKLOG", 512),
			MaxMessageSize: int64(getEnvAsInt("COLLAB_MAX_MESSAGE_BYTES", 256*1024)),
		},
		Persistence: PersistenceConfig{
			Driver:         getEnv("PERSIST_DRIVER", "redis"),
			Debounce:       getEnvAsDuration("PERSIST_DEBOUNCE", 2*time.Second),
			WriteTimeout:   getEnvAsDuration("PERSIST_WRITE_TIMEOUT", 10*time.Second),
			AlertThreshold: getEnvAsInt("PERSIST_ALERT_THRESHOLD", 5),
			MaxBackoff:     getEnvAsDuration("PERSIST_MAX_BACKOFF", time.Minute),
			AlertEmail:     getEnv("PERSIST_ALERT_EMAIL", ""),
		},
		SMTP: SMTPConfig{
			Host:       getEnv("SMTP_HOST", ""),
			Port:       getEnvAsInt("SMTP_PORT", 587),
			Email:      getEnv("SMTP_EMAIL", ""),
			Password:   getEnv("SMTP_PASSWORD", ""),
			SenderName: getEnv("SMTP_SENDER_NAME", "Annotation Collab"),
		},
		Taxonomy: TaxonomyConfig{
			URL:      getEnv("TAXONOMY_URL", ""),
			CacheTTL: getEnvAsDuration("TAXONOMY_CACHE_TTL", 5*time.Minute),
			Timeout:  getEnvAsDuration("TAXONOMY_TIMEOUT", 3*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvAsBool("OTEL_ENABLED", false),
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		Export: ExportConfig{
			PandocPath: getEnv("PANDOC_PATH", "pandoc"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("1500ms", "2s").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
