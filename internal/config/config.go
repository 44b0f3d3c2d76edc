package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.inboxmq.dev/internal/common/secrets"
)

// Config holds all configuration for the inbox processor.
type Config struct {
	// HTTP server configuration (health, metrics and inbox status endpoints)
	HTTP HTTPConfig

	// Storage selects and configures the inbox's persistence backend
	Storage StorageConfig

	// Queue configuration (NATS or SQS) feeding the inbox bridges
	Queue QueueConfig

	// Inboxes lists every named inbox this process runs
	Inboxes []InboxConfig

	// Data directory for embedded services
	DataDir string

	// Development mode
	DevMode bool

	// Secrets configures the provider used to resolve secret:// references
	// in storage and queue connection settings (see ResolveSecrets).
	Secrets secrets.Config
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

// StorageConfig selects the inbox's persistence backend and its
// connection settings. Only the section matching Backend is read.
type StorageConfig struct {
	// Backend is one of "postgres", "mysql", "mongo", "redis", "memory"
	Backend string

	Postgres SQLStorageConfig
	MySQL    SQLStorageConfig
	Mongo    MongoStorageConfig
	Redis    RedisStorageConfig
}

// SQLStorageConfig holds a database/sql-backed provider's connection DSN
// and pool sizing.
type SQLStorageConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MongoStorageConfig holds MongoDB connection configuration
type MongoStorageConfig struct {
	URI      string
	Database string
}

// RedisStorageConfig holds Redis connection configuration
type RedisStorageConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	Type string // "embedded", "nats", "sqs"

	NATS NATSConfig
	SQS  SQSConfig
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	DataDir string
}

// SQSConfig holds AWS SQS configuration
type SQSConfig struct {
	QueueURL          string
	Region            string
	WaitTimeSeconds   int
	VisibilityTimeout int
}

// InboxConfig configures one named inbox instance and the queue subject
// its bridge consumes from.
type InboxConfig struct {
	Name string
	Type string // "default", "batched", "fifo", "fifo_batched"

	// Subject is the NATS subject this inbox's bridge consumes from. With
	// the SQS queue type the value only has to be non-empty: the bridge
	// reads from the queue client's configured QueueURL. Empty means the
	// inbox is write-only (fed via the library API, not a bridge).
	Subject string

	ReadBatchSize  int
	WriteBatchSize int

	MaxProcessingTime time.Duration
	PollingInterval   time.Duration

	MaxAttempts int

	EnableDeadLetter             bool
	DeadLetterMaxMessageLifetime time.Duration

	EnableDeduplication   bool
	DeduplicationInterval time.Duration
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        getEnvInt("HTTP_PORT", 8080),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:4200"}),
		},

		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "postgres"),
			Postgres: SQLStorageConfig{
				DSN:             getEnv("POSTGRES_DSN", "postgres://localhost:5432/inbox?sslmode=disable"),
				MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 20),
				MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			MySQL: SQLStorageConfig{
				DSN:             getEnv("MYSQL_DSN", "root@tcp(localhost:3306)/inbox?parseTime=true"),
				MaxOpenConns:    getEnvInt("MYSQL_MAX_OPEN_CONNS", 20),
				MaxIdleConns:    getEnvInt("MYSQL_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: getEnvDuration("MYSQL_CONN_MAX_LIFETIME", 30*time.Minute),
			},
			Mongo: MongoStorageConfig{
				URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"),
				Database: getEnv("MONGODB_DATABASE", "inbox"),
			},
			Redis: RedisStorageConfig{
				Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
			},
		},

		Queue: QueueConfig{
			Type: getEnv("QUEUE_TYPE", "embedded"),
			NATS: NATSConfig{
				URL:     getEnv("NATS_URL", "nats://localhost:4222"),
				DataDir: getEnv("NATS_DATA_DIR", "./data/nats"),
			},
			SQS: SQSConfig{
				QueueURL:          getEnv("SQS_QUEUE_URL", ""),
				Region:            getEnv("AWS_REGION", "us-east-1"),
				WaitTimeSeconds:   getEnvInt("SQS_WAIT_TIME_SECONDS", 20),
				VisibilityTimeout: getEnvInt("SQS_VISIBILITY_TIMEOUT", 120),
			},
		},

		DataDir: getEnv("DATA_DIR", "./data"),
		DevMode: getEnvBool("INBOXD_DEV", false),

		Secrets: *secrets.LoadConfigFromEnv(),
	}

	cfg.Inboxes = loadInboxesFromEnv()

	return cfg, nil
}

// loadInboxesFromEnv reads INBOXES as a comma-separated list of names, then
// reads INBOX_<NAME>_* for each one's settings, mirroring the single-inbox
// defaults an operator would otherwise hand-author per entry.
func loadInboxesFromEnv() []InboxConfig {
	names := getEnvSlice("INBOXES", nil)
	inboxes := make([]InboxConfig, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		prefix := "INBOX_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		inboxes = append(inboxes, InboxConfig{
			Name:                         name,
			Type:                         getEnv(prefix+"TYPE", "default"),
			Subject:                      getEnv(prefix+"SUBJECT", ""),
			ReadBatchSize:                getEnvInt(prefix+"READ_BATCH_SIZE", 50),
			WriteBatchSize:               getEnvInt(prefix+"WRITE_BATCH_SIZE", 100),
			MaxProcessingTime:            getEnvDuration(prefix+"MAX_PROCESSING_TIME", 30*time.Second),
			PollingInterval:              getEnvDuration(prefix+"POLLING_INTERVAL", 2*time.Second),
			MaxAttempts:                  getEnvInt(prefix+"MAX_ATTEMPTS", 5),
			EnableDeadLetter:             getEnvBool(prefix+"ENABLE_DEAD_LETTER", true),
			DeadLetterMaxMessageLifetime: getEnvDuration(prefix+"DEAD_LETTER_MAX_LIFETIME", 30*24*time.Hour),
			EnableDeduplication:          getEnvBool(prefix+"ENABLE_DEDUPLICATION", false),
			DeduplicationInterval:        getEnvDuration(prefix+"DEDUPLICATION_INTERVAL", time.Hour),
		})
	}
	return inboxes
}

// Validate checks the storage backend name and that at least one inbox is
// configured.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "postgres", "mysql", "mongo", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if len(c.Inboxes) == 0 {
		return fmt.Errorf("config: no inboxes configured (set INBOXES)")
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.Split(value, ",")
	}
	return defaultValue
}
