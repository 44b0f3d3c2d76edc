package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"go.inboxmq.dev/internal/common/secrets"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP    TOMLHTTPConfig    `toml:"http"`
	Storage TOMLStorageConfig `toml:"storage"`
	Queue   TOMLQueueConfig   `toml:"queue"`
	Inboxes []TOMLInboxConfig `toml:"inbox"`
	Secrets TOMLSecretsConfig `toml:"secrets"`
	DataDir string            `toml:"data_dir"`
	DevMode bool              `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLStorageConfig represents storage backend configuration in TOML
type TOMLStorageConfig struct {
	Backend  string              `toml:"backend"`
	Postgres TOMLSQLStorageConfig `toml:"postgres"`
	MySQL    TOMLSQLStorageConfig `toml:"mysql"`
	Mongo    TOMLMongoStorageConfig `toml:"mongo"`
	Redis    TOMLRedisStorageConfig `toml:"redis"`
}

// TOMLSQLStorageConfig represents a SQL backend's connection settings
type TOMLSQLStorageConfig struct {
	DSN             string `toml:"dsn"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
}

// TOMLMongoStorageConfig represents MongoDB connection configuration
type TOMLMongoStorageConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLRedisStorageConfig represents Redis connection configuration
type TOMLRedisStorageConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// TOMLQueueConfig represents queue configuration in TOML
type TOMLQueueConfig struct {
	Type string         `toml:"type"`
	NATS TOMLNATSConfig `toml:"nats"`
	SQS  TOMLSQSConfig  `toml:"sqs"`
}

// TOMLNATSConfig represents NATS configuration in TOML
type TOMLNATSConfig struct {
	URL     string `toml:"url"`
	DataDir string `toml:"data_dir"`
}

// TOMLSQSConfig represents SQS configuration in TOML
type TOMLSQSConfig struct {
	QueueURL          string `toml:"queue_url"`
	Region            string `toml:"region"`
	WaitTimeSeconds   int    `toml:"wait_time_seconds"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
}

// TOMLInboxConfig represents one [[inbox]] entry in TOML
type TOMLInboxConfig struct {
	Name                         string `toml:"name"`
	Type                         string `toml:"type"`
	Subject                      string `toml:"subject"`
	ReadBatchSize                int    `toml:"read_batch_size"`
	WriteBatchSize               int    `toml:"write_batch_size"`
	MaxProcessingTime            string `toml:"max_processing_time"`
	PollingInterval              string `toml:"polling_interval"`
	MaxAttempts                  int    `toml:"max_attempts"`
	EnableDeadLetter             bool   `toml:"enable_dead_letter"`
	DeadLetterMaxMessageLifetime string `toml:"dead_letter_max_lifetime"`
	EnableDeduplication          bool   `toml:"enable_deduplication"`
	DeduplicationInterval        string `toml:"deduplication_interval"`
}

// TOMLSecretsConfig represents secrets provider configuration in TOML
type TOMLSecretsConfig struct {
	Provider      string `toml:"provider"`
	EncryptionKey string `toml:"encryption_key"`
	DataDir       string `toml:"data_dir"`

	// AWS
	AWSRegion   string `toml:"aws_region"`
	AWSPrefix   string `toml:"aws_prefix"`
	AWSEndpoint string `toml:"aws_endpoint"`

	// Vault
	VaultAddr      string `toml:"vault_addr"`
	VaultPath      string `toml:"vault_path"`
	VaultNamespace string `toml:"vault_namespace"`

	// GCP
	GCPProject string `toml:"gcp_project"`
	GCPPrefix  string `toml:"gcp_prefix"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"application.toml",
	"inboxd.toml",
	"./config/config.toml",
	"./config/application.toml",
	"/etc/inboxd/config.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides with env vars
func LoadWithFile() (*Config, error) {
	// Start with defaults from environment
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Check for explicit config file path
	configPath := os.Getenv("INBOXD_CONFIG")
	if configPath == "" {
		// Search for config file in standard locations
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	// If no config file found, just use env vars
	if configPath == "" {
		return cfg, nil
	}

	// Load from file
	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Merge: file config as base, env vars override
	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Storage: StorageConfig{
			Backend: tc.Storage.Backend,
			Postgres: SQLStorageConfig{
				DSN:          tc.Storage.Postgres.DSN,
				MaxOpenConns: tc.Storage.Postgres.MaxOpenConns,
				MaxIdleConns: tc.Storage.Postgres.MaxIdleConns,
			},
			MySQL: SQLStorageConfig{
				DSN:          tc.Storage.MySQL.DSN,
				MaxOpenConns: tc.Storage.MySQL.MaxOpenConns,
				MaxIdleConns: tc.Storage.MySQL.MaxIdleConns,
			},
			Mongo: MongoStorageConfig{
				URI:      tc.Storage.Mongo.URI,
				Database: tc.Storage.Mongo.Database,
			},
			Redis: RedisStorageConfig{
				Addr:     tc.Storage.Redis.Addr,
				Password: tc.Storage.Redis.Password,
				DB:       tc.Storage.Redis.DB,
			},
		},
		Queue: QueueConfig{
			Type: tc.Queue.Type,
			NATS: NATSConfig{
				URL:     tc.Queue.NATS.URL,
				DataDir: tc.Queue.NATS.DataDir,
			},
			SQS: SQSConfig{
				QueueURL:          tc.Queue.SQS.QueueURL,
				Region:            tc.Queue.SQS.Region,
				WaitTimeSeconds:   tc.Queue.SQS.WaitTimeSeconds,
				VisibilityTimeout: tc.Queue.SQS.VisibilityTimeout,
			},
		},
		DataDir: tc.DataDir,
		DevMode: tc.DevMode,

		Secrets: secrets.Config{
			Provider:       secrets.ProviderType(tc.Secrets.Provider),
			EncryptionKey:  tc.Secrets.EncryptionKey,
			DataDir:        tc.Secrets.DataDir,
			AWSRegion:      tc.Secrets.AWSRegion,
			AWSPrefix:      tc.Secrets.AWSPrefix,
			AWSEndpoint:    tc.Secrets.AWSEndpoint,
			VaultAddr:      tc.Secrets.VaultAddr,
			VaultPath:      tc.Secrets.VaultPath,
			VaultNamespace: tc.Secrets.VaultNamespace,
			GCPProject:     tc.Secrets.GCPProject,
			GCPPrefix:      tc.Secrets.GCPPrefix,
		},
	}

	if cfg.Secrets.Provider == "" {
		cfg.Secrets = *secrets.DefaultConfig()
	}

	if d, err := time.ParseDuration(tc.Storage.Postgres.ConnMaxLifetime); err == nil {
		cfg.Storage.Postgres.ConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(tc.Storage.MySQL.ConnMaxLifetime); err == nil {
		cfg.Storage.MySQL.ConnMaxLifetime = d
	}

	for _, ti := range tc.Inboxes {
		inboxCfg := InboxConfig{
			Name:                ti.Name,
			Type:                ti.Type,
			Subject:             ti.Subject,
			ReadBatchSize:       ti.ReadBatchSize,
			WriteBatchSize:      ti.WriteBatchSize,
			MaxAttempts:         ti.MaxAttempts,
			EnableDeadLetter:    ti.EnableDeadLetter,
			EnableDeduplication: ti.EnableDeduplication,
		}
		if d, err := time.ParseDuration(ti.MaxProcessingTime); err == nil {
			inboxCfg.MaxProcessingTime = d
		}
		if d, err := time.ParseDuration(ti.PollingInterval); err == nil {
			inboxCfg.PollingInterval = d
		}
		if d, err := time.ParseDuration(ti.DeadLetterMaxMessageLifetime); err == nil {
			inboxCfg.DeadLetterMaxMessageLifetime = d
		}
		if d, err := time.ParseDuration(ti.DeduplicationInterval); err == nil {
			inboxCfg.DeduplicationInterval = d
		}
		cfg.Inboxes = append(cfg.Inboxes, inboxCfg)
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence for non-zero values
func mergeConfigs(base, override *Config) *Config {
	result := *base

	// HTTP
	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	// Storage
	if override.Storage.Backend != "" && override.Storage.Backend != "postgres" {
		result.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.Postgres.DSN != "" {
		result.Storage.Postgres.DSN = override.Storage.Postgres.DSN
	}
	if override.Storage.MySQL.DSN != "" {
		result.Storage.MySQL.DSN = override.Storage.MySQL.DSN
	}
	if override.Storage.Mongo.URI != "" {
		result.Storage.Mongo.URI = override.Storage.Mongo.URI
	}
	if override.Storage.Redis.Addr != "" {
		result.Storage.Redis.Addr = override.Storage.Redis.Addr
	}

	// Queue
	if override.Queue.Type != "" && override.Queue.Type != "embedded" {
		result.Queue.Type = override.Queue.Type
	}
	if override.Queue.NATS.URL != "" {
		result.Queue.NATS.URL = override.Queue.NATS.URL
	}
	if override.Queue.NATS.DataDir != "" {
		result.Queue.NATS.DataDir = override.Queue.NATS.DataDir
	}
	if override.Queue.SQS.QueueURL != "" {
		result.Queue.SQS.QueueURL = override.Queue.SQS.QueueURL
	}
	if override.Queue.SQS.Region != "" {
		result.Queue.SQS.Region = override.Queue.SQS.Region
	}

	// Inboxes: env-declared INBOXES, if present, replaces the file's list
	// entirely rather than merging entry-by-entry (an operator setting
	// INBOXES expects to fully control which inboxes run).
	if len(override.Inboxes) > 0 {
		result.Inboxes = override.Inboxes
	}

	// General
	if override.DataDir != "" && override.DataDir != "./data" {
		result.DataDir = override.DataDir
	}
	if override.DevMode {
		result.DevMode = true
	}

	// Secrets: env vars (INBOXD_SECRETS_*) override the file's [secrets]
	// section field by field, same precedence as storage/queue above.
	if override.Secrets.Provider != "" && override.Secrets.Provider != secrets.ProviderTypeEnv {
		result.Secrets.Provider = override.Secrets.Provider
	}
	if override.Secrets.EncryptionKey != "" {
		result.Secrets.EncryptionKey = override.Secrets.EncryptionKey
	}
	if override.Secrets.AWSRegion != "" {
		result.Secrets.AWSRegion = override.Secrets.AWSRegion
	}
	if override.Secrets.VaultAddr != "" {
		result.Secrets.VaultAddr = override.Secrets.VaultAddr
	}
	if override.Secrets.VaultToken != "" {
		result.Secrets.VaultToken = override.Secrets.VaultToken
	}
	if override.Secrets.GCPProject != "" {
		result.Secrets.GCPProject = override.Secrets.GCPProject
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# inboxd configuration
# Environment variables override these settings

data_dir = "./data"
dev_mode = false

[http]
port = 8080
cors_origins = ["http://localhost:4200"]

[storage]
backend = "postgres"  # postgres, mysql, mongo, redis, memory

[storage.postgres]
dsn = "postgres://localhost:5432/inbox?sslmode=disable"
max_open_conns = 20
max_idle_conns = 5
conn_max_lifetime = "30m"

[storage.mysql]
dsn = "root@tcp(localhost:3306)/inbox?parseTime=true"
max_open_conns = 20
max_idle_conns = 5
conn_max_lifetime = "30m"

[storage.mongo]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "inbox"

[storage.redis]
addr = "localhost:6379"
password = ""
db = 0

[queue]
type = "embedded"  # embedded, nats, or sqs

[queue.nats]
url = "nats://localhost:4222"
data_dir = "./data/nats"

[queue.sqs]
queue_url = ""
region = "us-east-1"
wait_time_seconds = 20
visibility_timeout = 120

[[inbox]]
name = "orders"
type = "fifo"
subject = "orders.events"
read_batch_size = 50
write_batch_size = 100
max_processing_time = "30s"
polling_interval = "2s"
max_attempts = 5
enable_dead_letter = true
dead_letter_max_lifetime = "720h"
enable_deduplication = false
deduplication_interval = "1h"

[secrets]
provider = "env"  # env, encrypted, aws-sm, vault, gcp-sm

# Encrypted provider
encryption_key = ""
data_dir = "./data/secrets"

# AWS Secrets Manager
aws_region = ""
aws_prefix = "/inboxd/"
aws_endpoint = ""

# HashiCorp Vault
vault_addr = ""
vault_path = "secret/data/inboxd"
vault_namespace = ""

# GCP Secret Manager
gcp_project = ""
gcp_prefix = "inboxd-"
`

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
