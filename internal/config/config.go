package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

type Config struct {
	// Stream
	NATSURL         string        `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	StreamName      string        `envconfig:"STREAM_NAME" default:"rag_sync_stream"`
	StreamSubject   string        `envconfig:"STREAM_SUBJECT" default:"rag.sync.documents"`
	ConsumerGroup   string        `envconfig:"CONSUMER_GROUP" default:"rag_sync_consumer_group0"`
	ConsumerName    string        `envconfig:"CONSUMER_NAME"`
	MessagesPerPull int           `envconfig:"MESSAGES_PER_PULL" default:"64"`
	BlockTimeout    time.Duration `envconfig:"BLOCK_TIMEOUT" default:"10s"`
	RetryDelay      time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
	AckWait         time.Duration `envconfig:"ACK_WAIT" default:"5m"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"300"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"50"`

	// Embeddings
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	GeminiAPIKey      string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingBaseURL  string `envconfig:"EMBEDDING_BASE_URL" default:"http://localhost:8000/v1"`
	EmbeddingAPIKey   string `envconfig:"EMBEDDING_API_KEY"`

	// Vector store
	VectorStore    string `envconfig:"VECTOR_STORE" default:"weaviate"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass  string `envconfig:"WEAVIATE_CLASS" default:"DocumentChunk"`
	PGVectorURL    string `envconfig:"PGVECTOR_URL"`
	PGVectorTable  string `envconfig:"PGVECTOR_TABLE" default:"document_chunks"`

	// Dead letters
	NSQDHost           string `envconfig:"NSQD_HOST"`
	DeadLetterTopic    string `envconfig:"DEADLETTER_TOPIC" default:"rag.sync.deadletter"`
	EnableDeadLetterDB bool   `envconfig:"ENABLE_DEADLETTER_DB" default:"false"`
	DBHost             string `envconfig:"DB_HOST" default:"postgres"`
	DBPort             int    `envconfig:"DB_PORT" default:"5432"`
	DBUser             string `envconfig:"DB_USER" default:"rag"`
	DBPass             string `envconfig:"DB_PASS" default:"password"`
	DBName             string `envconfig:"DB_NAME" default:"rag"`
	MigrationPath      string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	OpsPort  int    `envconfig:"OPS_PORT" default:"9090"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Bulk loader
	StaticDocPath       string `envconfig:"STATIC_DOC_PATH" default:"./static_doc"`
	BulkLoadBatchSize   int    `envconfig:"BULKLOAD_BATCH_SIZE" default:"64"`
	BulkLoadConcurrency int    `envconfig:"BULKLOAD_CONCURRENCY" default:"4"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConsumerName identifies this process within the consumer group.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("sync-worker-%s-%d", host, os.Getpid())
}

func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("%w: NATS_URL", ErrMissingRequired)
	}
	if c.StreamName == "" {
		return fmt.Errorf("%w: STREAM_NAME", ErrMissingRequired)
	}
	if c.StreamSubject == "" {
		return fmt.Errorf("%w: STREAM_SUBJECT", ErrMissingRequired)
	}
	if c.ConsumerGroup == "" {
		return fmt.Errorf("%w: CONSUMER_GROUP", ErrMissingRequired)
	}
	if c.MessagesPerPull <= 0 {
		return fmt.Errorf("%w: MESSAGES_PER_PULL must be positive", ErrInvalidConfig)
	}
	if c.BlockTimeout <= 0 {
		return fmt.Errorf("%w: BLOCK_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("%w: RETRY_DELAY must be positive", ErrInvalidConfig)
	}
	if c.AckWait <= 0 {
		return fmt.Errorf("%w: ACK_WAIT must be positive", ErrInvalidConfig)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidConfig)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	case ProviderOpenAI:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("%w: EMBEDDING_BASE_URL", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrInvalidConfig, c.EmbeddingProvider)
	}

	switch c.VectorStore {
	case StoreWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case StorePGVector:
		if c.PGVectorURL == "" {
			return fmt.Errorf("%w: PGVECTOR_URL", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_STORE %q", ErrInvalidConfig, c.VectorStore)
	}

	if c.EnableDeadLetterDB {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	return nil
}

// DeadLetterDSN is the lib/pq connection string for the dead-letter table.
func (c *Config) DeadLetterDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
