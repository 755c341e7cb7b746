// Package config loads propsearch's layered configuration: defaults,
// then an optional YAML file, then environment variables — the same
// viper + godotenv pattern used for the teacher-adjacent CLI tools in
// the reference corpus.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all propsearch configuration.
type Config struct {
	App        App        `mapstructure:"app"`
	Models     Models     `mapstructure:"models"`
	Store      Store      `mapstructure:"store"`
	Cache      Cache      `mapstructure:"cache"`
	Ingest     Ingest     `mapstructure:"ingest"`
	Search     Search     `mapstructure:"search"`
	Analytics  Analytics  `mapstructure:"analytics"`
	Timeouts   Timeouts   `mapstructure:"timeouts"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Models configures the single multimodal embedding model (I9) plus the
// vision and query-understanding model endpoints.
type Models struct {
	EmbeddingModelID  string `mapstructure:"embedding_model_id"`
	EmbeddingEndpoint string `mapstructure:"embedding_endpoint"`
	EmbeddingAPIKey   string `mapstructure:"embedding_api_key"`
	VisionModelID     string `mapstructure:"vision_model_id"`
	VisionEndpoint    string `mapstructure:"vision_endpoint"`
	VisionAPIKey      string `mapstructure:"vision_api_key"`
	QueryModelID      string `mapstructure:"query_model_id"`
	QueryEndpoint     string `mapstructure:"query_endpoint"`
	QueryAPIKey       string `mapstructure:"query_api_key"`
	VectorDim         int    `mapstructure:"vector_dim"`

	// VisionQueryProvider selects the backend for vision analysis (C2)
	// and query understanding (C6): "http" speaks the plain JSON
	// contract against Endpoint/APIKey above; "gemini" calls the
	// Google Gen AI SDK directly using GeminiAPIKey. Image and text
	// embedding always go through the "http" endpoints above, since
	// the Gemini embedding model is text-only (see DESIGN.md).
	VisionQueryProvider string `mapstructure:"vision_query_provider"`
	GeminiAPIKey        string `mapstructure:"gemini_api_key"`
}

// Store configures the listing index backing store.
type Store struct {
	Path           string `mapstructure:"path"`
	HNSWM          int    `mapstructure:"hnsw_m"`
	HNSWEfConstr   int    `mapstructure:"hnsw_ef_construction"`
	HNSWEfSearch   int    `mapstructure:"hnsw_ef_search"`
	BM25K1         float64 `mapstructure:"bm25_k1"`
	BM25B          float64 `mapstructure:"bm25_b"`

	// QuantizeVectors scalar-quantizes the in-memory ANN graphs once
	// they hold enough vectors to train stable ranges. The durable
	// rows in SQLite are never quantized, so this is a pure ANN-layer
	// memory/recall tradeoff, reversible by flipping the flag back off
	// and reindexing.
	QuantizeVectors bool `mapstructure:"quantize_vectors"`
}

// Cache configures the embedding cache database.
type Cache struct {
	Path string `mapstructure:"path"`
}

// Ingest configures the bulk ingestion pipeline.
type Ingest struct {
	ChunkSize         int `mapstructure:"chunk_size"`
	ListingWorkers    int `mapstructure:"listing_workers"`
	ImageConcurrency  int `mapstructure:"image_concurrency"`
	TargetImageWidth  int `mapstructure:"target_image_width"`
}

// Search configures default query-time behavior.
type Search struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// Analytics configures the fire-and-forget event sink.
type Analytics struct {
	Path   string        `mapstructure:"path"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// Timeouts holds the per-call deadlines from §5.
type Timeouts struct {
	Embed         time.Duration `mapstructure:"embed"`
	Vision        time.Duration `mapstructure:"vision"`
	Search        time.Duration `mapstructure:"search"`
	ImageDownload time.Duration `mapstructure:"image_download"`
}

// Load reads configuration from (in increasing priority order)
// built-in defaults, an optional YAML config file, and environment
// variables prefixed PROPSEARCH_. A `.env` file, if present, is loaded
// into the environment first (without overriding variables already
// set), so its PROPSEARCH_ entries also take precedence over the YAML.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PROPSEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.data_dir", "./data")

	v.SetDefault("models.embedding_model_id", "multimodal-embed-v1")
	v.SetDefault("models.vector_dim", 1024)
	v.SetDefault("models.vision_model_id", "vision-analyze-v1")
	v.SetDefault("models.query_model_id", "query-understand-v1")
	v.SetDefault("models.vision_query_provider", "http")

	v.SetDefault("store.path", "./data/listings.db")
	v.SetDefault("store.hnsw_m", 16)
	v.SetDefault("store.hnsw_ef_construction", 128)
	v.SetDefault("store.hnsw_ef_search", 128)
	v.SetDefault("store.bm25_k1", 1.2)
	v.SetDefault("store.bm25_b", 0.75)
	v.SetDefault("store.quantize_vectors", false)

	v.SetDefault("cache.path", "./data/cache.db")

	v.SetDefault("ingest.chunk_size", 100)
	v.SetDefault("ingest.listing_workers", 10)
	v.SetDefault("ingest.image_concurrency", 8)
	v.SetDefault("ingest.target_image_width", 576)

	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.max_limit", 100)

	v.SetDefault("analytics.path", "./data/analytics.db")
	v.SetDefault("analytics.ttl", 90*24*time.Hour)

	v.SetDefault("timeouts.embed", 10*time.Second)
	v.SetDefault("timeouts.vision", 10*time.Second)
	v.SetDefault("timeouts.search", 30*time.Second)
	v.SetDefault("timeouts.image_download", 10*time.Second)
}
