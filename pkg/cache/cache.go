// Package cache implements the Embedding Cache (C1, §4.1): an
// at-most-once paid computation store for image and text embeddings,
// keyed by URL (images) or sha256(text)#model_id (text). Records are
// immortal — there is no TTL — and a single image record stores its
// embedding and vision analysis atomically (I7), so a reader never
// observes one half written.
//
// Storage follows the teacher's SQLite setup (pkg/core/store.go): WAL
// mode, a bounded connection pool, and plain driver-level SQL rather
// than an ORM.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hybridrealty/propsearch/internal/encoding"
	"github.com/hybridrealty/propsearch/pkg/logging"
)

// ImageRecord is one cached image embedding + vision analysis (I7:
// always written together).
type ImageRecord struct {
	URL             string
	ImageHash       string
	Embedding       []float32
	EmbeddingModel  string
	AnalysisModelID string
	Analysis        VisionAnalysis
	LLMResponse     string
	CacheVersion    int
	FirstSeen       time.Time
	LastAccessed    time.Time
	AccessCount     int64
	CostEmbedding   float64
	CostAnalysis    float64
	CostTotal       float64
	CostSaved       float64
}

// VisionAnalysis is the parsed vision-contract payload (C2, §4.2). It
// is defined here, and aliased by pkg/vision, rather than imported from
// pkg/vision to avoid a dependency from cache (a storage leaf) onto the
// provider layer.
type VisionAnalysis struct {
	ImageType         string   `json:"image_type"`
	Features          []string `json:"features"`
	ArchitectureStyle string   `json:"architecture_style,omitempty"`
	ExteriorColor     string   `json:"exterior_color,omitempty"`
	Materials         []string `json:"materials"`
	VisualFeatures    []string `json:"visual_features"`
	RoomType          string   `json:"room_type,omitempty"`
	Confidence        string   `json:"confidence"`
}

// TextRecord is one cached text embedding.
type TextRecord struct {
	CacheKey     string
	TextSample   string
	Embedding    []float32
	ModelID      string
	FirstSeen    time.Time
	LastAccessed time.Time
	AccessCount  int64
	Cost         float64
}

const schemaVersion = 1

// Cache is the embedding cache database. It degrades to pass-through
// on backend failure (§4.1): every Get/Put method swallows storage
// errors, logs a warning and reports a miss/no-op rather than failing
// the caller.
type Cache struct {
	db  *sql.DB
	log logging.Logger
}

// Open opens (creating if necessary) the cache database at path and
// ensures its schema exists.
func Open(ctx context.Context, path string, log logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.Nop()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(2 * time.Hour)

	c := &Cache{db: db, log: log}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func (c *Cache) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS image_cache (
			url TEXT PRIMARY KEY,
			image_hash TEXT NOT NULL,
			embedding BLOB NOT NULL,
			embedding_model_id TEXT NOT NULL,
			analysis_model_id TEXT NOT NULL DEFAULT '',
			analysis_json TEXT NOT NULL,
			llm_response TEXT NOT NULL DEFAULT '',
			cache_version INTEGER NOT NULL,
			first_seen DATETIME NOT NULL,
			last_accessed DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			cost_embedding REAL NOT NULL DEFAULT 0,
			cost_analysis REAL NOT NULL DEFAULT 0,
			cost_total REAL NOT NULL DEFAULT 0,
			cost_saved REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS text_cache (
			cache_key TEXT PRIMARY KEY,
			text_sample TEXT NOT NULL,
			embedding BLOB NOT NULL,
			model_id TEXT NOT NULL,
			first_seen DATETIME NOT NULL,
			last_accessed DATETIME NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0,
			cost_saved REAL NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("cache: migrate: %w", err)
		}
	}
	return nil
}

// GetImageEmbedding looks up only the embedding half of a cached image
// record, matching solely on the embedding model id. It exists for
// pkg/providers' embed-only fast path, which has no opinion on vision
// analysis freshness; the full GetImage below is what ingestion uses to
// decide whether the cached analysis is also still usable.
func (c *Cache) GetImageEmbedding(ctx context.Context, url, embeddingModelID string) ([]float32, bool) {
	row := c.db.QueryRowContext(ctx, `SELECT embedding, embedding_model_id FROM image_cache WHERE url = ?`, url)
	var embBytes []byte
	var gotModel string
	if err := row.Scan(&embBytes, &gotModel); err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn("cache: image embedding lookup failed, degrading to pass-through", "url", url, "error", err)
		}
		return nil, false
	}
	if gotModel != embeddingModelID {
		return nil, false
	}
	vec, err := encoding.DecodeVector(embBytes)
	if err != nil {
		c.log.Warn("cache: corrupt image embedding, treating as miss", "url", url, "error", err)
		return nil, false
	}
	c.touchImage(ctx, url)
	return vec, true
}

// GetImage looks up a cached image record by URL. A record computed
// under a different embedding model id OR a different vision analysis
// model id is treated as a miss (I6): the cache must never hand back
// an embedding or analysis for the wrong model.
func (c *Cache) GetImage(ctx context.Context, url, embeddingModelID, analysisModelID string) (*ImageRecord, bool) {
	row := c.db.QueryRowContext(ctx, `
		SELECT image_hash, embedding, embedding_model_id, analysis_model_id, analysis_json, llm_response,
		       cache_version, first_seen, last_accessed, access_count,
		       cost_embedding, cost_analysis, cost_total
		FROM image_cache WHERE url = ?`, url)

	var (
		rec          ImageRecord
		embBytes     []byte
		analysisJSON string
	)
	rec.URL = url
	if err := row.Scan(&rec.ImageHash, &embBytes, &rec.EmbeddingModel, &rec.AnalysisModelID, &analysisJSON, &rec.LLMResponse,
		&rec.CacheVersion, &rec.FirstSeen, &rec.LastAccessed, &rec.AccessCount,
		&rec.CostEmbedding, &rec.CostAnalysis, &rec.CostTotal); err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn("cache: image lookup failed, degrading to pass-through", "url", url, "error", err)
		}
		return nil, false
	}

	if rec.EmbeddingModel != embeddingModelID || rec.AnalysisModelID != analysisModelID {
		return nil, false
	}

	vec, err := encoding.DecodeVector(embBytes)
	if err != nil {
		c.log.Warn("cache: corrupt image embedding, treating as miss", "url", url, "error", err)
		return nil, false
	}
	rec.Embedding = vec

	if err := json.Unmarshal([]byte(analysisJSON), &rec.Analysis); err != nil {
		c.log.Warn("cache: corrupt image analysis, treating as miss", "url", url, "error", err)
		return nil, false
	}

	c.touchImage(ctx, url)
	return &rec, true
}

// PutImage writes an image record in a single statement so the
// embedding and analysis are always persisted together (I7). Failure
// is logged and swallowed: a cache write failure must never fail
// ingestion.
func (c *Cache) PutImage(ctx context.Context, rec ImageRecord) {
	embBytes, err := encoding.EncodeVector(rec.Embedding)
	if err != nil {
		c.log.Warn("cache: encode image embedding failed, not caching", "url", rec.URL, "error", err)
		return
	}
	analysisJSON, err := json.Marshal(rec.Analysis)
	if err != nil {
		c.log.Warn("cache: encode image analysis failed, not caching", "url", rec.URL, "error", err)
		return
	}

	now := rec.FirstSeen
	if now.IsZero() {
		now = rec.LastAccessed
	}
	costTotal := rec.CostTotal
	if costTotal == 0 {
		costTotal = rec.CostEmbedding + rec.CostAnalysis
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO image_cache (url, image_hash, embedding, embedding_model_id, analysis_model_id, analysis_json,
			llm_response, cache_version, first_seen, last_accessed, access_count,
			cost_embedding, cost_analysis, cost_total, cost_saved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, 0)
		ON CONFLICT(url) DO UPDATE SET
			image_hash=excluded.image_hash, embedding=excluded.embedding,
			embedding_model_id=excluded.embedding_model_id, analysis_model_id=excluded.analysis_model_id,
			analysis_json=excluded.analysis_json,
			llm_response=excluded.llm_response, cache_version=excluded.cache_version,
			last_accessed=excluded.last_accessed,
			cost_embedding=excluded.cost_embedding, cost_analysis=excluded.cost_analysis,
			cost_total=excluded.cost_total`,
		rec.URL, rec.ImageHash, embBytes, rec.EmbeddingModel, rec.AnalysisModelID, string(analysisJSON),
		rec.LLMResponse, schemaVersion, now, now,
		rec.CostEmbedding, rec.CostAnalysis, costTotal)
	if err != nil {
		c.log.Warn("cache: image write failed, degrading to pass-through", "url", rec.URL, "error", err)
	}
}

// touchImage records a cache hit: the access counter and the running
// cost_saved total both advance by exactly one unit of the record's
// cost, since every hit beyond the write that created the row avoided
// re-paying the full embedding+analysis cost (I8: best-effort, eventually
// consistent — a lost increment under contention is acceptable).
func (c *Cache) touchImage(ctx context.Context, url string) {
	_, _ = c.db.ExecContext(ctx, `
		UPDATE image_cache
		SET access_count = access_count + 1, last_accessed = ?, cost_saved = cost_saved + cost_total
		WHERE url = ?`, time.Now(), url)
}

// TextKey builds the cache key for a text embedding: sha256(text)#model_id.
func TextKey(text, modelID string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + "#" + modelID
}

// GetText looks up a cached text embedding. Like GetImage, a record
// under a different model id never matches (I6); TextKey already
// embeds the model id so a mismatch simply means no row exists.
func (c *Cache) GetText(ctx context.Context, key string) ([]float32, bool) {
	row := c.db.QueryRowContext(ctx, `SELECT embedding FROM text_cache WHERE cache_key = ?`, key)
	var embBytes []byte
	if err := row.Scan(&embBytes); err != nil {
		if err != sql.ErrNoRows {
			c.log.Warn("cache: text lookup failed, degrading to pass-through", "key", key, "error", err)
		}
		return nil, false
	}
	vec, err := encoding.DecodeVector(embBytes)
	if err != nil {
		c.log.Warn("cache: corrupt text embedding, treating as miss", "key", key, "error", err)
		return nil, false
	}
	_, _ = c.db.ExecContext(ctx, `
		UPDATE text_cache
		SET access_count = access_count + 1, last_accessed = ?, cost_saved = cost_saved + cost
		WHERE cache_key = ?`, time.Now(), key)
	return vec, true
}

// PutText writes a text embedding record.
func (c *Cache) PutText(ctx context.Context, rec TextRecord) {
	embBytes, err := encoding.EncodeVector(rec.Embedding)
	if err != nil {
		c.log.Warn("cache: encode text embedding failed, not caching", "key", rec.CacheKey, "error", err)
		return
	}
	sample := rec.TextSample
	if len(sample) > 200 {
		sample = sample[:200]
	}
	now := time.Now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO text_cache (cache_key, text_sample, embedding, model_id, first_seen, last_accessed, access_count, cost, cost_saved)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET last_accessed=excluded.last_accessed`,
		rec.CacheKey, sample, embBytes, rec.ModelID, now, now, rec.Cost)
	if err != nil {
		c.log.Warn("cache: text write failed, degrading to pass-through", "key", rec.CacheKey, "error", err)
	}
}

// Stats summarizes cache economics for the `cache stats` CLI command.
type Stats struct {
	ImageRecords int64
	TextRecords  int64
	CostSaved    float64
}

// Stats reports aggregate cache size and spend avoided. cost_saved is
// accumulated per-hit in touchImage/GetText rather than derived from
// access_count here, so it reflects actual avoided cost even across
// cache records whose per-call cost varied over time.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	row := c.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(cost_saved), 0) FROM image_cache`)
	if err := row.Scan(&s.ImageRecords, &s.CostSaved); err != nil {
		return s, fmt.Errorf("cache: stats: %w", err)
	}
	var textSaved float64
	row = c.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(cost_saved), 0) FROM text_cache`)
	if err := row.Scan(&s.TextRecords, &textSaved); err != nil {
		return s, fmt.Errorf("cache: stats: %w", err)
	}
	s.CostSaved += textSaved
	return s, nil
}
