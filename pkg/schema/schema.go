// Package schema implements the Index Schema Manager (C4, §4.4): the
// listings and listing_images tables, the BM25-backing full text
// index, and idempotent create-or-verify semantics so re-running
// `propsearchd init` against an existing database is a no-op rather
// than a failure.
//
// The FTS5 virtual table plus sync triggers is grounded directly on
// the teacher's chunks_fts setup (pkg/core/store_init.go); BM25 there
// is SQLite's native bm25() ranking function rather than a hand-rolled
// scorer.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/hybridrealty/propsearch/internal/errs"
)

// Params are the index-level settings fixed at creation time (§4.4):
// the embedding model id and vector dimension (I9, I10) and the BM25
// tuning constants.
type Params struct {
	EmbeddingModelID string
	VectorDim        int
	BM25K1           float64
	BM25B            float64
	HNSWM            int
	HNSWEfConstr     int
}

const metaSchemaKey = "schema_params"

// Ensure creates the schema if the database is empty, or verifies that
// an existing schema is compatible with params. An incompatible
// existing mapping (different model id or vector dimension) is a
// Contract-class error (errs.ErrIncompatibleMapping): the caller must
// not silently adapt, since I9/I10 bind the whole index's history.
func Ensure(ctx context.Context, db *sql.DB, params Params) error {
	if err := createMetaTable(ctx, db); err != nil {
		return err
	}

	existing, ok, err := loadParams(ctx, db)
	if err != nil {
		return err
	}
	if ok {
		return verifyCompatible(existing, params)
	}

	if err := createTables(ctx, db); err != nil {
		return err
	}
	return storeParams(ctx, db, params)
}

func createMetaTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS index_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	if err != nil {
		return fmt.Errorf("schema: create index_meta: %w", err)
	}
	return nil
}

func loadParams(ctx context.Context, db *sql.DB) (Params, bool, error) {
	row := db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, metaSchemaKey)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return Params{}, false, nil
		}
		return Params{}, false, fmt.Errorf("schema: load params: %w", err)
	}
	// The value is "<model id> <dim>"; split at the last space so an
	// empty model id round-trips.
	sep := strings.LastIndex(raw, " ")
	if sep < 0 {
		return Params{}, false, fmt.Errorf("schema: parse stored params: malformed value %q", raw)
	}
	dim, err := strconv.Atoi(raw[sep+1:])
	if err != nil {
		return Params{}, false, fmt.Errorf("schema: parse stored params: %w", err)
	}
	return Params{EmbeddingModelID: raw[:sep], VectorDim: dim}, true, nil
}

func storeParams(ctx context.Context, db *sql.DB, p Params) error {
	raw := fmt.Sprintf("%s %d", p.EmbeddingModelID, p.VectorDim)
	_, err := db.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaSchemaKey, raw)
	if err != nil {
		return fmt.Errorf("schema: store params: %w", err)
	}
	return nil
}

func verifyCompatible(existing, wanted Params) error {
	if existing.EmbeddingModelID != wanted.EmbeddingModelID {
		return errs.Wrap("schema.Ensure", errs.ClassContract,
			fmt.Errorf("%w: index was built with model %q, got %q",
				errs.ErrIncompatibleMapping, existing.EmbeddingModelID, wanted.EmbeddingModelID))
	}
	if existing.VectorDim != wanted.VectorDim {
		return errs.Wrap("schema.Ensure", errs.ClassContract,
			fmt.Errorf("%w: index was built with dim %d, got %d",
				errs.ErrIncompatibleMapping, existing.VectorDim, wanted.VectorDim))
	}
	return nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS listings (
			zpid TEXT PRIMARY KEY,
			listing_status TEXT NOT NULL,
			sold_date DATETIME,
			listed_date DATETIME,
			indexed_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			street TEXT, city TEXT, state TEXT, zip_code TEXT, address TEXT NOT NULL DEFAULT '',
			lat REAL, lon REAL,
			price INTEGER, bedrooms REAL, bathrooms REAL,
			living_area REAL, lot_size REAL, property_type TEXT,
			description TEXT NOT NULL DEFAULT '',
			visual_features_text TEXT NOT NULL DEFAULT '',
			architecture_style TEXT, architecture_substyle TEXT,
			feature_tags TEXT NOT NULL DEFAULT '[]',
			image_tags TEXT NOT NULL DEFAULT '[]',
			vector_text BLOB,
			model_id TEXT NOT NULL DEFAULT '',
			has_valid_embeddings INTEGER NOT NULL DEFAULT 0,
			has_description INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(listing_status)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_price ON listings(price)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_zip ON listings(zip_code)`,
		`CREATE TABLE IF NOT EXISTS listing_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			zpid TEXT NOT NULL REFERENCES listings(zpid) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			image_url TEXT NOT NULL,
			image_type TEXT NOT NULL,
			vector BLOB NOT NULL,
			model_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_listing_images_zpid ON listing_images(zpid)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS listings_fts USING fts5(
			zpid UNINDEXED, description, visual_features_text, feature_tags, image_tags, address,
			tokenize = 'porter unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS listings_fts_ai AFTER INSERT ON listings BEGIN
			INSERT INTO listings_fts(rowid, zpid, description, visual_features_text, feature_tags, image_tags, address)
			VALUES (new.rowid, new.zpid, new.description, new.visual_features_text, new.feature_tags, new.image_tags, new.address);
		END`,
		`CREATE TRIGGER IF NOT EXISTS listings_fts_ad AFTER DELETE ON listings BEGIN
			INSERT INTO listings_fts(listings_fts, rowid, zpid, description, visual_features_text, feature_tags, image_tags, address)
			VALUES ('delete', old.rowid, old.zpid, old.description, old.visual_features_text, old.feature_tags, old.image_tags, old.address);
		END`,
		`CREATE TRIGGER IF NOT EXISTS listings_fts_au AFTER UPDATE ON listings BEGIN
			INSERT INTO listings_fts(listings_fts, rowid, zpid, description, visual_features_text, feature_tags, image_tags, address)
			VALUES ('delete', old.rowid, old.zpid, old.description, old.visual_features_text, old.feature_tags, old.image_tags, old.address);
			INSERT INTO listings_fts(rowid, zpid, description, visual_features_text, feature_tags, image_tags, address)
			VALUES (new.rowid, new.zpid, new.description, new.visual_features_text, new.feature_tags, new.image_tags, new.address);
		END`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("schema: create tables: %w", err)
		}
	}
	return nil
}
