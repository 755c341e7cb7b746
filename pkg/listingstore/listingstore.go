// Package listingstore is the persistence and in-memory indexing layer
// for property listings: SQLite for durable storage and full-text
// search, an in-process HNSW graph per vector field for approximate
// nearest-neighbor search. It is the one package that knows how a
// domain.Listing maps onto rows and vectors.
package listingstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hybridrealty/propsearch/internal/encoding"
	"github.com/hybridrealty/propsearch/internal/errs"
	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/index"
	"github.com/hybridrealty/propsearch/pkg/logging"
	"github.com/hybridrealty/propsearch/pkg/quantization"
	"github.com/hybridrealty/propsearch/pkg/schema"
)

// minVectorsToQuantize is the smallest training set scalar
// quantization is trusted with: below this, per-dimension min/max
// ranges are too noisy and would distort early search results.
const minVectorsToQuantize = 256

// Store is the listing database plus its in-memory vector indices.
type Store struct {
	db        *sql.DB
	vectors   *index.MultiIndex
	log       logging.Logger
	dim       int
	quantize  bool
}

// Config parameterizes the store's HNSW graphs and durability settings.
type Config struct {
	Path             string
	EmbeddingModelID string
	VectorDim        int
	HNSWM            int
	HNSWEfConstr     int
	HNSWEfSearch     int

	// QuantizeVectors scalar-quantizes vectors held in the in-memory
	// ANN graphs once enough of them have been loaded to train stable
	// per-dimension ranges. The durable SQLite rows always keep the
	// full-precision vector (I7-adjacent: the graph is a lossy cache,
	// never the source of truth), so this only trades ANN recall for
	// graph memory footprint.
	QuantizeVectors bool
}

// Open opens the listing database, ensures its schema, and rebuilds
// the in-memory vector indices from durable storage. Rebuilding on
// every open keeps the ANN graphs a pure cache over the SQLite rows of
// truth, so a crash between a commit and a graph update never leaves
// the index permanently out of sync.
func Open(ctx context.Context, cfg Config, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("listingstore: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := schema.Ensure(ctx, db, schema.Params{
		EmbeddingModelID: cfg.EmbeddingModelID,
		VectorDim:        cfg.VectorDim,
		HNSWM:            cfg.HNSWM,
		HNSWEfConstr:     cfg.HNSWEfConstr,
	}); err != nil {
		db.Close()
		return nil, err
	}

	mi := index.NewMultiIndex()
	mi.Register(index.FieldVectorText, index.NewHNSWAdapter(cfg.HNSWM, cfg.HNSWEfConstr, cfg.HNSWEfSearch, index.CosineDistance))
	mi.Register(index.FieldImageVectors, index.NewHNSWAdapter(cfg.HNSWM, cfg.HNSWEfConstr, cfg.HNSWEfSearch, index.CosineDistance))

	s := &Store{db: db, vectors: mi, log: log, dim: cfg.VectorDim, quantize: cfg.QuantizeVectors}
	if err := s.rebuildVectorIndices(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) rebuildVectorIndices(ctx context.Context) error {
	var textVecs, imageVecs [][]float32

	rows, err := s.db.QueryContext(ctx, `SELECT zpid, vector_text FROM listings WHERE vector_text IS NOT NULL AND has_valid_embeddings = 1`)
	if err != nil {
		return fmt.Errorf("listingstore: rebuild vector_text index: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var zpid string
		var raw []byte
		if err := rows.Scan(&zpid, &raw); err != nil {
			return err
		}
		vec, err := encoding.DecodeVector(raw)
		if err != nil {
			s.log.Warn("listingstore: corrupt vector_text, skipping", "zpid", zpid, "error", err)
			continue
		}
		_ = s.vectors.Insert(index.FieldVectorText, zpid, vec)
		textVecs = append(textVecs, vec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	imgRows, err := s.db.QueryContext(ctx, `
		SELECT li.zpid, li.position, li.vector
		FROM listing_images li
		JOIN listings l ON l.zpid = li.zpid
		WHERE l.has_valid_embeddings = 1`)
	if err != nil {
		return fmt.Errorf("listingstore: rebuild image_vectors index: %w", err)
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var zpid string
		var position int
		var raw []byte
		if err := imgRows.Scan(&zpid, &position, &raw); err != nil {
			return err
		}
		vec, err := encoding.DecodeVector(raw)
		if err != nil {
			s.log.Warn("listingstore: corrupt image vector, skipping", "zpid", zpid, "position", position, "error", err)
			continue
		}
		_ = s.vectors.Insert(index.FieldImageVectors, imageVectorID(zpid, position), vec)
		imageVecs = append(imageVecs, vec)
	}
	if err := imgRows.Err(); err != nil {
		return err
	}

	if s.quantize {
		s.trainQuantizer(index.FieldVectorText, textVecs)
		s.trainQuantizer(index.FieldImageVectors, imageVecs)
	}
	return nil
}

// trainQuantizer fits a scalar quantizer over vectors already resident
// in a field's ANN graph and attaches it to that graph, so future
// HNSW nodes store an 8-bit-per-dimension encoding instead of the
// full float32 vector. Skipped below minVectorsToQuantize: a graph
// that small isn't worth the recall cost, and reopening the store
// once more data has accumulated will pick the quantizer back up.
func (s *Store) trainQuantizer(field index.FieldName, vectors [][]float32) {
	if len(vectors) < minVectorsToQuantize {
		return
	}
	adapter, ok := s.vectors.Field(field).(*index.HNSWAdapter)
	if !ok {
		return
	}
	sq, err := quantization.NewScalarQuantizer(s.dim, 8)
	if err != nil {
		s.log.Warn("listingstore: create quantizer failed, keeping full precision", "field", field, "error", err)
		return
	}
	if err := sq.Train(vectors); err != nil {
		s.log.Warn("listingstore: train quantizer failed, keeping full precision", "field", field, "error", err)
		return
	}
	adapter.SetQuantizer(sq)
	s.log.Info("listingstore: scalar quantizer trained", "field", field, "vectors", len(vectors), "compression_ratio", sq.CompressionRatio())
}

// imageVectorID builds the composite id an image vector is addressed
// by in the ANN graph, pairing a listing with the position of one of
// its photos.
func imageVectorID(zpid string, position int) string {
	return fmt.Sprintf("%s#%d", zpid, position)
}

func splitImageVectorID(id string) (zpid string, position int) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '#' {
			fmt.Sscanf(id[i+1:], "%d", &position)
			return id[:i], position
		}
	}
	return id, 0
}

// UpsertOptions controls update semantics for an existing listing.
type UpsertOptions struct {
	// PreserveEmbeddings keeps the existing vectors and tags when the
	// incoming listing has none of its own, for callers updating only
	// non-visual fields (price, status) without re-running ingestion.
	PreserveEmbeddings bool
}

// Upsert inserts or replaces a listing and its image vectors, keeping
// the SQLite rows and the in-memory ANN graphs consistent. The model
// id and dimension of every incoming vector must match the store's
// configuration; a mismatch is a contract-class error rather than a
// silent adaptation.
func (s *Store) Upsert(ctx context.Context, l domain.Listing, opts UpsertOptions) error {
	if opts.PreserveEmbeddings && len(l.VectorText) == 0 && len(l.ImageVectors) == 0 {
		existing, err := s.Get(ctx, l.ZPID)
		if err == nil {
			l.VectorText = existing.VectorText
			l.ImageVectors = existing.ImageVectors
			l.ModelID = existing.ModelID
			l.FeatureTags = existing.FeatureTags
			l.ImageTags = existing.ImageTags
			l.VisualFeaturesText = existing.VisualFeaturesText
			l.ArchitectureStyle = existing.ArchitectureStyle
			l.ArchitectureSubstyle = existing.ArchitectureSubstyle
		}
	}

	if err := s.validateVectors(l); err != nil {
		return err
	}
	l.RecomputeFlags()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("listingstore: begin upsert: %w", err)
	}
	defer tx.Rollback()

	if err := upsertListingRow(ctx, tx, l); err != nil {
		return err
	}
	if err := replaceImageRows(ctx, tx, l); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("listingstore: commit upsert: %w", err)
	}

	s.refreshVectorIndex(l)
	return nil
}

func (s *Store) validateVectors(l domain.Listing) error {
	if len(l.VectorText) > 0 {
		if err := encoding.ValidateVector(l.VectorText); err != nil {
			return errs.Wrap("listingstore.Upsert", errs.ClassContract, fmt.Errorf("vector_text: %w", err))
		}
		if len(l.VectorText) != s.dim {
			return errs.Wrap("listingstore.Upsert", errs.ClassContract,
				fmt.Errorf("%w: vector_text has %d dims, store wants %d", errs.ErrDimensionMismatch, len(l.VectorText), s.dim))
		}
	}
	for i, iv := range l.ImageVectors {
		if err := encoding.ValidateVector(iv.Vector); err != nil {
			return errs.Wrap("listingstore.Upsert", errs.ClassContract, fmt.Errorf("image_vectors[%d]: %w", i, err))
		}
		if len(iv.Vector) != s.dim {
			return errs.Wrap("listingstore.Upsert", errs.ClassContract,
				fmt.Errorf("%w: image_vectors[%d] has %d dims, store wants %d", errs.ErrDimensionMismatch, i, len(iv.Vector), s.dim))
		}
	}
	if l.HasValidEmbeddings && l.ModelID == "" {
		return errs.Wrap("listingstore.Upsert", errs.ClassContract, errs.ErrMissingVectors)
	}
	return nil
}

// refreshVectorIndex keeps the ANN graphs in step with a just-committed
// row. I3: a listing with partial vectors (has_valid_embeddings=false)
// is never inserted, so it can never surface on a kNN path even if it
// happens to carry a stray vector_text or image_vectors entry.
func (s *Store) refreshVectorIndex(l domain.Listing) {
	_ = s.vectors.Delete(l.ZPID)
	if !l.HasValidEmbeddings {
		return
	}
	if len(l.VectorText) > 0 {
		_ = s.vectors.Insert(index.FieldVectorText, l.ZPID, l.VectorText)
	}
	for i, iv := range l.ImageVectors {
		_ = s.vectors.Insert(index.FieldImageVectors, imageVectorID(l.ZPID, i), iv.Vector)
	}
}

func upsertListingRow(ctx context.Context, tx *sql.Tx, l domain.Listing) error {
	featureTags, _ := json.Marshal(l.FeatureTags)
	imageTags, _ := json.Marshal(l.ImageTags)

	var vectorBytes []byte
	if len(l.VectorText) > 0 {
		b, err := encoding.EncodeVector(l.VectorText)
		if err != nil {
			return fmt.Errorf("listingstore: encode vector_text: %w", err)
		}
		vectorBytes = b
	}

	var lat, lon sql.NullFloat64
	if l.Geo != nil {
		lat, lon = sql.NullFloat64{Float64: l.Geo.Lat, Valid: true}, sql.NullFloat64{Float64: l.Geo.Lon, Valid: true}
	}

	now := time.Now()
	address := joinAddress(l.Address)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO listings (zpid, listing_status, sold_date, listed_date, indexed_at, updated_at,
			street, city, state, zip_code, address, lat, lon, price, bedrooms, bathrooms, living_area, lot_size,
			property_type, description, visual_features_text, architecture_style, architecture_substyle,
			feature_tags, image_tags, vector_text, model_id, has_valid_embeddings, has_description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(zpid) DO UPDATE SET
			listing_status=excluded.listing_status, sold_date=excluded.sold_date, listed_date=excluded.listed_date,
			updated_at=excluded.updated_at, street=excluded.street, city=excluded.city, state=excluded.state,
			zip_code=excluded.zip_code, address=excluded.address, lat=excluded.lat, lon=excluded.lon, price=excluded.price,
			bedrooms=excluded.bedrooms, bathrooms=excluded.bathrooms, living_area=excluded.living_area,
			lot_size=excluded.lot_size, property_type=excluded.property_type, description=excluded.description,
			visual_features_text=excluded.visual_features_text, architecture_style=excluded.architecture_style,
			architecture_substyle=excluded.architecture_substyle, feature_tags=excluded.feature_tags,
			image_tags=excluded.image_tags, vector_text=excluded.vector_text, model_id=excluded.model_id,
			has_valid_embeddings=excluded.has_valid_embeddings, has_description=excluded.has_description`,
		l.ZPID, string(l.ListingStatus), l.SoldDate, l.ListedDate, coalesceTime(l.IndexedAt, now), now,
		l.Address.Street, l.City, l.State, l.ZipCode, address, lat, lon,
		l.Price, l.Bedrooms, l.Bathrooms, l.LivingArea, l.LotSize, l.PropertyType,
		l.Description, l.VisualFeaturesText, nullIfEmpty(l.ArchitectureStyle), nullIfEmpty(l.ArchitectureSubstyle),
		string(featureTags), string(imageTags), vectorBytes, l.ModelID, l.HasValidEmbeddings, l.HasDescription)
	if err != nil {
		return fmt.Errorf("listingstore: upsert listing row: %w", err)
	}
	return nil
}

func replaceImageRows(ctx context.Context, tx *sql.Tx, l domain.Listing) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM listing_images WHERE zpid = ?`, l.ZPID); err != nil {
		return fmt.Errorf("listingstore: clear image rows: %w", err)
	}
	for i, iv := range l.ImageVectors {
		vecBytes, err := encoding.EncodeVector(iv.Vector)
		if err != nil {
			return fmt.Errorf("listingstore: encode image vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listing_images (zpid, position, image_url, image_type, vector, model_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			l.ZPID, i, iv.ImageURL, string(iv.ImageType), vecBytes, iv.ModelID); err != nil {
			return fmt.Errorf("listingstore: insert image row: %w", err)
		}
	}
	return nil
}

// Get fetches a single listing by id.
func (s *Store) Get(ctx context.Context, zpid string) (*domain.Listing, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT zpid, listing_status, sold_date, listed_date, indexed_at, updated_at,
			street, city, state, zip_code, lat, lon, price, bedrooms, bathrooms, living_area, lot_size,
			property_type, description, visual_features_text, architecture_style, architecture_substyle,
			feature_tags, image_tags, vector_text, model_id, has_valid_embeddings, has_description
		FROM listings WHERE zpid = ?`, zpid)

	l, err := scanListing(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.Wrap("listingstore.Get", errs.ClassInput, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("listingstore: get %s: %w", zpid, err)
	}

	images, err := s.loadImages(ctx, zpid)
	if err != nil {
		return nil, err
	}
	l.ImageVectors = images
	return l, nil
}

func (s *Store) loadImages(ctx context.Context, zpid string) ([]domain.ImageVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT image_url, image_type, vector, model_id FROM listing_images WHERE zpid = ? ORDER BY position`, zpid)
	if err != nil {
		return nil, fmt.Errorf("listingstore: load images for %s: %w", zpid, err)
	}
	defer rows.Close()

	var out []domain.ImageVector
	for rows.Next() {
		var iv domain.ImageVector
		var imgType, raw []byte
		var vecRaw []byte
		var modelID string
		if err := rows.Scan(&iv.ImageURL, &imgType, &vecRaw, &modelID); err != nil {
			return nil, err
		}
		_ = raw
		vec, err := encoding.DecodeVector(vecRaw)
		if err != nil {
			return nil, fmt.Errorf("listingstore: decode image vector for %s: %w", zpid, err)
		}
		iv.ImageType = domain.ImageType(imgType)
		iv.Vector = vec
		iv.ModelID = modelID
		out = append(out, iv)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanListing(row scannable) (*domain.Listing, error) {
	var l domain.Listing
	var status string
	var lat, lon sql.NullFloat64
	var archStyle, archSubstyle sql.NullString
	var featureTagsRaw, imageTagsRaw string
	var vectorRaw []byte

	err := row.Scan(&l.ZPID, &status, &l.SoldDate, &l.ListedDate, &l.IndexedAt, &l.UpdatedAt,
		&l.Address.Street, &l.City, &l.State, &l.ZipCode, &lat, &lon,
		&l.Price, &l.Bedrooms, &l.Bathrooms, &l.LivingArea, &l.LotSize, &l.PropertyType,
		&l.Description, &l.VisualFeaturesText, &archStyle, &archSubstyle,
		&featureTagsRaw, &imageTagsRaw, &vectorRaw, &l.ModelID, &l.HasValidEmbeddings, &l.HasDescription)
	if err != nil {
		return nil, err
	}

	l.ListingStatus = domain.ListingStatus(status)
	l.Address.City, l.Address.State, l.Address.Zipcode = l.City, l.State, l.ZipCode
	if archStyle.Valid {
		l.ArchitectureStyle = archStyle.String
	}
	if archSubstyle.Valid {
		l.ArchitectureSubstyle = archSubstyle.String
	}
	if lat.Valid && lon.Valid {
		l.Geo = &domain.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
	}
	_ = json.Unmarshal([]byte(featureTagsRaw), &l.FeatureTags)
	_ = json.Unmarshal([]byte(imageTagsRaw), &l.ImageTags)
	if len(vectorRaw) > 0 {
		vec, err := encoding.DecodeVector(vectorRaw)
		if err != nil {
			return nil, fmt.Errorf("decode vector_text: %w", err)
		}
		l.VectorText = vec
	}
	return &l, nil
}

// Delete removes a listing and its image vectors.
func (s *Store) Delete(ctx context.Context, zpid string) error {
	images, err := s.loadImages(ctx, zpid)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE zpid = ?`, zpid); err != nil {
		return fmt.Errorf("listingstore: delete %s: %w", zpid, err)
	}
	// A listing without valid embeddings was never indexed, so a
	// not-found from either graph is expected and ignored.
	_ = s.vectors.Field(index.FieldVectorText).Delete(zpid)
	for i := range images {
		_ = s.vectors.Field(index.FieldImageVectors).Delete(imageVectorID(zpid, i))
	}
	return nil
}

// joinAddress flattens the structured address into the single text
// blob the BM25 "address" field (§4.8.1) matches against.
func joinAddress(a domain.Address) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.Zipcode} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func coalesceTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
