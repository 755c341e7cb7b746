package listingstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/hybridrealty/propsearch/internal/backoff"
	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/index"
)

// overfetchFactor widens the candidate pool pulled from the ANN graph
// before hard filters are applied, since filtering can only shrink the
// result set and a kNN graph has no notion of a WHERE clause.
const overfetchFactor = 5

// bm25Weights assigns the §4.8.1 per-field boosts positionally to the
// listings_fts columns in declaration order (zpid, description,
// visual_features_text, feature_tags, image_tags, address); the
// UNINDEXED zpid column still needs a placeholder slot since bm25()
// weight arguments map to columns by position.
const bm25Weights = "0, 3.0, 2.5, 2.0, 1.5, 0.5"

// mustHaveBoost is the per-tag weight added to a candidate's BM25 score
// for every must_have term present in its feature_tags or image_tags —
// the §4.8.1 "should" soft boost, applied as a score addend rather than
// a filter so a document missing a must_have tag is merely ranked
// lower, not excluded (hard exclusion is a kNN/filter concern, I3).
const mustHaveBoost = 1.0

// SearchBM25 runs the full text strategy over description,
// visual_features_text, feature_tags, image_tags and address using
// SQLite FTS5's native bm25() ranking with per-field weights, then
// applies hard filters and the must_have soft boost by joining back to
// the listings table.
func (s *Store) SearchBM25(ctx context.Context, queryText string, constraints domain.Constraints, limit int) ([]domain.RankedResult, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	clause, args := filterClause(constraints.HardFilters)
	where := ""
	if clause != "" {
		where = "AND " + clause
	}

	mustHave := constraints.MustHave
	query := fmt.Sprintf(`
		SELECT l.zpid, bm25(listings_fts, %s) AS rank,
			(SELECT COUNT(*) FROM json_each(l.feature_tags) WHERE value IN (%s)) +
			(SELECT COUNT(*) FROM json_each(l.image_tags) WHERE value IN (%s)) AS boost_hits
		FROM listings_fts
		JOIN listings l ON l.zpid = listings_fts.zpid
		WHERE listings_fts MATCH ? %s
		ORDER BY rank ASC
		LIMIT ?`, bm25Weights, inPlaceholders(len(mustHave)), inPlaceholders(len(mustHave)), where)

	queryArgs := []any{queryText}
	queryArgs = append(queryArgs, mustHaveArgs(mustHave)...)
	queryArgs = append(queryArgs, mustHaveArgs(mustHave)...)
	queryArgs = append(queryArgs, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("listingstore: bm25 search: %w", err)
	}
	defer rows.Close()

	var out []domain.RankedResult
	for rows.Next() {
		var zpid string
		var rank float64
		var boostHits int
		if err := rows.Scan(&zpid, &rank, &boostHits); err != nil {
			return nil, err
		}
		// bm25() returns lower-is-better; invert so higher is better,
		// consistent with the other two strategies' score sense, then
		// add the must_have should-boost.
		out = append(out, domain.RankedResult{ZPID: zpid, Score: -rank + float64(boostHits)*mustHaveBoost})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortByScoreDesc(out)
	assignRanks(out)
	return out, nil
}

// inPlaceholders renders the "?, ?, ..." placeholder list for an IN
// clause; an empty list renders as "NULL" so the IN() is syntactically
// valid and matches nothing rather than erroring on IN ().
func inPlaceholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return placeholders(n)
}

func mustHaveArgs(mustHave []string) []any {
	out := make([]any, len(mustHave))
	for i, m := range mustHave {
		out[i] = m
	}
	return out
}

// SearchKNNText runs approximate nearest-neighbor search over the
// vector_text field.
func (s *Store) SearchKNNText(ctx context.Context, queryVector []float32, filters domain.HardFilters, limit int) ([]domain.RankedResult, error) {
	ids, dists := s.vectors.Search(index.FieldVectorText, queryVector, limit*overfetchFactor)
	// The graph returns cosine distances; 1 - distance is the cosine
	// similarity, so higher is better as in the BM25 strategy.
	scores := make([]float32, len(dists))
	for i, d := range dists {
		scores[i] = 1 - d
	}
	return s.filterAndRank(ctx, ids, scores, filters, limit, true)
}

// SearchKNNImage runs approximate nearest-neighbor search over the
// nested per-image vectors and aggregates with score_mode=max: a
// listing's score is its single best-matching photo, not an average
// across photos.
func (s *Store) SearchKNNImage(ctx context.Context, queryVector []float32, filters domain.HardFilters, limit int) ([]domain.RankedResult, error) {
	ids, scores := s.vectors.Search(index.FieldImageVectors, queryVector, limit*overfetchFactor*4)

	best := make(map[string]float64)
	order := make([]string, 0)
	for i, id := range ids {
		zpid, _ := splitImageVectorID(id)
		score := 1 - float64(scores[i]) // cosine distance -> similarity
		if cur, ok := best[zpid]; !ok || score > cur {
			if !ok {
				order = append(order, zpid)
			}
			best[zpid] = score
		}
	}

	mergedIDs := make([]string, len(order))
	mergedScores := make([]float32, len(order))
	for i, zpid := range order {
		mergedIDs[i] = zpid
		mergedScores[i] = float32(best[zpid])
	}
	return s.filterAndRank(ctx, mergedIDs, mergedScores, filters, limit, true)
}

// filterAndRank joins ANN candidate ids back to the listings table to
// apply hard filters (and, for kNN paths, I3's has_valid_embeddings
// gate) before truncating to limit and assigning dense ranks.
func (s *Store) filterAndRank(ctx context.Context, ids []string, scores []float32, filters domain.HardFilters, limit int, requireValidEmbeddings bool) ([]domain.RankedResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	scoreByID := make(map[string]float64, len(ids))
	for i, id := range ids {
		scoreByID[id] = float64(scores[i])
	}

	clause, args := filterClause(filters)
	where := "zpid IN (" + placeholders(len(ids)) + ")"
	queryArgs := make([]any, 0, len(ids)+len(args))
	for _, id := range ids {
		queryArgs = append(queryArgs, id)
	}
	if requireValidEmbeddings {
		where += " AND has_valid_embeddings = 1"
	}
	if clause != "" {
		where += " AND " + clause
		queryArgs = append(queryArgs, args...)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT zpid FROM listings WHERE `+where, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("listingstore: filter candidates: %w", err)
	}
	defer rows.Close()

	var surviving []string
	for rows.Next() {
		var zpid string
		if err := rows.Scan(&zpid); err != nil {
			return nil, err
		}
		surviving = append(surviving, zpid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.RankedResult, 0, len(surviving))
	for _, zpid := range surviving {
		out = append(out, domain.RankedResult{ZPID: zpid, Score: scoreByID[zpid]})
	}
	sortByScoreDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	assignRanks(out)
	return out, nil
}

func sortByScoreDesc(results []domain.RankedResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func assignRanks(results []domain.RankedResult) {
	for i := range results {
		results[i].Rank = i + 1
	}
}

// BulkUpsertResult reports chunk-level outcomes for a bulk ingest run.
type BulkUpsertResult struct {
	Succeeded int
	Failed    []string // zpids that failed after retry
}

// BulkUpsert writes listings in chunks with retry-backoff, splitting a
// chunk in half and retrying its halves whenever it still fails after
// its retries, so a single oversized chunk can't wedge an entire ingest
// run. Errors are not classified: every failure, not only throttling,
// is retried with backoff and can trigger a split.
func (s *Store) BulkUpsert(ctx context.Context, listings []domain.Listing, chunkSize int) BulkUpsertResult {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	var result BulkUpsertResult
	for i := 0; i < len(listings); i += chunkSize {
		end := i + chunkSize
		if end > len(listings) {
			end = len(listings)
		}
		s.upsertChunk(ctx, listings[i:end], &result)
	}
	return result
}

func (s *Store) upsertChunk(ctx context.Context, chunk []domain.Listing, result *BulkUpsertResult) {
	cfg := backoff.IngestConfig()
	err := backoff.Retry(ctx, cfg, isThrottled, func() error {
		for _, l := range chunk {
			if err := s.Upsert(ctx, l, UpsertOptions{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		result.Succeeded += len(chunk)
		return
	}

	if len(chunk) == 1 {
		result.Failed = append(result.Failed, chunk[0].ZPID)
		s.log.Warn("listingstore: listing failed bulk upsert after retries", "zpid", chunk[0].ZPID, "error", err)
		return
	}

	// Sustained failure on a multi-item chunk: split and retry each
	// half independently rather than discarding the whole batch.
	mid := len(chunk) / 2
	s.upsertChunk(ctx, chunk[:mid], result)
	s.upsertChunk(ctx, chunk[mid:], result)
}

func isThrottled(err error) bool {
	return err != nil
}
