// Package analytics implements the fire-and-forget search analytics
// sink: every query emits one event recording what was asked, how it
// was classified, and which strategies contributed, without ever
// blocking or failing the search response that triggered it.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/logging"
)

// Timings breaks the §6.3 per-stage latency down so a slow query can be
// attributed to the stage that actually caused it.
type Timings struct {
	ConstraintExtractionMS int64
	EmbeddingMS            int64
	BM25MS                 int64
	KNNTextMS              int64
	KNNImageMS             int64
	RRFMS                  int64
	BoostMS                int64
	TotalMS                int64
}

// ResultCounts is the per-strategy candidate count contributed before
// fusion, alongside the final fused total.
type ResultCounts struct {
	BM25     int
	KNNText  int
	KNNImage int
	Total    int
}

// QualitySummary buckets the fused, boosted results by how completely
// they satisfy the query's must_have tags.
type QualitySummary struct {
	AvgScore      float64
	AvgMatchRatio float64
	Perfect       int // matched every must_have tag
	Partial       int // matched some but not all
	NoMatches     int // matched none (or there were no must_have tags to match)
}

// Event is one recorded search.
type Event struct {
	ID             string
	Timestamp      time.Time
	SessionID      string
	Query          string
	Filters        domain.HardFilters
	Classification domain.Constraints
	ResultCounts   ResultCounts
	ResultOverlap  int
	Quality        QualitySummary
	Timings        Timings
	TopZPIDs       []string
	Warnings       []domain.Warning
	Errors         []string
	LatencyMS      int64
}

// Sink persists analytics events with a bounded retention window.
type Sink struct {
	db  *sql.DB
	ttl time.Duration
	log logging.Logger
}

// Open opens the analytics database, creating its table if needed.
func Open(ctx context.Context, path string, ttl time.Duration, log logging.Logger) (*Sink, error) {
	if log == nil {
		log = logging.Nop()
	}
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: open %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS search_events (
		id TEXT PRIMARY KEY,
		ts DATETIME NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL,
		filters_json TEXT NOT NULL,
		classification_json TEXT NOT NULL,
		result_counts_json TEXT NOT NULL,
		result_overlap INTEGER NOT NULL,
		quality_json TEXT NOT NULL,
		timings_json TEXT NOT NULL,
		top_zpids_json TEXT NOT NULL,
		warnings_json TEXT NOT NULL,
		errors_json TEXT NOT NULL,
		latency_ms INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytics: migrate: %w", err)
	}
	return &Sink{db: db, ttl: ttl, log: log}, nil
}

func (s *Sink) Close() error { return s.db.Close() }

// Emit records an event. It never returns an error to the caller: a
// storage failure here must never fail or delay the search request
// that produced the event, so failures are logged and dropped.
func (s *Sink) Emit(ctx context.Context, ev Event) {
	if len(ev.TopZPIDs) > 10 {
		ev.TopZPIDs = ev.TopZPIDs[:10]
	}

	classJSON, err := json.Marshal(ev.Classification)
	if err != nil {
		s.log.Warn("analytics: marshal classification failed, dropping event", "error", err)
		return
	}
	filtersJSON, _ := json.Marshal(ev.Filters)
	countsJSON, _ := json.Marshal(ev.ResultCounts)
	qualityJSON, _ := json.Marshal(ev.Quality)
	timingsJSON, _ := json.Marshal(ev.Timings)
	topJSON, _ := json.Marshal(ev.TopZPIDs)
	warnJSON, _ := json.Marshal(ev.Warnings)
	errJSON, _ := json.Marshal(ev.Errors)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_events (
			id, ts, session_id, query, filters_json, classification_json,
			result_counts_json, result_overlap, quality_json, timings_json,
			top_zpids_json, warnings_json, errors_json, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp, ev.SessionID, ev.Query, string(filtersJSON), string(classJSON),
		string(countsJSON), ev.ResultOverlap, string(qualityJSON), string(timingsJSON),
		string(topJSON), string(warnJSON), string(errJSON), ev.LatencyMS)
	if err != nil {
		s.log.Warn("analytics: write failed, dropping event", "error", err)
	}
}

// Prune deletes events older than the configured TTL. Callers run
// this periodically (e.g. once per CLI invocation or on a timer); it
// is not invoked automatically from Emit so a burst of queries never
// pays for a prune scan.
func (s *Sink) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("analytics: prune: %w", err)
	}
	return res.RowsAffected()
}
