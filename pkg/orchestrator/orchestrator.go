// Package orchestrator wires the independent components — query
// understanding, embedding providers, retrieval, fusion, and
// analytics — into the two top-level flows a caller actually needs:
// Search and Ingest.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hybridrealty/propsearch/pkg/analytics"
	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/fusion"
	"github.com/hybridrealty/propsearch/pkg/ingest"
	"github.com/hybridrealty/propsearch/pkg/listingstore"
	"github.com/hybridrealty/propsearch/pkg/logging"
	"github.com/hybridrealty/propsearch/pkg/providers"
	"github.com/hybridrealty/propsearch/pkg/query"
	"github.com/hybridrealty/propsearch/pkg/retrieval"
	"github.com/hybridrealty/propsearch/pkg/weighting"
)

// Orchestrator is the top-level entry point embedding applications and
// the CLI both drive.
type Orchestrator struct {
	store      *listingstore.Store
	provider   *providers.Provider
	understand *query.Understander
	retriever  *retrieval.Runner
	ingest     *ingest.Pipeline
	events     *analytics.Sink
	log        logging.Logger

	defaultLimit int
	maxLimit     int
}

type Config struct {
	Store        *listingstore.Store
	Provider     *providers.Provider
	Understand   *query.Understander
	Retriever    *retrieval.Runner
	Ingest       *ingest.Pipeline
	Events       *analytics.Sink
	DefaultLimit int
	MaxLimit     int
}

func New(cfg Config, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Orchestrator{
		store: cfg.Store, provider: cfg.Provider, understand: cfg.Understand,
		retriever: cfg.Retriever, ingest: cfg.Ingest, events: cfg.Events, log: log,
		defaultLimit: cfg.DefaultLimit, maxLimit: cfg.MaxLimit,
	}
}

// Search runs the full query flow: understand, embed, fan out the
// three retrieval strategies, fuse with adaptively weighted RRF,
// apply the tag-match boost, and emit an analytics event. The
// analytics emission never affects the returned response.
func (o *Orchestrator) Search(ctx context.Context, q string, limit int) (*domain.SearchResponse, error) {
	start := time.Now()
	if limit <= 0 {
		limit = o.defaultLimit
	}
	if limit > o.maxLimit {
		limit = o.maxLimit
	}

	var errMsgs []string

	understandStart := time.Now()
	constraints := o.understand.Understand(ctx, q)
	constraintMS := time.Since(understandStart).Milliseconds()

	var textVec, imageVec []float32
	var embeddingMS int64
	if o.provider != nil {
		embedStart := time.Now()
		v, err := o.provider.EmbedText(ctx, q)
		embeddingMS = time.Since(embedStart).Milliseconds()
		if err != nil {
			o.log.Warn("orchestrator: query embedding failed, degrading to lexical-only", "error", err)
			errMsgs = append(errMsgs, fmt.Sprintf("embedding: %v", err))
		} else {
			textVec = v
			imageVec = v // single multimodal embedding space serves both kNN strategies
		}
	}

	strategies := o.retriever.RunAll(ctx, retrieval.Input{
		QueryText:   q,
		TextVector:  textVec,
		ImageVector: imageVec,
		Constraints: constraints,
		Size:        limit,
	})
	for _, sr := range strategies {
		if sr.Err != nil {
			errMsgs = append(errMsgs, fmt.Sprintf("%s: %v", sr.Strategy, sr.Err))
		}
	}

	rrfStart := time.Now()
	weights := weighting.Resolve(constraints.QueryType)
	fused := fusion.RRF(strategies, weights)
	rrfMS := time.Since(rrfStart).Milliseconds()

	mustHave := constraints.MustHaveSet()
	resp := &domain.SearchResponse{
		QueryInfo: domain.QueryInfo{OriginalQuery: q, Classification: constraints},
	}
	for _, sr := range strategies {
		if sr.TimedOut {
			resp.Warnings = append(resp.Warnings, domain.Warning{
				Component: sr.Strategy, Message: "strategy timed out", Impact: "medium",
			})
		}
	}

	byStrategy := indexByStrategy(strategies)

	boostStart := time.Now()
	for _, rr := range fused {
		if len(resp.Properties) >= limit {
			break
		}
		listing, err := o.store.Get(ctx, rr.ZPID)
		if err != nil {
			continue
		}
		boost, matched := fusion.TagBoost(listing.AllTags(), mustHave)
		sl := domain.ScoredListing{
			Listing:     *listing,
			RRFScore:    rr.Score,
			Boost:       boost,
			FinalScore:  rr.Score * boost,
			MatchedTags: matched,
		}
		if s, ok := byStrategy["bm25"][rr.ZPID]; ok {
			sl.BM25Score = &s
		}
		if s, ok := byStrategy["knn_text"][rr.ZPID]; ok {
			sl.TextKNNScore = &s
		}
		if s, ok := byStrategy["knn_image"][rr.ZPID]; ok {
			sl.ImageKNNScore = &s
		}
		resp.Properties = append(resp.Properties, sl)
	}
	boostMS := time.Since(boostStart).Milliseconds()
	resp.Total = len(fused)
	resp.HasMore = len(fused) > len(resp.Properties)

	if o.events != nil {
		topZPIDs := make([]string, 0, len(resp.Properties))
		for _, p := range resp.Properties {
			topZPIDs = append(topZPIDs, p.Listing.ZPID)
		}
		counts := analytics.ResultCounts{Total: resp.Total}
		for _, sr := range strategies {
			switch sr.Strategy {
			case "bm25":
				counts.BM25 = len(sr.Results)
			case "knn_text":
				counts.KNNText = len(sr.Results)
			case "knn_image":
				counts.KNNImage = len(sr.Results)
			}
		}
		var bm25MS, knnTextMS, knnImageMS int64
		for _, sr := range strategies {
			switch sr.Strategy {
			case "bm25":
				bm25MS = sr.DurationMS
			case "knn_text":
				knnTextMS = sr.DurationMS
			case "knn_image":
				knnImageMS = sr.DurationMS
			}
		}
		o.events.Emit(ctx, analytics.Event{
			ID: uuid.NewString(), Timestamp: start, Query: q,
			Filters: constraints.HardFilters, Classification: constraints,
			ResultCounts:  counts,
			ResultOverlap: strategyOverlap(strategies),
			Quality:       summarizeQuality(resp.Properties, len(mustHave)),
			Timings: analytics.Timings{
				ConstraintExtractionMS: constraintMS,
				EmbeddingMS:            embeddingMS,
				BM25MS:                 bm25MS,
				KNNTextMS:              knnTextMS,
				KNNImageMS:             knnImageMS,
				RRFMS:                  rrfMS,
				BoostMS:                boostMS,
				TotalMS:                time.Since(start).Milliseconds(),
			},
			TopZPIDs: topZPIDs, Warnings: resp.Warnings, Errors: errMsgs,
			LatencyMS: time.Since(start).Milliseconds(),
		})
	}

	return resp, nil
}

// strategyOverlap counts the zpids present in more than one strategy's
// result set, a cheap signal of how much the three strategies agree
// before fusion.
func strategyOverlap(strategies []domain.StrategyResults) int {
	seen := make(map[string]int)
	for _, sr := range strategies {
		counted := make(map[string]bool, len(sr.Results))
		for _, r := range sr.Results {
			if counted[r.ZPID] {
				continue
			}
			counted[r.ZPID] = true
			seen[r.ZPID]++
		}
	}
	overlap := 0
	for _, n := range seen {
		if n > 1 {
			overlap++
		}
	}
	return overlap
}

// summarizeQuality buckets the fused, boosted results by how completely
// they satisfy the query's must_have tags. With no must_have tags there
// is nothing to match, so every result counts as a no-match rather than
// a false perfect.
func summarizeQuality(properties []domain.ScoredListing, mustHaveCount int) analytics.QualitySummary {
	var q analytics.QualitySummary
	if len(properties) == 0 {
		return q
	}
	var scoreSum, ratioSum float64
	for _, p := range properties {
		scoreSum += p.FinalScore
		if mustHaveCount == 0 {
			q.NoMatches++
			continue
		}
		ratio := float64(len(p.MatchedTags)) / float64(mustHaveCount)
		ratioSum += ratio
		switch {
		case len(p.MatchedTags) >= mustHaveCount:
			q.Perfect++
		case len(p.MatchedTags) > 0:
			q.Partial++
		default:
			q.NoMatches++
		}
	}
	q.AvgScore = scoreSum / float64(len(properties))
	if mustHaveCount > 0 {
		q.AvgMatchRatio = ratioSum / float64(len(properties))
	}
	return q
}

func indexByStrategy(strategies []domain.StrategyResults) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(strategies))
	for _, sr := range strategies {
		m := make(map[string]float64, len(sr.Results))
		for _, r := range sr.Results {
			m[r.ZPID] = r.Score
		}
		out[sr.Strategy] = m
	}
	return out
}

// IngestOne enriches and stores a single raw listing.
func (o *Orchestrator) IngestOne(ctx context.Context, raw ingest.RawListing) error {
	listing, err := o.ingest.Enrich(ctx, raw)
	if err != nil {
		return fmt.Errorf("orchestrator: ingest %s: %w", raw.ZPID, err)
	}
	return o.store.Upsert(ctx, listing, listingstore.UpsertOptions{})
}

// IngestBatch enriches and bulk-upserts many raw listings, chunked per
// chunkSize.
func (o *Orchestrator) IngestBatch(ctx context.Context, raws []ingest.RawListing, chunkSize int) listingstore.BulkUpsertResult {
	listings := make([]domain.Listing, 0, len(raws))
	var result listingstore.BulkUpsertResult
	for _, raw := range raws {
		l, err := o.ingest.Enrich(ctx, raw)
		if err != nil {
			result.Failed = append(result.Failed, raw.ZPID)
			o.log.Warn("orchestrator: ingest enrichment failed", "zpid", raw.ZPID, "error", err)
			continue
		}
		listings = append(listings, l)
	}
	sub := o.store.BulkUpsert(ctx, listings, chunkSize)
	result.Succeeded += sub.Succeeded
	result.Failed = append(result.Failed, sub.Failed...)
	return result
}
