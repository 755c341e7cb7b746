// Package api defines the request/response shapes of the search and
// listing-management surfaces. It has no HTTP transport of its own —
// wiring these types onto a router is left to the embedding
// application — but it is the stable contract pkg/orchestrator speaks.
package api

import "github.com/hybridrealty/propsearch/pkg/domain"

// SearchRequest is a single search call.
type SearchRequest struct {
	Query       string `json:"query"`
	Limit       int    `json:"limit,omitempty"`
	SearchAfter string `json:"search_after,omitempty"`
}

// SearchResponse mirrors domain.SearchResponse for JSON consumers.
type SearchResponse struct {
	Properties  []PropertyResult `json:"properties"`
	Total       int              `json:"total"`
	Query       QueryInfo        `json:"query_info"`
	SearchAfter string           `json:"search_after,omitempty"`
	HasMore     bool             `json:"has_more"`
	Warnings    []domain.Warning `json:"warnings,omitempty"`
}

// PropertyResult is one ranked, scored listing in a response.
type PropertyResult struct {
	Listing       domain.Listing `json:"listing"`
	Score         float64        `json:"score"`
	BM25Score     *float64       `json:"bm25_score,omitempty"`
	TextKNNScore  *float64       `json:"text_knn_score,omitempty"`
	ImageKNNScore *float64       `json:"image_knn_score,omitempty"`
	Boost         float64        `json:"boost"`
	MatchedTags   []string       `json:"matched_tags,omitempty"`
}

// QueryInfo echoes how the request was understood.
type QueryInfo struct {
	OriginalQuery  string             `json:"original_query"`
	MustHave       []string           `json:"must_have,omitempty"`
	NiceToHave     []string           `json:"nice_to_have,omitempty"`
	ArchitectureStyle string          `json:"architecture_style,omitempty"`
	QueryType      domain.QueryType   `json:"query_type"`
	HardFilters    domain.HardFilters `json:"hard_filters"`
}

// UpsertListingRequest is the CRUD create/update call. PreserveEmbeddings
// asks the store to keep existing vectors/tags when the request carries
// none of its own, for metadata-only updates (price, status changes)
// that shouldn't force a re-ingest.
type UpsertListingRequest struct {
	Listing            domain.Listing `json:"listing"`
	PreserveEmbeddings bool           `json:"preserve_embeddings,omitempty"`
}

// DeleteListingRequest removes a listing by id.
type DeleteListingRequest struct {
	ZPID string `json:"zpid"`
}

// FromSearchResponse converts the domain-level response into the wire
// shape.
func FromSearchResponse(r domain.SearchResponse) SearchResponse {
	out := SearchResponse{
		Total:       r.Total,
		SearchAfter: r.SearchAfter,
		HasMore:     r.HasMore,
		Warnings:    r.Warnings,
		Query: QueryInfo{
			OriginalQuery:     r.QueryInfo.OriginalQuery,
			MustHave:          r.QueryInfo.Classification.MustHave,
			NiceToHave:        r.QueryInfo.Classification.NiceToHave,
			ArchitectureStyle: r.QueryInfo.Classification.ArchitectureStyle,
			QueryType:         r.QueryInfo.Classification.QueryType,
			HardFilters:       r.QueryInfo.Classification.HardFilters,
		},
	}
	for _, p := range r.Properties {
		out.Properties = append(out.Properties, PropertyResult{
			Listing:       p.Listing,
			Score:         p.FinalScore,
			BM25Score:     p.BM25Score,
			TextKNNScore:  p.TextKNNScore,
			ImageKNNScore: p.ImageKNNScore,
			Boost:         p.Boost,
			MatchedTags:   p.MatchedTags,
		})
	}
	return out
}
