package domain

// QueryType is the coarse classification of §3.2 that drives adaptive
// weighting (C9).
type QueryType string

const (
	QueryColor           QueryType = "color"
	QueryMaterial        QueryType = "material"
	QuerySpecificFeature QueryType = "specific_feature"
	QueryVisualStyle     QueryType = "visual_style"
	QueryProximity       QueryType = "proximity"
	QueryGeneral         QueryType = "general"
)

// HardFilters mirrors the recognized keys of §3.2. Pointer fields are
// nil when the caller didn't specify that bound.
type HardFilters struct {
	PriceMin      *int64          `json:"price_min,omitempty"`
	PriceMax      *int64          `json:"price_max,omitempty"`
	BedsMin       *float64        `json:"beds_min,omitempty"`
	BedsMax       *float64        `json:"beds_max,omitempty"`
	BathsMin      *float64        `json:"baths_min,omitempty"`
	BathsMax      *float64        `json:"baths_max,omitempty"`
	LivingAreaMin *float64        `json:"living_area_min,omitempty"`
	LivingAreaMax *float64        `json:"living_area_max,omitempty"`
	PropertyTypes []string        `json:"property_types,omitempty"`
	Status        []ListingStatus `json:"status,omitempty"`
}

// Proximity is the optional "near <poi>" constraint of §3.2.
type Proximity struct {
	POIType       string   `json:"poi_type"`
	MaxDistanceKM *float64 `json:"max_distance_km,omitempty"`
}

// Constraints is the structured object produced by Query Understanding
// (C6, §3.2).
type Constraints struct {
	MustHave          []string    `json:"must_have"`
	NiceToHave        []string    `json:"nice_to_have,omitempty"`
	HardFilters       HardFilters `json:"hard_filters"`
	ArchitectureStyle string      `json:"architecture_style,omitempty"`
	Proximity         *Proximity  `json:"proximity,omitempty"`
	QueryType         QueryType   `json:"query_type"`
}

// MustHaveSet returns MustHave as a set for O(1) membership checks.
func (c *Constraints) MustHaveSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.MustHave))
	for _, t := range c.MustHave {
		out[t] = struct{}{}
	}
	return out
}
