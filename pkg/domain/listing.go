// Package domain holds the shared data model (§3) used across every
// propsearch component: the indexed Listing document, its nested image
// vectors, and the query-time Constraints object. Keeping these types
// in one leaf package avoids import cycles between the storage,
// ingestion, query-understanding and retrieval packages that all need
// to speak the same document shape.
package domain

import "time"

// ListingStatus is the CRUD-owned status enum of §3.1 / §6.2.
type ListingStatus string

const (
	StatusForSale       ListingStatus = "for_sale"
	StatusSold          ListingStatus = "sold"
	StatusPending       ListingStatus = "pending"
	StatusUnderContract ListingStatus = "under_contract"
	StatusOffMarket     ListingStatus = "off_market"
	StatusComingSoon    ListingStatus = "coming_soon"
)

// ImageType classifies a listing photo (§3.1).
type ImageType string

const (
	ImageExterior ImageType = "exterior"
	ImageInterior ImageType = "interior"
	ImageDetail   ImageType = "detail"
	ImageFloorplan ImageType = "floorplan"
	ImageBackyard ImageType = "backyard"
	ImageUnknown  ImageType = "unknown"
)

// Address is the structured postal address of a listing.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zipcode string `json:"zipcode"`
}

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ImageVector is one element of the nested image_vectors field (§3.1,
// §4.4). Order within a Listing's ImageVectors matches the order
// images were resolved at ingest time (I2).
type ImageVector struct {
	ImageURL  string    `json:"image_url"`
	ImageType ImageType `json:"image_type"`
	Vector    []float32 `json:"vector"`
	ModelID   string    `json:"model_id"`
}

// Listing is the indexed document described by §3.1.
type Listing struct {
	// Identity & status
	ZPID          string        `json:"zpid"`
	ListingStatus ListingStatus `json:"listingStatus"`
	SoldDate      *time.Time    `json:"soldDate,omitempty"`
	ListedDate    *time.Time    `json:"listedDate,omitempty"`
	IndexedAt     time.Time     `json:"indexed_at"`
	UpdatedAt     time.Time     `json:"updated_at"`

	// Location
	Address Address   `json:"address"`
	Geo     *GeoPoint `json:"geo,omitempty"`
	City    string    `json:"city"`
	State   string    `json:"state"`
	ZipCode string    `json:"zip_code"`

	// Numerics. Pointers so "missing" can be represented as null, not 0
	// (§4.5.1: default missing numerics to null, never to 0).
	Price       *int64   `json:"price,omitempty"`
	Bedrooms    *float64 `json:"bedrooms,omitempty"`
	Bathrooms   *float64 `json:"bathrooms,omitempty"`
	LivingArea  *float64 `json:"livingArea,omitempty"` // interior sqft only, I5
	LotSize     *float64 `json:"lotSize,omitempty"`
	PropertyType string  `json:"property_type,omitempty"`

	// Text
	Description        string `json:"description"`
	VisualFeaturesText string `json:"visual_features_text"`
	ArchitectureStyle    string `json:"architecture_style,omitempty"`
	ArchitectureSubstyle string `json:"architecture_substyle,omitempty"`

	// Tags
	FeatureTags []string `json:"feature_tags"`
	ImageTags   []string `json:"image_tags"`

	// Vectors
	VectorText   []float32     `json:"vector_text,omitempty"`
	ImageVectors []ImageVector `json:"image_vectors,omitempty"`
	ModelID      string        `json:"model_id"` // I9: single model id for all vectors

	// Flags
	HasValidEmbeddings bool `json:"has_valid_embeddings"`
	HasDescription     bool `json:"has_description"`
}

// AllTags returns feature_tags ∪ image_tags, used by tag boosting
// (§4.10) and BM25 keyword matching.
func (l *Listing) AllTags() map[string]struct{} {
	out := make(map[string]struct{}, len(l.FeatureTags)+len(l.ImageTags))
	for _, t := range l.FeatureTags {
		out[t] = struct{}{}
	}
	for _, t := range l.ImageTags {
		out[t] = struct{}{}
	}
	return out
}

// RecomputeFlags sets HasValidEmbeddings and HasDescription per §3.1:
// valid iff vector_text is non-empty AND at least one image vector is
// present; has_description iff description is non-empty.
func (l *Listing) RecomputeFlags() {
	l.HasDescription = l.Description != ""
	l.HasValidEmbeddings = len(l.VectorText) > 0 && len(l.ImageVectors) > 0
}
