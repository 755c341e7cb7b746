// Package ingest implements the ingestion pipeline: turning a raw
// listing payload into a fully enriched domain.Listing — resolving
// image URLs, embedding and analyzing each photo, aggregating tags,
// synthesizing the visual-features text, and voting on an architecture
// style — before it is handed to the listing store.
package ingest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hybridrealty/propsearch/pkg/cache"
	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/logging"
	"github.com/hybridrealty/propsearch/pkg/providers"
)

// RawListing is an unenriched input record, shaped close to the
// upstream feed: numeric fields are pointers so a field genuinely
// absent from the feed stays nil rather than becoming zero.
type RawListing struct {
	ZPID          string
	ListingStatus domain.ListingStatus
	Address       domain.Address
	Geo           *domain.GeoPoint
	Price         *int64
	Bedrooms      *float64
	Bathrooms     *float64
	LivingArea    *float64 // interior sqft, distinct from LotSize
	LotSize       *float64
	PropertyType  string
	Description   string
	FeatureTags   []string

	// Image sources in descending preference order; ingestion uses the
	// first one that yields any URL.
	CarouselPhotos   []string
	ThumbnailPhotos  []string
	ResponsivePhotos []string
	PhotoCount       int
}

// ImageDownloader fetches raw bytes for an image URL.
type ImageDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// VisionAnalyzer is the subset of pkg/vision this package depends on.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, imageBytes []byte) (cache.VisionAnalysis, string)
	ModelID() string
}

// Pipeline enriches raw listings into indexable documents.
type Pipeline struct {
	images   ImageDownloader
	provider *providers.Provider
	vision   VisionAnalyzer
	log      logging.Logger

	// imageConcurrency bounds how many photos of a single listing are
	// enriched in parallel.
	imageConcurrency int
}

func New(images ImageDownloader, provider *providers.Provider, vision VisionAnalyzer, imageConcurrency int, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Nop()
	}
	if imageConcurrency <= 0 {
		imageConcurrency = 8
	}
	return &Pipeline{images: images, provider: provider, vision: vision, imageConcurrency: imageConcurrency, log: log}
}

// resolveImageURLs takes the URLs of the most preferred populated
// source: carousel, then thumbnail, then responsive. A vacant-land listing with a
// photoCount of zero skips the responsive fallback entirely: a
// responsive image URL pattern on an empty gallery is noise, not a
// photo.
func resolveImageURLs(r RawListing) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(list []string) {
		for _, u := range list {
			if u == "" {
				continue
			}
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}

	add(r.CarouselPhotos)
	if len(urls) == 0 {
		add(r.ThumbnailPhotos)
	}
	if len(urls) == 0 && r.PhotoCount > 0 {
		add(r.ResponsivePhotos)
	}
	return urls
}

type enrichedImage struct {
	url         string
	vector      []float32
	cached      bool
	analysis    cache.VisionAnalysis
	llmResponse string
}

// enrichImage embeds and analyzes a single photo, writing the atomic
// cache record (embedding + analysis together) on a cache miss so a
// reader of the cache never observes one half written. The raw
// vision-model response is threaded through to the cache record on
// every fresh analysis so LLMResponse reflects what the model actually
// said, not just the parsed contract.
func (p *Pipeline) enrichImage(ctx context.Context, url string) (enrichedImage, bool) {
	if rec, hit := p.cacheLookup(ctx, url); hit {
		return enrichedImage{url: url, vector: rec.Embedding, cached: true, analysis: rec.Analysis, llmResponse: rec.LLMResponse}, true
	}

	bytes, err := p.images.Download(ctx, url)
	if err != nil {
		p.log.Warn("ingest: image download failed", "url", url, "error", err)
		return enrichedImage{}, false
	}

	vec, fromCache, err := p.provider.EmbedImage(ctx, url, bytes)
	if err != nil {
		p.log.Warn("ingest: image embedding failed", "url", url, "error", err)
		return enrichedImage{}, false
	}
	if fromCache {
		if rec, hit := p.cacheLookup(ctx, url); hit {
			return enrichedImage{url: url, vector: vec, cached: true, analysis: rec.Analysis, llmResponse: rec.LLMResponse}, true
		}
	}

	analysis, rawResponse := p.vision.Analyze(ctx, bytes)

	if c := p.provider.Cache(); c != nil {
		c.PutImage(ctx, cache.ImageRecord{
			URL:             url,
			Embedding:       vec,
			EmbeddingModel:  p.provider.ModelID(),
			AnalysisModelID: p.vision.ModelID(),
			Analysis:        analysis,
			LLMResponse:     rawResponse,
		})
	}

	return enrichedImage{url: url, vector: vec, analysis: analysis, llmResponse: rawResponse}, true
}

func (p *Pipeline) cacheLookup(ctx context.Context, url string) (*cache.ImageRecord, bool) {
	c := p.provider.Cache()
	if c == nil {
		return nil, false
	}
	return c.GetImage(ctx, url, p.provider.ModelID(), p.vision.ModelID())
}

// Enrich turns a raw listing into a fully populated domain.Listing. A
// listing fails only when the text embedding failed AND every image
// enrichment also failed — anything less still produces a usable,
// partially degraded document.
func (p *Pipeline) Enrich(ctx context.Context, raw RawListing) (domain.Listing, error) {
	l := domain.Listing{
		ZPID:          raw.ZPID,
		ListingStatus: raw.ListingStatus,
		Address:       raw.Address,
		Geo:           raw.Geo,
		City:          raw.Address.City,
		State:         raw.Address.State,
		ZipCode:       raw.Address.Zipcode,
		Price:         raw.Price,
		Bedrooms:      raw.Bedrooms,
		Bathrooms:     raw.Bathrooms,
		LivingArea:    raw.LivingArea,
		LotSize:       raw.LotSize,
		PropertyType:  raw.PropertyType,
		Description:   raw.Description,
		FeatureTags:   append([]string(nil), raw.FeatureTags...),
		ModelID:       p.provider.ModelID(),
	}

	textVec, textErr := p.provider.EmbedText(ctx, raw.Description)
	if textErr != nil {
		p.log.Warn("ingest: description embedding failed", "zpid", raw.ZPID, "error", textErr)
	}
	l.VectorText = textVec

	urls := resolveImageURLs(raw)
	images := p.enrichImages(ctx, urls)

	var imageTags []string
	var visualFeatureParts []string
	styleVotes := make(map[string]float64)

	for i, img := range images {
		l.ImageVectors = append(l.ImageVectors, domain.ImageVector{
			ImageURL:  img.url,
			ImageType: domain.ImageType(nonEmpty(img.analysis.ImageType, string(domain.ImageUnknown))),
			Vector:    img.vector,
			ModelID:   p.provider.ModelID(),
		})

		imageTags = append(imageTags, normalizeTags(img.analysis.Features)...)
		imageTags = append(imageTags, normalizeTags(img.analysis.Materials)...)
		imageTags = append(imageTags, normalizeTags(img.analysis.VisualFeatures)...)
		if img.analysis.ExteriorColor != "" {
			imageTags = append(imageTags, normalizeTag(img.analysis.ExteriorColor))
		}
		visualFeatureParts = append(visualFeatureParts, img.analysis.VisualFeatures...)

		if img.analysis.ArchitectureStyle != "" {
			weight := 0.4
			if img.analysis.ImageType == string(domain.ImageExterior) {
				weight = 1.0
			}
			// Earlier images break ties: add a vanishing tiebreak term
			// proportional to reverse position.
			styleVotes[img.analysis.ArchitectureStyle] += weight + float64(len(images)-i)*1e-6
		}
	}

	l.ImageTags = dedupe(imageTags)
	l.VisualFeaturesText = strings.Join(dedupe(visualFeatureParts), ", ")
	l.ArchitectureStyle = majorityStyle(styleVotes)

	l.RecomputeFlags()

	if textVec == nil && !anyImageSucceeded(images) {
		return l, errIngestFailed(raw.ZPID)
	}
	return l, nil
}

func (p *Pipeline) enrichImages(ctx context.Context, urls []string) []enrichedImage {
	results := make([]enrichedImage, len(urls))
	ok := make([]bool, len(urls))

	sem := make(chan struct{}, p.imageConcurrency)
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, url string) {
			defer wg.Done()
			defer func() { <-sem }()
			img, succeeded := p.enrichImage(ctx, url)
			results[i] = img
			ok[i] = succeeded
		}(i, url)
	}
	wg.Wait()

	out := make([]enrichedImage, 0, len(urls))
	for i, succeeded := range ok {
		if succeeded {
			out = append(out, results[i])
		}
	}
	return out
}

func anyImageSucceeded(images []enrichedImage) bool { return len(images) > 0 }

func majorityStyle(votes map[string]float64) string {
	type kv struct {
		style string
		w     float64
	}
	var ranked []kv
	for s, w := range votes {
		ranked = append(ranked, kv{s, w})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].w > ranked[j].w })
	if len(ranked) == 0 {
		return ""
	}
	return ranked[0].style
}

func normalizeTags(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = normalizeTag(s)
	}
	return out
}

func normalizeTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "_")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

type ingestError struct{ zpid string }

func (e *ingestError) Error() string {
	return "ingest: listing " + e.zpid + ": text embedding and all image enrichment failed"
}

func errIngestFailed(zpid string) error { return &ingestError{zpid: zpid} }
