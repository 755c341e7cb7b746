// Package providers implements the Embedding Providers (C3, §4.3): the
// cache-fronted text and image embedding calls used by both ingestion
// and query-time retrieval. Every vector that leaves this package
// carries the single configured model id (I9) and is exactly
// config.Models.VectorDim long (I10).
package providers

import (
	"context"
	"fmt"

	"github.com/hybridrealty/propsearch/internal/backoff"
	"github.com/hybridrealty/propsearch/internal/errs"
	"github.com/hybridrealty/propsearch/pkg/cache"
	"github.com/hybridrealty/propsearch/pkg/logging"
)

// TextEmbedder calls out to the multimodal embedding model for text.
// ImageEmbedder does the same for raw image bytes. Both are satisfied
// by the same remote model in production (I9: one model id serves all
// vectors of an index), but are kept as separate interfaces so tests
// can supply independent fakes.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type ImageEmbedder interface {
	EmbedImage(ctx context.Context, imageBytes []byte) ([]float32, error)
}

// Provider fronts a TextEmbedder/ImageEmbedder pair with the embedding
// cache and enforces the model-identity and dimension invariants.
type Provider struct {
	modelID string
	dim     int
	text    TextEmbedder
	image   ImageEmbedder
	cache   *cache.Cache
	log     logging.Logger
	retry   backoff.Config
}

// New builds a Provider. cache may be nil, in which case every call
// computes fresh (useful for tests and for the cache's own degrade
// path once it has already failed open).
func New(modelID string, dim int, text TextEmbedder, image ImageEmbedder, c *cache.Cache, log logging.Logger) *Provider {
	if log == nil {
		log = logging.Nop()
	}
	return &Provider{modelID: modelID, dim: dim, text: text, image: image, cache: c, log: log, retry: backoff.DefaultConfig()}
}

// EmbedText returns the text embedding for text, using the cache when
// available. An empty string returns a nil vector and is not counted
// toward has_valid_embeddings (§4.3: empty text contributes nothing).
func (p *Provider) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	key := cache.TextKey(text, p.modelID)
	if p.cache != nil {
		if vec, ok := p.cache.GetText(ctx, key); ok {
			return vec, nil
		}
	}

	var vec []float32
	err := backoff.Retry(ctx, p.retry, errs.Transient, func() error {
		v, err := p.text.EmbedText(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, errs.Wrap("providers.EmbedText", errs.ClassTransient, err)
	}
	if err := p.checkDim(vec); err != nil {
		return nil, err
	}

	if p.cache != nil {
		p.cache.PutText(ctx, cache.TextRecord{CacheKey: key, TextSample: text, Embedding: vec, ModelID: p.modelID})
	}
	return vec, nil
}

// EmbedImage returns the embedding and, via the cache record, whether
// the image was already known. Vision analysis is attached separately
// by the caller (the ingestion pipeline owns the atomic
// embed+analyze+cache-write sequence, per I7) — this method only
// handles the embedding half and a pure cache read-through.
func (p *Provider) EmbedImage(ctx context.Context, url string, imageBytes []byte) ([]float32, bool, error) {
	if p.cache != nil {
		if vec, ok := p.cache.GetImageEmbedding(ctx, url, p.modelID); ok {
			return vec, true, nil
		}
	}

	var vec []float32
	err := backoff.Retry(ctx, p.retry, errs.Transient, func() error {
		v, err := p.image.EmbedImage(ctx, imageBytes)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, false, errs.Wrap("providers.EmbedImage", errs.ClassTransient, err)
	}
	if err := p.checkDim(vec); err != nil {
		return nil, false, err
	}
	return vec, false, nil
}

// ModelID returns the single model id this provider speaks for (I9).
func (p *Provider) ModelID() string { return p.modelID }

// Cache exposes the underlying cache so the ingestion pipeline can
// perform the atomic embed+analyze write (I7) without this package
// needing to know about vision analysis.
func (p *Provider) Cache() *cache.Cache { return p.cache }

func (p *Provider) checkDim(vec []float32) error {
	if len(vec) != p.dim {
		return errs.Wrap("providers.checkDim", errs.ClassContract,
			fmt.Errorf("%w: got %d want %d", errs.ErrDimensionMismatch, len(vec), p.dim))
	}
	return nil
}
