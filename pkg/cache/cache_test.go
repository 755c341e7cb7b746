package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := fmt.Sprintf("test_cache_%d.db", time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(path) })

	c, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestImageCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	rec := ImageRecord{
		URL:             "https://example.com/a.jpg",
		Embedding:       []float32{0.1, 0.2, 0.3},
		EmbeddingModel:  "multimodal-v1",
		AnalysisModelID: "vision-v1",
		Analysis:        VisionAnalysis{ImageType: "exterior", Confidence: "high"},
		LLMResponse:     `{"image_type":"exterior"}`,
		CostTotal:       0.02,
	}
	c.PutImage(ctx, rec)

	got, ok := c.GetImage(ctx, rec.URL, "multimodal-v1", "vision-v1")
	require.True(t, ok)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, "exterior", got.Analysis.ImageType)
	assert.Equal(t, rec.LLMResponse, got.LLMResponse)
}

func TestImageCacheMissesOnEmbeddingModelMismatch(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	c.PutImage(ctx, ImageRecord{URL: "https://example.com/b.jpg", Embedding: []float32{1, 2}, EmbeddingModel: "model-a", AnalysisModelID: "vision-v1"})

	_, ok := c.GetImage(ctx, "https://example.com/b.jpg", "model-b", "vision-v1")
	assert.False(t, ok)
}

func TestImageCacheMissesOnAnalysisModelMismatch(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	c.PutImage(ctx, ImageRecord{URL: "https://example.com/b.jpg", Embedding: []float32{1, 2}, EmbeddingModel: "model-a", AnalysisModelID: "vision-v1"})

	_, ok := c.GetImage(ctx, "https://example.com/b.jpg", "model-a", "vision-v2")
	assert.False(t, ok)
}

func TestImageCacheMissOnUnknownURL(t *testing.T) {
	c := openTestCache(t)
	_, ok := c.GetImage(context.Background(), "https://example.com/missing.jpg", "any-model", "any-vision-model")
	assert.False(t, ok)
}

func TestTextCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	key := TextKey("a cozy craftsman bungalow", "multimodal-v1")
	c.PutText(ctx, TextRecord{CacheKey: key, TextSample: "a cozy craftsman bungalow", Embedding: []float32{0.5, 0.5}, ModelID: "multimodal-v1"})

	vec, ok := c.GetText(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}

func TestTextKeyDiffersByModel(t *testing.T) {
	a := TextKey("same text", "model-a")
	b := TextKey("same text", "model-b")
	assert.NotEqual(t, a, b)
}

func TestStatsCountsRecords(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	c.PutImage(ctx, ImageRecord{URL: "https://example.com/c.jpg", Embedding: []float32{1}, EmbeddingModel: "m", AnalysisModelID: "v"})
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ImageRecords)
}

func TestStatsAccumulatesCostSavedPerHit(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	rec := ImageRecord{URL: "https://example.com/d.jpg", Embedding: []float32{1}, EmbeddingModel: "m", AnalysisModelID: "v", CostTotal: 0.05}
	c.PutImage(ctx, rec)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stats.CostSaved, "no hits yet beyond the initial write")

	_, ok := c.GetImage(ctx, rec.URL, "m", "v")
	require.True(t, ok)
	_, ok = c.GetImage(ctx, rec.URL, "m", "v")
	require.True(t, ok)

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, stats.CostSaved, 1e-9)
}
