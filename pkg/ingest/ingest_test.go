package ingest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrealty/propsearch/pkg/cache"
	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/providers"
)

const testVectorDim = 3

type fakeDownloader struct{ calls int }

func (f *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	return []byte("bytes:" + url), nil
}

type fakeTextEmbedder struct{ calls int }

func (f *fakeTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeImageEmbedder struct{ calls int }

func (f *fakeImageEmbedder) EmbedImage(ctx context.Context, imageBytes []byte) ([]float32, error) {
	f.calls++
	return []float32{0.4, 0.5, 0.6}, nil
}

type fakeVisionAnalyzer struct {
	calls    int
	modelID  string
	analysis cache.VisionAnalysis
	raw      string
}

func (f *fakeVisionAnalyzer) Analyze(ctx context.Context, imageBytes []byte) (cache.VisionAnalysis, string) {
	f.calls++
	return f.analysis, f.raw
}

func (f *fakeVisionAnalyzer) ModelID() string { return f.modelID }

func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	path := fmt.Sprintf("test_ingest_cache_%d.db", time.Now().UnixNano())
	t.Cleanup(func() { _ = os.Remove(path) })

	c, err := cache.Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRawListing(n int) RawListing {
	photos := make([]string, n)
	for i := range photos {
		photos[i] = fmt.Sprintf("https://example.com/photo-%d.jpg", i)
	}
	return RawListing{
		ZPID:           "z1",
		Description:    "a cozy craftsman bungalow",
		CarouselPhotos: photos,
		PhotoCount:     n,
	}
}

func buildPipeline(t *testing.T, vision *fakeVisionAnalyzer) (*Pipeline, *fakeDownloader, *fakeTextEmbedder, *fakeImageEmbedder) {
	t.Helper()
	dl := &fakeDownloader{}
	text := &fakeTextEmbedder{}
	image := &fakeImageEmbedder{}
	c := openTestCache(t)
	provider := providers.New("multimodal-v1", testVectorDim, text, image, c, nil)
	return New(dl, provider, vision, 4, nil), dl, text, image
}

func TestEnrichAggregatesImageTagsIncludingVisualFeatures(t *testing.T) {
	vision := &fakeVisionAnalyzer{
		modelID: "vision-v1",
		raw:     `{"image_type":"exterior"}`,
		analysis: cache.VisionAnalysis{
			ImageType:      "exterior",
			Features:       []string{"Large Windows"},
			Materials:      []string{"Brick"},
			VisualFeatures: []string{"Open Floor Plan"},
			ExteriorColor:  "White",
			Confidence:     "high",
		},
	}
	p, _, _, _ := buildPipeline(t, vision)

	listing, err := p.Enrich(context.Background(), testRawListing(1))
	require.NoError(t, err)

	assert.Contains(t, listing.ImageTags, "large_windows")
	assert.Contains(t, listing.ImageTags, "brick")
	assert.Contains(t, listing.ImageTags, "open_floor_plan")
	assert.Contains(t, listing.ImageTags, "white")
	assert.Contains(t, listing.VisualFeaturesText, "Open Floor Plan")
}

func TestEnrichThreadsRawVisionResponseIntoCache(t *testing.T) {
	vision := &fakeVisionAnalyzer{
		modelID:  "vision-v1",
		raw:      `{"image_type":"exterior","confidence":"high"}`,
		analysis: cache.VisionAnalysis{ImageType: "exterior", Confidence: "high"},
	}
	p, _, _, _ := buildPipeline(t, vision)

	_, err := p.Enrich(context.Background(), testRawListing(1))
	require.NoError(t, err)

	rec, ok := p.provider.Cache().GetImage(context.Background(), "https://example.com/photo-0.jpg", "multimodal-v1", "vision-v1")
	require.True(t, ok)
	assert.Equal(t, vision.raw, rec.LLMResponse)
}

// TestEnrichIsIdempotentOnReingestion covers E4: re-ingesting the same
// listing's photos must not re-pay embedding or vision analysis cost,
// and must return byte-identical vectors.
func TestEnrichIsIdempotentOnReingestion(t *testing.T) {
	vision := &fakeVisionAnalyzer{
		modelID: "vision-v1",
		raw:     `{"image_type":"exterior"}`,
		analysis: cache.VisionAnalysis{
			ImageType: "exterior",
			Features:  []string{"porch"},
		},
	}
	p, dl, text, image := buildPipeline(t, vision)
	raw := testRawListing(9)

	first, err := p.Enrich(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, first.ImageVectors, 9)

	firstDownloads, firstEmbeds, firstVisionCalls := dl.calls, image.calls, vision.calls

	second, err := p.Enrich(context.Background(), raw)
	require.NoError(t, err)
	require.Len(t, second.ImageVectors, 9)

	for i := range first.ImageVectors {
		assert.Equal(t, first.ImageVectors[i].Vector, second.ImageVectors[i].Vector)
	}

	// A cache hit for every image means the second pass neither
	// re-downloads nor re-calls the embedding/vision models.
	assert.Equal(t, firstDownloads, dl.calls)
	assert.Equal(t, firstEmbeds, image.calls)
	assert.Equal(t, firstVisionCalls, vision.calls)
	assert.Equal(t, 1, text.calls, "description embedding is also cached across re-ingestion")

	stats, err := p.provider.Cache().Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), stats.ImageRecords)
	assert.Greater(t, stats.CostSaved, 0.0, "re-ingestion hits should accumulate cost_saved")
}

func TestEnrichFailsOnlyWhenTextAndAllImagesFail(t *testing.T) {
	vision := &fakeVisionAnalyzer{modelID: "vision-v1"}
	dl := &fakeDownloader{}
	text := &failingTextEmbedder{}
	image := &failingImageEmbedder{}
	c := openTestCache(t)
	provider := providers.New("multimodal-v1", testVectorDim, text, image, c, nil)
	p := New(dl, provider, vision, 4, nil)

	_, err := p.Enrich(context.Background(), testRawListing(2))
	assert.Error(t, err)
}

type failingTextEmbedder struct{}

func (failingTextEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, assertErr{}
}

type failingImageEmbedder struct{}

func (failingImageEmbedder) EmbedImage(ctx context.Context, imageBytes []byte) ([]float32, error) {
	return nil, assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "embedding failed" }

func TestEnrichSetsHasValidEmbeddingsViaRecomputeFlags(t *testing.T) {
	vision := &fakeVisionAnalyzer{modelID: "vision-v1", analysis: cache.VisionAnalysis{ImageType: "exterior"}}
	p, _, _, _ := buildPipeline(t, vision)

	listing, err := p.Enrich(context.Background(), testRawListing(1))
	require.NoError(t, err)
	assert.True(t, listing.HasValidEmbeddings)
	assert.True(t, listing.HasDescription)
	assert.Equal(t, domain.ListingStatus(""), listing.ListingStatus)
}
