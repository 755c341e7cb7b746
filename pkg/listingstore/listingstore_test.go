package listingstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrealty/propsearch/internal/errs"
	"github.com/hybridrealty/propsearch/pkg/domain"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = fmt.Sprintf("test_listings_%d.db", time.Now().UnixNano())
	}
	if cfg.EmbeddingModelID == "" {
		cfg.EmbeddingModelID = "multimodal-v1"
	}
	if cfg.VectorDim == 0 {
		cfg.VectorDim = 4
	}
	if cfg.HNSWM == 0 {
		cfg.HNSWM = 8
	}
	if cfg.HNSWEfConstr == 0 {
		cfg.HNSWEfConstr = 32
	}
	if cfg.HNSWEfSearch == 0 {
		cfg.HNSWEfSearch = 16
	}
	t.Cleanup(func() { _ = os.Remove(cfg.Path) })

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleListing(zpid string) domain.Listing {
	price := int64(500000)
	return domain.Listing{
		ZPID:          zpid,
		ListingStatus: domain.StatusForSale,
		Address:       domain.Address{Street: "1 Main St", City: "Springfield", State: "OR", Zipcode: "97477"},
		City:          "Springfield",
		State:         "OR",
		ZipCode:       "97477",
		Price:         &price,
		Description:   "a cozy craftsman bungalow",
		FeatureTags:   []string{"craftsman"},
		VectorText:    []float32{0.1, 0.2, 0.3, 0.4},
		ImageVectors: []domain.ImageVector{
			{ImageURL: "https://example.com/1.jpg", ImageType: domain.ImageExterior, Vector: []float32{0.1, 0.1, 0.1, 0.1}, ModelID: "multimodal-v1"},
		},
		ModelID: "multimodal-v1",
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	l := sampleListing("z1")
	require.NoError(t, s.Upsert(ctx, l, UpsertOptions{}))

	got, err := s.Get(ctx, "z1")
	require.NoError(t, err)
	assert.Equal(t, l.Description, got.Description)
	assert.Equal(t, l.VectorText, got.VectorText)
	require.Len(t, got.ImageVectors, 1)
	assert.Equal(t, l.ImageVectors[0].Vector, got.ImageVectors[0].Vector)
	assert.True(t, got.HasValidEmbeddings)
	assert.True(t, got.HasDescription)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t, Config{})
	_, err := s.Get(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := openTestStore(t, Config{VectorDim: 4})
	l := sampleListing("z2")
	l.VectorText = []float32{0.1, 0.2}

	err := s.Upsert(context.Background(), l, UpsertOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
}

func TestUpsertRejectsNaNVector(t *testing.T) {
	s := openTestStore(t, Config{VectorDim: 4})
	l := sampleListing("z3")
	l.VectorText = []float32{0.1, float32(0) / float32(0), 0.3, 0.4}

	err := s.Upsert(context.Background(), l, UpsertOptions{})
	require.Error(t, err)
}

func TestUpsertPreservesEmbeddingsWhenRequested(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	l := sampleListing("z4")
	require.NoError(t, s.Upsert(ctx, l, UpsertOptions{}))

	price := int64(525000)
	update := domain.Listing{ZPID: "z4", ListingStatus: domain.StatusPending, Price: &price}
	require.NoError(t, s.Upsert(ctx, update, UpsertOptions{PreserveEmbeddings: true}))

	got, err := s.Get(ctx, "z4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.ListingStatus)
	assert.Equal(t, l.VectorText, got.VectorText)
	require.Len(t, got.ImageVectors, 1)
}

func TestDeleteRemovesListingAndVectors(t *testing.T) {
	s := openTestStore(t, Config{})
	ctx := context.Background()

	l := sampleListing("z5")
	require.NoError(t, s.Upsert(ctx, l, UpsertOptions{}))
	require.NoError(t, s.Delete(ctx, "z5"))

	_, err := s.Get(ctx, "z5")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestReopenRebuildsVectorIndexFromDurableRows(t *testing.T) {
	cfg := Config{Path: fmt.Sprintf("test_listings_reopen_%d.db", time.Now().UnixNano()), VectorDim: 4}
	t.Cleanup(func() { _ = os.Remove(cfg.Path) })

	s1, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(context.Background(), sampleListing("z6"), UpsertOptions{}))
	require.NoError(t, s1.Close())

	s2, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), "z6")
	require.NoError(t, err)
	assert.NotEmpty(t, got.VectorText)
}

func TestImageVectorIDRoundTrip(t *testing.T) {
	id := imageVectorID("z7", 3)
	zpid, pos := splitImageVectorID(id)
	assert.Equal(t, "z7", zpid)
	assert.Equal(t, 3, pos)
}

func TestQuantizationTrainsOnceThresholdReached(t *testing.T) {
	cfg := Config{Path: fmt.Sprintf("test_listings_quant_%d.db", time.Now().UnixNano()), VectorDim: 4, QuantizeVectors: true}
	s := openTestStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < minVectorsToQuantize+1; i++ {
		l := sampleListing(fmt.Sprintf("bulk-%d", i))
		require.NoError(t, s.Upsert(ctx, l, UpsertOptions{}))
	}

	// Reopening forces rebuildVectorIndices to run again with enough
	// vectors loaded to cross minVectorsToQuantize and train a quantizer;
	// a successful reopen and read confirms the quantize path didn't
	// corrupt the graph.
	require.NoError(t, s.Close())
	s2, err := Open(ctx, Config{Path: cfg.Path, EmbeddingModelID: "multimodal-v1", VectorDim: 4, QuantizeVectors: true}, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "bulk-0")
	require.NoError(t, err)
	assert.NotEmpty(t, got.VectorText)
}
