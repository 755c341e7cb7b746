package weighting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

func TestResolveDefaults(t *testing.T) {
	w := Resolve(domain.QueryGeneral)
	assert.Equal(t, domain.RRFWeights{BM25K: 60, TextK: 60, ImageK: 60}, w)
}

func TestResolveColorFavorsBM25OverImages(t *testing.T) {
	w := Resolve(domain.QueryColor)
	assert.Equal(t, 30.0, w.BM25K)
	assert.Equal(t, 60.0, w.TextK)
	assert.Equal(t, 120.0, w.ImageK)
}

func TestResolveMaterialFavorsTextAndKeywords(t *testing.T) {
	w := Resolve(domain.QueryMaterial)
	assert.Equal(t, 42.0, w.BM25K)
	assert.Equal(t, 45.0, w.TextK)
	assert.Equal(t, 60.0, w.ImageK)
}

func TestResolveVisualStyleFavorsPhotosAndText(t *testing.T) {
	w := Resolve(domain.QueryVisualStyle)
	assert.Equal(t, 60.0, w.BM25K)
	assert.Equal(t, 45.0, w.TextK)
	assert.Equal(t, 40.0, w.ImageK)
}

func TestResolveSpecificFeatureAndProximityUseBaseline(t *testing.T) {
	assert.Equal(t, domain.DefaultRRFWeights(), Resolve(domain.QuerySpecificFeature))
	assert.Equal(t, domain.DefaultRRFWeights(), Resolve(domain.QueryProximity))
}
