package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

func newTestUnderstander() *Understander {
	return New(nil, nil, nil)
}

type stubClassifier struct {
	c   domain.Constraints
	err error
}

func (s stubClassifier) Classify(context.Context, string) (domain.Constraints, error) {
	return s.c, s.err
}

func TestUnderstandNormalizesLLMOutput(t *testing.T) {
	neg := -5.0
	llm := stubClassifier{c: domain.Constraints{
		MustHave:          []string{"Granite Countertops", "WHITE EXTERIOR"},
		ArchitectureStyle: "CRAFTSMAN",
		HardFilters:       domain.HardFilters{BedsMin: &neg},
		QueryType:         domain.QueryColor,
	}}
	u := New(llm, nil, nil)

	c := u.Understand(context.Background(), "anything")
	assert.Contains(t, c.MustHave, "granite_countertops")
	assert.Contains(t, c.MustHave, "white_exterior")
	assert.Equal(t, "craftsman", c.ArchitectureStyle)
	assert.Nil(t, c.HardFilters.BedsMin)
}

func TestUnderstandFallsBackOnLLMError(t *testing.T) {
	llm := stubClassifier{err: assertError{}}
	u := New(llm, nil, nil)

	c := u.Understand(context.Background(), "3 bedroom house with pool under $500k")
	assert.Equal(t, domain.QuerySpecificFeature, c.QueryType)
}

type assertError struct{}

func (assertError) Error() string { return "classification failed" }

func TestFallbackSpecificFeatureQuery(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "3 bedroom house with pool under $500k")

	require.NotNil(t, c.HardFilters.BedsMin)
	assert.Equal(t, 3.0, *c.HardFilters.BedsMin)
	require.NotNil(t, c.HardFilters.PriceMax)
	assert.Equal(t, int64(500_000), *c.HardFilters.PriceMax)
	assert.Contains(t, c.MustHave, "pool")
	assert.Equal(t, domain.QuerySpecificFeature, c.QueryType)
}

func TestFallbackLocationOnlyQueryHasNoMustHave(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "homes in Austin Texas")

	assert.Empty(t, c.MustHave)
	assert.Equal(t, domain.QueryGeneral, c.QueryType)
}

func TestFallbackColorQuery(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "white house with a red door")

	assert.Contains(t, c.MustHave, "white_exterior")
	assert.Contains(t, c.MustHave, "red_exterior")
	assert.Equal(t, domain.QueryColor, c.QueryType)
}

func TestFallbackMaterialQuery(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "brick exterior with granite counters")

	assert.Contains(t, c.MustHave, "brick_countertops")
	assert.Contains(t, c.MustHave, "granite_countertops")
	assert.Equal(t, domain.QueryMaterial, c.QueryType)
}

func TestFallbackStyleQuery(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "craftsman style bungalow")

	assert.NotEmpty(t, c.ArchitectureStyle)
	assert.Equal(t, domain.QueryVisualStyle, c.QueryType)
}

func TestFallbackPriceBetween(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "condos between $300k and $450k")

	require.NotNil(t, c.HardFilters.PriceMin)
	require.NotNil(t, c.HardFilters.PriceMax)
	assert.Equal(t, int64(300_000), *c.HardFilters.PriceMin)
	assert.Equal(t, int64(450_000), *c.HardFilters.PriceMax)
}

func TestFallbackColorTakesPrecedenceOverStyleAndMaterial(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "modern white house with granite countertops")

	assert.Contains(t, c.MustHave, "white_exterior")
	assert.Contains(t, c.MustHave, "granite_countertops")
	assert.NotEmpty(t, c.ArchitectureStyle)
	assert.Equal(t, domain.QueryColor, c.QueryType)
}

func TestFallbackProximityQuery(t *testing.T) {
	u := newTestUnderstander()
	c := u.Understand(context.Background(), "houses near a good school")

	require.NotNil(t, c.Proximity)
	assert.Equal(t, "good school", c.Proximity.POIType)
	assert.Equal(t, domain.QueryProximity, c.QueryType)
}
