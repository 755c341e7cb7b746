package styleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatch(t *testing.T) {
	s := New()
	res := s.Resolve("craftsman", nil)
	assert.Equal(t, MethodExact, res.Method)
	assert.Equal(t, 1.0, res.Confidence)
	require.Len(t, res.Styles, 1)
	assert.Equal(t, "craftsman", res.Styles[0])
}

func TestResolveExactMatchTier2(t *testing.T) {
	s := New()
	res := s.Resolve("craftsman_bungalow", nil)
	assert.Equal(t, MethodExact, res.Method)
	assert.Equal(t, []string{"craftsman_bungalow"}, res.Styles)
}

func TestResolveSynonym(t *testing.T) {
	s := New()
	res := s.Resolve("eichler", nil)
	assert.Equal(t, MethodSynonym, res.Method)
	assert.GreaterOrEqual(t, res.Confidence, 0.85)
	assert.Contains(t, res.Styles, "mid_century_modern")
}

func TestResolveSynonymHyphenated(t *testing.T) {
	s := New()
	res := s.Resolve("mid-century", nil)
	assert.Equal(t, MethodSynonym, res.Method)
	assert.Contains(t, res.Styles, "mid_century_modern")
}

func TestResolveTier1KeyResolvesExactlyBeforeFamilyExpansion(t *testing.T) {
	s := New()
	res := s.Resolve("victorian", nil)
	assert.Equal(t, MethodExact, res.Method, "a Tier-1 token is itself a member of S, so it resolves exactly")
	assert.Contains(t, res.Styles, "victorian")
}

func TestResolvePartialMatch(t *testing.T) {
	s := New()
	res := s.Resolve("craftsmanish", nil)
	assert.Equal(t, MethodPartial, res.Method)
	assert.NotEmpty(t, res.Styles)
}

func TestResolveLLMFallback(t *testing.T) {
	s := New()
	llm := fakeLLM{styles: []string{"tudor"}, confidence: 0.6}
	res := s.Resolve("ye olde english thing", llm)
	assert.Equal(t, MethodLLM, res.Method)
	assert.Equal(t, []string{"tudor"}, res.Styles)
}

func TestResolveNoMatch(t *testing.T) {
	s := New()
	res := s.Resolve("xyzzyplugh", nil)
	assert.Equal(t, MethodNone, res.Method)
	assert.Empty(t, res.Styles)
}

func TestResolveEmptyInput(t *testing.T) {
	s := New()
	res := s.Resolve("", nil)
	assert.Equal(t, MethodNone, res.Method)
}

func TestFamilyIncludesParentAndChildren(t *testing.T) {
	s := New()
	family := s.Family("craftsman")
	assert.Contains(t, family, "craftsman")
	assert.Contains(t, family, "craftsman_bungalow")
}

func TestParentOf(t *testing.T) {
	s := New()
	assert.Equal(t, "craftsman", s.ParentOf("craftsman_bungalow"))
	assert.Equal(t, "craftsman", s.ParentOf("craftsman"))
}

type fakeLLM struct {
	styles     []string
	confidence float64
}

func (f fakeLLM) ResolveStyle(string) ([]string, float64, error) {
	return f.styles, f.confidence, nil
}
