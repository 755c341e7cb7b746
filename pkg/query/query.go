// Package query implements Query Understanding (C6): turning a free
// text search string into a domain.Constraints object, via an LLM
// primary path with a deterministic rule-based fallback so the search
// path degrades gracefully rather than failing outright.
package query

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hybridrealty/propsearch/pkg/domain"
	"github.com/hybridrealty/propsearch/pkg/logging"
	"github.com/hybridrealty/propsearch/pkg/styleset"
)

// LLMClassifier is the primary path: a model call that returns a
// structured classification of the query.
type LLMClassifier interface {
	Classify(ctx context.Context, query string) (domain.Constraints, error)
}

// Understander resolves a query string to Constraints.
type Understander struct {
	llm    LLMClassifier
	styles *styleset.Set
	log    logging.Logger
}

func New(llm LLMClassifier, styles *styleset.Set, log logging.Logger) *Understander {
	if log == nil {
		log = logging.Nop()
	}
	if styles == nil {
		styles = styleset.New()
	}
	return &Understander{llm: llm, styles: styles, log: log}
}

// Understand returns the classified constraints for a query. If an
// LLM classifier is configured and succeeds, its result is normalized
// the same way the fallback path is; otherwise the deterministic
// rule-based fallback runs.
func (u *Understander) Understand(ctx context.Context, q string) domain.Constraints {
	if u.llm != nil {
		if c, err := u.llm.Classify(ctx, q); err == nil {
			return u.normalize(c)
		} else {
			u.log.Warn("query: llm classification failed, falling back to rules", "error", err)
		}
	}
	return u.fallback(q)
}

// normalize applies §4.6's primary-path normalization to an LLM's raw
// classification: lowercase and underscore tags, pipe architecture_style
// through the Style Resolver, and drop hard_filters bounds that can't
// produce a usable numeric range.
func (u *Understander) normalize(c domain.Constraints) domain.Constraints {
	c.MustHave = normalizeTags(c.MustHave)
	c.NiceToHave = normalizeTags(c.NiceToHave)

	if c.ArchitectureStyle != "" {
		res := u.styles.Resolve(strings.ToLower(c.ArchitectureStyle), nil)
		if res.Method != styleset.MethodNone {
			c.ArchitectureStyle = res.Styles[0]
		} else {
			c.ArchitectureStyle = ""
		}
	}

	c.HardFilters = validateHardFilters(c.HardFilters)
	return c
}

// normalizeTags lowercases and underscore-joins each tag so LLM output
// matches the tag vocabulary produced by ingestion (§4.5 step 5).
func normalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), " ", "_"))
	}
	return out
}

// validateHardFilters drops any numeric bound that is non-finite or
// below zero; it cannot carry non-numeric values in Go's typed struct,
// so this only needs to reject values no legitimate filter would have.
func validateHardFilters(hf domain.HardFilters) domain.HardFilters {
	hf.PriceMin = validInt(hf.PriceMin)
	hf.PriceMax = validInt(hf.PriceMax)
	hf.BedsMin = validFloat(hf.BedsMin)
	hf.BedsMax = validFloat(hf.BedsMax)
	hf.BathsMin = validFloat(hf.BathsMin)
	hf.BathsMax = validFloat(hf.BathsMax)
	hf.LivingAreaMin = validFloat(hf.LivingAreaMin)
	hf.LivingAreaMax = validFloat(hf.LivingAreaMax)
	return hf
}

func validInt(v *int64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func validFloat(v *float64) *float64 {
	if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

var (
	bedroomPattern  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:bed|bedroom|br)\b`)
	bathroomPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:bath|bathroom|ba)\b`)
	priceUnderPat   = regexp.MustCompile(`under\s+\$?([\d,]+)(k|m)?`)
	priceOverPat    = regexp.MustCompile(`(?:over|above)\s+\$?([\d,]+)(k|m)?`)
	priceBetweenPat = regexp.MustCompile(`between\s+\$?([\d,]+)(k|m)?\s+and\s+\$?([\d,]+)(k|m)?`)
)

var colorWords = []string{
	"white", "black", "gray", "grey", "red", "blue", "green", "yellow",
	"brown", "beige", "tan", "cream", "navy", "brick red",
}

var materialWords = []string{
	"brick", "stone", "stucco", "wood", "vinyl siding", "granite",
	"marble", "hardwood", "tile", "concrete", "steel", "glass",
}

var featureWords = []string{
	"pool", "garage", "fireplace", "deck", "patio", "basement",
	"fenced yard", "solar panels", "balcony", "home office",
	"walk-in closet", "open floor plan", "central air", "waterfront",
}

var proximityPattern = regexp.MustCompile(`near\s+(?:a\s+|the\s+)?([a-z][a-z\s]*)`)

// fallback implements the deterministic rules: numeric phrase
// detection into hard filters, style-token detection via the style
// resolver, color/material/feature word detection into must_have, and
// a query-type classification that never hallucinates must_have tags
// for a purely locational query.
func (u *Understander) fallback(q string) domain.Constraints {
	lower := strings.ToLower(q)
	var c domain.Constraints

	if m := bedroomPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.HardFilters.BedsMin = &v
		}
	}
	if m := bathroomPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.HardFilters.BathsMin = &v
		}
	}
	if m := priceBetweenPat.FindStringSubmatch(lower); m != nil {
		lo := parseMoney(m[1], m[2])
		hi := parseMoney(m[3], m[4])
		c.HardFilters.PriceMin, c.HardFilters.PriceMax = &lo, &hi
	} else {
		if m := priceUnderPat.FindStringSubmatch(lower); m != nil {
			v := parseMoney(m[1], m[2])
			c.HardFilters.PriceMax = &v
		}
		if m := priceOverPat.FindStringSubmatch(lower); m != nil {
			v := parseMoney(m[1], m[2])
			c.HardFilters.PriceMin = &v
		}
	}

	var mustHave []string
	var sawColorOrMaterial, sawFeature bool
	for _, w := range colorWords {
		if strings.Contains(lower, w) {
			mustHave = append(mustHave, strings.ReplaceAll(w, " ", "_")+"_exterior")
			sawColorOrMaterial = true
		}
	}
	for _, w := range materialWords {
		if strings.Contains(lower, w) {
			mustHave = append(mustHave, strings.ReplaceAll(w, " ", "_")+"_countertops")
			sawColorOrMaterial = true
		}
	}
	for _, w := range featureWords {
		if strings.Contains(lower, w) {
			mustHave = append(mustHave, strings.ReplaceAll(w, " ", "_"))
			sawFeature = true
		}
	}

	var sawStyle bool
	for _, word := range candidateStylePhrases(lower) {
		res := u.styles.Resolve(word, nil)
		if res.Method != styleset.MethodNone {
			c.ArchitectureStyle = res.Styles[0]
			sawStyle = true
			break
		}
	}

	if m := proximityPattern.FindStringSubmatch(lower); m != nil {
		poi := strings.TrimSpace(m[1])
		c.Proximity = &domain.Proximity{POIType: poi}
	}

	c.MustHave = mustHave

	switch {
	case sawColorOrMaterial:
		c.QueryType = classifyColorOrMaterial(lower)
	case sawStyle && !sawFeature:
		c.QueryType = domain.QueryVisualStyle
	case c.Proximity != nil:
		c.QueryType = domain.QueryProximity
	case sawFeature:
		c.QueryType = domain.QuerySpecificFeature
	default:
		c.QueryType = domain.QueryGeneral
	}

	return c
}

// classifyColorOrMaterial picks between the two per §4.6's stated rule
// order: a color word present classifies the query as color even when
// a material word is also present (E1: "white house with granite
// countertops" is query_type=color, not material).
func classifyColorOrMaterial(lower string) domain.QueryType {
	for _, w := range colorWords {
		if strings.Contains(lower, w) {
			return domain.QueryColor
		}
	}
	return domain.QueryMaterial
}

// candidateStylePhrases extracts whitespace-delimited n-grams (1-2
// words) as candidate style tokens; cheap and good enough since the
// resolver itself tolerates noise via partial matching.
func candidateStylePhrases(lower string) []string {
	words := strings.Fields(lower)
	var out []string
	for i, w := range words {
		if len(w) >= 4 {
			out = append(out, w)
		}
		if i+1 < len(words) {
			out = append(out, w+" "+words[i+1])
		}
	}
	return out
}

func parseMoney(digits, suffix string) int64 {
	digits = strings.ReplaceAll(digits, ",", "")
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	switch suffix {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return v
}
