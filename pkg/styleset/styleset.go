// Package styleset implements the closed architecture-style set S and
// the Style Resolver (C7, §3.3, §4.7): mapping colloquial style terms
// to the supported set via exact match, synonym dictionary, Tier-1
// family expansion, substring matching, and finally an LLM fallback.
//
// The match cascade mirrors the teacher's semantic-router sparse/exact
// matching shape (pkg/semantic-router/sparse.go): try cheap
// deterministic matches first, fall back to a model only when those
// all miss.
package styleset

import "strings"

// Method names how a style was resolved (§4.7).
type Method string

const (
	MethodExact    Method = "exact"
	MethodSynonym  Method = "synonym"
	MethodFamily   Method = "family"
	MethodPartial  Method = "partial"
	MethodLLM      Method = "llm"
	MethodNone     Method = "none"
)

// Resolution is the result of Resolve (§4.7).
type Resolution struct {
	Styles     []string
	Confidence float64
	Method     Method
}

// Set is the closed architecture-style set S plus its synonym
// dictionary D and Tier-1 family map F (§3.3).
type Set struct {
	// tier1 holds every Tier-1 style token.
	tier1 map[string]struct{}
	// tier2Parent maps a Tier-2 token to its Tier-1 parent.
	tier2Parent map[string]string
	// family maps a Tier-1 token to itself plus all its Tier-2 children.
	family map[string][]string
	// synonyms maps a colloquial term to one or more supported styles.
	synonyms map[string][]string
	// all is the full closed set S (tier1 ∪ tier2), for membership and
	// substring matching.
	all []string
}

// LLMResolver is invoked only when steps 1-4 of §4.7 all miss. It is
// bounded (small input, single call) and must return a subset of S.
type LLMResolver interface {
	ResolveStyle(userInput string) (styles []string, confidence float64, err error)
}

// New builds the default supported-style set: 30 Tier-1 styles, 21
// Tier-2 styles each parented by a Tier-1 member, and a synonym
// dictionary of common colloquial terms.
func New() *Set {
	s := &Set{
		tier1:       map[string]struct{}{},
		tier2Parent: map[string]string{},
		family:      map[string][]string{},
		synonyms:    map[string][]string{},
	}

	tier1 := []string{
		"modern", "craftsman", "ranch", "colonial", "victorian", "tudor",
		"mediterranean", "contemporary", "farmhouse", "cape_cod",
		"cottage", "bungalow", "georgian", "federal", "art_deco",
		"spanish", "prairie", "gothic_revival", "italianate", "saltbox",
		"log_cabin", "a_frame", "split_level", "shotgun", "shingle",
		"greek_revival", "queen_anne", "industrial", "brutalist",
		"mid_century_modern",
	}
	for _, t := range tier1 {
		s.addTier1(t)
	}

	tier2 := map[string]string{
		"craftsman_bungalow":    "craftsman",
		"california_craftsman":  "craftsman",
		"victorian_queen_anne":  "victorian",
		"victorian_gothic":      "victorian",
		"victorian_italianate":  "victorian",
		"ranch_style":           "ranch",
		"california_ranch":      "ranch",
		"raised_ranch":          "ranch",
		"dutch_colonial":        "colonial",
		"spanish_colonial":      "colonial",
		"georgian_colonial":     "colonial",
		"tudor_revival":         "tudor",
		"mediterranean_revival": "mediterranean",
		"spanish_mission":       "spanish",
		"spanish_revival":       "spanish",
		"modern_farmhouse":      "farmhouse",
		"mid_century_ranch":     "mid_century_modern",
		"mid_century_bungalow":  "mid_century_modern",
		"art_deco_revival":      "art_deco",
		"prairie_style":         "prairie",
		"contemporary_modern":   "contemporary",
	}
	for child, parent := range tier2 {
		s.addTier2(child, parent)
	}

	synonyms := map[string][]string{
		"eichler":      {"mid_century_modern"},
		"mcm":          {"mid_century_modern"},
		"mid-century":  {"mid_century_modern"},
		"midcentury":   {"mid_century_modern"},
		"craftsman style": {"craftsman"},
		"arts and crafts": {"craftsman"},
		"cape cod":     {"cape_cod"},
		"a-frame":      {"a_frame"},
		"split level":  {"split_level"},
		"deco":         {"art_deco"},
		"spanish style": {"spanish"},
		"mcmansion":    {"contemporary"},
	}
	for k, v := range synonyms {
		s.synonyms[normalize(k)] = v
	}

	return s
}

func (s *Set) addTier1(t string) {
	t = normalize(t)
	s.tier1[t] = struct{}{}
	s.family[t] = append(s.family[t], t)
	s.all = append(s.all, t)
}

func (s *Set) addTier2(child, parent string) {
	child, parent = normalize(child), normalize(parent)
	s.tier2Parent[child] = parent
	s.family[parent] = append(s.family[parent], child)
	s.all = append(s.all, child)
}

// Contains reports whether token belongs to the closed set S.
func (s *Set) Contains(token string) bool {
	token = normalize(token)
	if _, ok := s.tier1[token]; ok {
		return true
	}
	_, ok := s.tier2Parent[token]
	return ok
}

// ParentOf returns the Tier-1 parent of a style token (itself, if it
// is already Tier-1).
func (s *Set) ParentOf(token string) string {
	token = normalize(token)
	if parent, ok := s.tier2Parent[token]; ok {
		return parent
	}
	return token
}

// Family returns the Tier-1 token plus all of its Tier-2 children.
func (s *Set) Family(tier1Token string) []string {
	return s.family[normalize(tier1Token)]
}

// Resolve implements the §4.7 resolution cascade. llm may be nil, in
// which case step 5 is skipped and a miss resolves to MethodNone with
// zero confidence (the deterministic-fallback posture of §4.6).
func (s *Set) Resolve(userInput string, llm LLMResolver) Resolution {
	input := normalize(userInput)
	if input == "" {
		return Resolution{Method: MethodNone}
	}

	// 1. Exact match.
	if s.Contains(input) {
		return Resolution{Styles: []string{input}, Confidence: 1.0, Method: MethodExact}
	}

	// 2. Synonym dictionary.
	if styles, ok := s.synonyms[input]; ok {
		return Resolution{Styles: styles, Confidence: 0.9, Method: MethodSynonym}
	}

	// 3. Family expansion: input is a Tier-1 key.
	if family, ok := s.family[input]; ok && len(family) > 0 {
		return Resolution{Styles: family, Confidence: 0.85, Method: MethodFamily}
	}

	// 4. Substring/partial match over S.
	if matches := s.partialMatches(input); len(matches) > 0 {
		return Resolution{Styles: matches, Confidence: 0.7, Method: MethodPartial}
	}

	// 5. LLM fallback, bounded to this single ambiguous case.
	if llm != nil {
		if styles, confidence, err := llm.ResolveStyle(userInput); err == nil && len(styles) > 0 {
			filtered := make([]string, 0, len(styles))
			for _, st := range styles {
				if s.Contains(st) {
					filtered = append(filtered, normalize(st))
				}
			}
			if len(filtered) > 0 {
				return Resolution{Styles: filtered, Confidence: confidence, Method: MethodLLM}
			}
		}
	}

	return Resolution{Method: MethodNone}
}

func (s *Set) partialMatches(input string) []string {
	var matches []string
	for _, token := range s.all {
		if strings.Contains(token, input) || strings.Contains(input, token) {
			matches = append(matches, token)
		}
	}
	return matches
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.Join(strings.Fields(s), "_")
	return s
}
