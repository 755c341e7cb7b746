// Package vision implements the Vision Analyzer (C2, §4.2): turning a
// raw model response into the fixed JSON contract used by ingestion,
// tolerating both bare JSON and ```json fenced responses, and falling
// back to a minimal record rather than failing the caller.
package vision

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hybridrealty/propsearch/internal/backoff"
	"github.com/hybridrealty/propsearch/pkg/cache"
	"github.com/hybridrealty/propsearch/pkg/logging"
)

// Analysis is an alias of cache.VisionAnalysis; see that type for field
// meaning. It names the wire contract this package parses into, so no
// conversion is needed when ingestion caches it.
type Analysis = cache.VisionAnalysis

// ModelClient is the raw model call this package wraps with retry,
// parsing and fallback. It returns the model's raw text response.
type ModelClient interface {
	Analyze(ctx context.Context, imageBytes []byte, prompt string) (string, error)
}

const defaultPrompt = `Describe this real estate photo. Respond with a single JSON object with keys:
image_type (exterior|interior|detail|floorplan|backyard|unknown), features (array of strings),
architecture_style (string, optional), exterior_color (string, optional), materials (array of strings),
visual_features (array of strings), room_type (string, optional), confidence (low|medium|high).`

// Analyzer calls a vision model with retry and normalizes its output.
type Analyzer struct {
	client  ModelClient
	modelID string
	retry   backoff.Config
	log     logging.Logger
}

func New(client ModelClient, modelID string, log logging.Logger) *Analyzer {
	if log == nil {
		log = logging.Nop()
	}
	return &Analyzer{client: client, modelID: modelID, retry: backoff.DefaultConfig(), log: log}
}

// ModelID identifies the vision model whose output a cached analysis
// was computed with (I6's analysis-side counterpart to the embedding
// model id).
func (a *Analyzer) ModelID() string { return a.modelID }

// Analyze runs the model call with exponential backoff (N=5 attempts,
// base 0.5s, cap 8s — backoff.DefaultConfig) and parses the result. It
// never returns an error to the caller: a failed call or an
// unparseable response both resolve to the minimal fallback record of
// §4.2 ("every photo gets analyzed, badly if necessary"). The model's
// raw response text is always returned alongside the parsed analysis
// so callers can persist it for audit/debugging even when parsing
// fails.
func (a *Analyzer) Analyze(ctx context.Context, imageBytes []byte) (Analysis, string) {
	var raw string
	err := backoff.Retry(ctx, a.retry, isRetryable, func() error {
		out, err := a.client.Analyze(ctx, imageBytes, defaultPrompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		a.log.Warn("vision: model call failed after retries, using fallback", "error", err)
		return fallback(), raw
	}

	analysis, ok := parse(raw)
	if !ok {
		a.log.Warn("vision: could not parse model response, using fallback")
		return fallback(), raw
	}
	return analysis, raw
}

func isRetryable(err error) bool {
	// The model client is expected to distinguish rate-limit/timeout
	// conditions; absent a typed error this package retries everything
	// transient-looking rather than risk giving up on a flaky call.
	return err != nil
}

func fallback() Analysis {
	return Analysis{ImageType: "unknown", Features: []string{}, Confidence: "low"}
}

// parse accepts either a bare JSON object or one fenced in a ```json
// code block, per §4.2.
func parse(raw string) (Analysis, bool) {
	body := extractJSON(raw)
	if body == "" {
		return Analysis{}, false
	}
	var a Analysis
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		return Analysis{}, false
	}
	lowercase(&a)
	return a, true
}

func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return ""
	}
	return trimmed[start : end+1]
}

// lowercase recursively lowercases every string field/element per §4.2
// so downstream tag aggregation never has to case-fold.
func lowercase(a *Analysis) {
	a.ImageType = strings.ToLower(a.ImageType)
	a.ArchitectureStyle = strings.ToLower(a.ArchitectureStyle)
	a.ExteriorColor = strings.ToLower(a.ExteriorColor)
	a.RoomType = strings.ToLower(a.RoomType)
	a.Confidence = strings.ToLower(a.Confidence)
	a.Features = lowerAll(a.Features)
	a.Materials = lowerAll(a.Materials)
	a.VisualFeatures = lowerAll(a.VisualFeatures)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
