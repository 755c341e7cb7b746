// Gemini-backed implementations of the same small interfaces
// modelclient.Client satisfies over plain HTTP. Grounded on the
// retrieved briefly repo's internal/llm.Client: a single
// *genai.Client wrapping the Google Gen AI Go SDK, constructed once
// and reused across calls, with prompts built via fmt.Sprintf rather
// than a templating engine, matching that package's style.
//
// The one departure from I9 ("a single multimodal model produces
// every vector") is EmbedImage: Gemini's embedding endpoint
// (gemini-embedding-001) is text-only, so GenaiClient does not
// implement providers.ImageEmbedder. Callers wire image embedding
// through the plain HTTP Client instead and use GenaiClient only for
// vision analysis and query understanding, both of which are genuine
// multimodal/text generation calls. See DESIGN.md.
package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

// GenaiClient wraps the Gemini SDK for the vision-analysis (C2) and
// query-understanding (C6) model calls. It satisfies vision.ModelClient
// and query.LLMClassifier; pair it with a plain Client (or another
// ImageEmbedder) for image embedding.
type GenaiClient struct {
	client       *genai.Client
	visionModel  string
	queryModel   string
	embedModel   string
}

// NewGenai builds a GenaiClient against the Gemini API. visionModel and
// queryModel name the generation models used for C2 and C6;
// embedModel names the text-embedding model used for EmbedText.
func NewGenai(ctx context.Context, apiKey, visionModel, queryModel, embedModel string) (*GenaiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("modelclient: gemini api key is required")
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("modelclient: create gemini client: %w", err)
	}
	if visionModel == "" {
		visionModel = "gemini-flash-lite-latest"
	}
	if queryModel == "" {
		queryModel = "gemini-flash-lite-latest"
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}
	return &GenaiClient{client: gClient, visionModel: visionModel, queryModel: queryModel, embedModel: embedModel}, nil
}

// EmbedText implements providers.TextEmbedder via Gemini's embedding
// endpoint, truncated to the embedding model's practical input limit
// the way briefly's GenerateEmbeddingForArticle does.
func (g *GenaiClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if len(text) > 8000 {
		text = text[:8000]
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: text}},
		Role:  "user",
	}}
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("modelclient: embed text: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("modelclient: empty embedding response")
	}
	return resp.Embeddings[0].Values, nil
}

const visionPrompt = `Describe this real estate photo. Respond with a single JSON object with keys:
image_type (exterior|interior|detail|floorplan|backyard|unknown), features (array of strings),
architecture_style (string, optional), exterior_color (string, optional), materials (array of strings),
visual_features (array of strings), room_type (string, optional), confidence (low|medium|high).
Return only the JSON object, no commentary.`

// Analyze implements vision.ModelClient by sending the image bytes as
// an inline Part alongside the fixed analysis prompt (§4.2's stable
// prompt contract), the same Contents/Part shape the teacher uses for
// text-only prompts, extended with an image Part.
func (g *GenaiClient) Analyze(ctx context.Context, imageBytes []byte, prompt string) (string, error) {
	if prompt == "" {
		prompt = visionPrompt
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: imageBytes}},
			{Text: prompt},
		},
		Role: "user",
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.visionModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("modelclient: vision analyze: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("modelclient: empty vision response")
	}
	return text, nil
}

const classifyPromptTemplate = `Decompose the following real-estate search query into a JSON object matching this schema:
{
  "must_have": [string],
  "nice_to_have": [string],
  "hard_filters": {"price_min": int?, "price_max": int?, "beds_min": float?, "beds_max": float?,
    "baths_min": float?, "baths_max": float?, "living_area_min": float?, "living_area_max": float?,
    "property_types": [string]?, "status": [string]?},
  "architecture_style": string?,
  "proximity": {"poi_type": string, "max_distance_km": float?}?,
  "query_type": "color"|"material"|"specific_feature"|"visual_style"|"proximity"|"general"
}
Lowercase every tag. Use underscores instead of spaces in tag values. Do not invent feature tags
for a purely locational query — must_have must be empty in that case. Return only the JSON object.

Query: %s`

// Classify implements query.LLMClassifier by asking Gemini to emit the
// Constraints JSON directly, requesting a JSON response via
// ResponseMIMEType; no ResponseSchema is set, so the field contract is
// carried by the prompt alone.
func (g *GenaiClient) Classify(ctx context.Context, query string) (domain.Constraints, error) {
	prompt := fmt.Sprintf(classifyPromptTemplate, query)
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	config := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	resp, err := g.client.Models.GenerateContent(ctx, g.queryModel, contents, config)
	if err != nil {
		return domain.Constraints{}, fmt.Errorf("modelclient: classify query: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return domain.Constraints{}, fmt.Errorf("modelclient: empty classify response")
	}

	var c domain.Constraints
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return domain.Constraints{}, fmt.Errorf("modelclient: decode classify response: %w", err)
	}
	return c, nil
}
