// Package modelclient provides plain net/http JSON clients for the
// three remote models propsearch calls out to: the multimodal
// embedding model, the vision analysis model, and the query
// understanding model. They satisfy the small interfaces declared by
// pkg/providers, pkg/vision and pkg/query so those packages stay
// transport-agnostic and testable against fakes.
package modelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hybridrealty/propsearch/pkg/domain"
)

// Client is a thin wrapper over an HTTP endpoint and API key shared by
// all three model calls below.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func New(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("modelclient: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("modelclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("modelclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("modelclient: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("modelclient: %s returned %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("modelclient: decode response: %w", err)
	}
	return nil
}

// EmbedText implements providers.TextEmbedder.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Vector []float32 `json:"vector"`
	}
	if err := c.post(ctx, "/v1/embed/text", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out.Vector, nil
}

// EmbedImage implements providers.ImageEmbedder.
func (c *Client) EmbedImage(ctx context.Context, imageBytes []byte) ([]float32, error) {
	var out struct {
		Vector []float32 `json:"vector"`
	}
	req := map[string]string{"image_base64": base64.StdEncoding.EncodeToString(imageBytes)}
	if err := c.post(ctx, "/v1/embed/image", req, &out); err != nil {
		return nil, err
	}
	return out.Vector, nil
}

// Analyze implements vision.ModelClient.
func (c *Client) Analyze(ctx context.Context, imageBytes []byte, prompt string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	req := map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(imageBytes),
		"prompt":       prompt,
	}
	if err := c.post(ctx, "/v1/vision/analyze", req, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// Classify implements query.LLMClassifier.
func (c *Client) Classify(ctx context.Context, query string) (domain.Constraints, error) {
	var out domain.Constraints
	if err := c.post(ctx, "/v1/query/classify", map[string]string{"query": query}, &out); err != nil {
		return domain.Constraints{}, err
	}
	return out, nil
}

// Downloader fetches listing photos over plain HTTP.
type Downloader struct {
	httpClient *http.Client
}

func NewDownloader(timeout time.Duration) *Downloader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Downloader{httpClient: &http.Client{Timeout: timeout}}
}

// Download implements ingest.ImageDownloader.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("modelclient: build download request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modelclient: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("modelclient: download %s returned %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
