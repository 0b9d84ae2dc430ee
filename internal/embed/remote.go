package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"catsearch/internal/version"
)

// Compile-time interface check.
var _ Embedder = (*Remote)(nil)

const (
	defaultModel      = "intfloat/e5-base-v2"
	defaultDimensions = 768
	defaultEmbedURL   = "http://localhost:8080/v1/embeddings"
	maxRetries        = 3
)

// RemoteConfig configures a Remote embedder.
type RemoteConfig struct {
	URL        string        // embeddings endpoint; defaults to a local server
	APIKey     string        // optional bearer token
	Model      string        // defaults to intfloat/e5-base-v2
	Dimensions int           // defaults to 768
	Timeout    time.Duration // per-request timeout; defaults to 60s
}

// Remote embeds text through an OpenAI-compatible /v1/embeddings endpoint,
// the usual serving surface for E5-family models.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
}

// NewRemote creates an embedder for the given endpoint.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.URL == "" {
		cfg.URL = defaultEmbedURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Remote{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (r *Remote) Name() string    { return "remote:" + r.cfg.Model }
func (r *Remote) Dimensions() int { return r.cfg.Dimensions }

// Embed sends texts to the embeddings endpoint and returns vectors in
// input order. Transient failures and rate limits are retried with
// exponential backoff; other 4xx responses fail immediately.
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: r.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	var resp embedResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("embed: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())
		if r.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
		}

		httpResp, err := r.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embed: request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("embed: read response: %w", err)
			continue
		}

		if httpResp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("embed: rate limited (429)")
			continue
		}

		if httpResp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("embed: API error %d: %s", httpResp.StatusCode, string(respBody))
			// Don't retry non-retryable errors
			if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 && httpResp.StatusCode != 429 {
				return nil, lastErr
			}
			continue
		}

		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("embed: unmarshal response: %w", err)
		}

		// Success
		lastErr = nil
		break
	}

	if lastErr != nil {
		return nil, lastErr
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// Place vectors by index; servers may return the batch out of order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embed: vector index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embed: missing vector for input %d", i)
		}
	}

	return vectors, nil
}

// Embeddings API types

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []embedData `json:"data"`
}

type embedData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}
