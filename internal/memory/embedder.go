package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/clawmem/internal/config"
)

const (
	embeddingProviderOpenAI    = "openai"
	embeddingProviderCustomURL = "custom-url"
	embeddingProviderNoop      = "noop"
)

// Embedder converts text into a fixed-length vector. Implementations
// may call out over the network; callers treat Embed as the only slow
// operation in the engine and never invoke it while holding a lock.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ProviderError marks a recoverable embedding-provider failure
// (timeout, auth, network). The engine degrades to keyword-only
// ranking when it sees one instead of failing the operation.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewEmbedder builds the provider selected by configuration. The
// provider set is closed: an OpenAI-compatible HTTP endpoint (hosted or
// custom-url) or the no-op zero-vector provider.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", embeddingProviderNoop:
		return &noopEmbedder{dim: cfg.Dimension}, nil
	case embeddingProviderOpenAI, embeddingProviderCustomURL:
		baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		if baseURL == "" {
			if provider == embeddingProviderCustomURL {
				return nil, fmt.Errorf("new embedder: custom-url provider requires a base url")
			}
			baseURL = "https://api.openai.com"
		}
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("new embedder: missing embedding model")
		}
		timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
		if cfg.TimeoutMs <= 0 {
			timeout = time.Duration(config.DefaultEmbeddingTimeoutMs) * time.Millisecond
		}
		return &httpEmbedder{
			baseURL:     baseURL,
			apiKey:      strings.TrimSpace(cfg.APIKey),
			model:       strings.TrimSpace(cfg.Model),
			expectedDim: cfg.Dimension,
			httpClient:  &http.Client{Timeout: timeout},
		}, nil
	default:
		return nil, fmt.Errorf("new embedder: unsupported provider: %s", cfg.Provider)
	}
}

// noopEmbedder returns zero vectors. With it the engine still works,
// degraded to pure keyword ranking.
type noopEmbedder struct {
	dim int
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	dim := n.dim
	if dim <= 0 {
		dim = config.DefaultEmbeddingDimension
	}
	return make([]float32, dim), nil
}

func (n *noopEmbedder) Dimension() int {
	if n.dim <= 0 {
		return config.DefaultEmbeddingDimension
	}
	return n.dim
}

// httpEmbedder speaks the OpenAI-compatible /v1/embeddings wire format.
type httpEmbedder struct {
	baseURL     string
	apiKey      string
	model       string
	expectedDim int
	httpClient  *http.Client
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *httpEmbedder) Dimension() int { return c.expectedDim }

func (c *httpEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: trimmed})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{Err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(decoded.Data) != 1 || len(decoded.Data[0].Embedding) == 0 {
		return nil, &ProviderError{Err: fmt.Errorf("unexpected embedding count: %d", len(decoded.Data))}
	}
	vector := decoded.Data[0].Embedding
	if c.expectedDim > 0 && len(vector) != c.expectedDim {
		return nil, &ProviderError{Err: fmt.Errorf("dimension mismatch: got %d want %d", len(vector), c.expectedDim)}
	}

	return vector, nil
}
