package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_videochat/internal/engine"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingConfig configures an OpenAI-compatible embeddings client.
type EmbeddingConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	BatchSize  int
	RPS        float64       // request pacing; <= 0 disables it
	Timeout    time.Duration // per HTTP attempt
	MaxTries   uint
	HTTPClient *http.Client
}

// EmbeddingClient calls POST {BaseURL}/embeddings. Safe for concurrent use.
type EmbeddingClient struct {
	baseURL   string
	apiKey    string
	model     string
	batchSize int
	timeout   time.Duration
	maxTries  uint
	client    *http.Client
	limiter   *rate.Limiter
}

// NewEmbeddingClient fills zero fields with defaults.
func NewEmbeddingClient(c EmbeddingConfig) *EmbeddingClient {
	if c.BaseURL == "" {
		c.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 4
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	limit := rate.Inf
	if c.RPS > 0 {
		limit = rate.Limit(c.RPS)
	}
	return &EmbeddingClient{
		baseURL:   strings.TrimRight(c.BaseURL, "/"),
		apiKey:    c.APIKey,
		model:     c.Model,
		batchSize: c.BatchSize,
		timeout:   c.Timeout,
		maxTries:  c.MaxTries,
		client:    c.HTTPClient,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder. Any failed batch fails the whole call.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *EmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	engine.IncrEmbedCalls()

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, err
	}

	operation := func() ([][]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		return c.post(ctx, body, len(texts))
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	vecs, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithMaxElapsedTime(2*time.Minute),
	)
	if err != nil {
		engine.IncrEmbedErrors()
		return nil, err
	}
	return vecs, nil
}

func (c *EmbeddingClient) post(ctx context.Context, body []byte, want int) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, errors.New("embeddings: rate limited")
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("embeddings: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, backoff.Permanent(fmt.Errorf("embeddings: HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var er embeddingResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024*1024)).Decode(&er); err != nil {
		return nil, fmt.Errorf("embeddings: decode: %w", err)
	}
	if len(er.Data) != want {
		return nil, backoff.Permanent(fmt.Errorf("embeddings: got %d vectors for %d inputs", len(er.Data), want))
	}
	sort.SliceStable(er.Data, func(i, j int) bool { return er.Data[i].Index < er.Data[j].Index })

	vecs := make([][]float32, want)
	for i, d := range er.Data {
		if len(d.Embedding) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("embeddings: empty vector at %d", i))
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
