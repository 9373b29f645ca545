// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kb-assistant-go/internal/config"
	"kb-assistant-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyEmbedding is returned when the provider answers without a vector.
var ErrEmptyEmbedding = errors.New("received empty embedding from api")

// StatusError is a non-retryable HTTP failure from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding api returned status %d: %s", e.StatusCode, e.Body)
}

// baseRetryDelay is the first backoff step; it doubles per attempt up to maxRetryDelay.
var (
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new OpenAI-compatible embedding client.
func NewClient(cfg config.EmbeddingConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// CreateEmbedding calls the embeddings endpoint, retrying on transport errors,
// 429 and 5xx responses with exponential backoff.
func (c *openAICompatibleClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	reqBytes, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      []string{text},
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, lastErr, attempt-1); err != nil {
				return nil, err
			}
		}
		vec, retry, err := c.do(ctx, reqBytes)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !retry {
			break
		}
		log.Warnf("[EmbeddingClient] 调用 Embedding API 失败, attempt: %d, error: %v", attempt+1, err)
	}
	log.Errorf("[EmbeddingClient] Embedding API 调用最终失败, model: %s, error: %v", c.cfg.Model, lastErr)
	return nil, lastErr
}

type retryAfterError struct {
	error
	wait time.Duration
}

func (e retryAfterError) Unwrap() error { return e.error }

func (c *openAICompatibleClient) do(ctx context.Context, body []byte) ([]float32, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(payload)}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return nil, true, retryAfterError{error: statusErr, wait: time.Duration(secs) * time.Second}
		}
		return nil, true, statusErr
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, &StatusError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var embeddingResp embeddingResponse
	if err := json.Unmarshal(payload, &embeddingResp); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		return nil, false, ErrEmptyEmbedding
	}
	return embeddingResp.Data[0].Embedding, false, nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := baseRetryDelay << attempt
	if d > maxRetryDelay || d <= 0 {
		d = maxRetryDelay
	}
	return d
}

func sleep(ctx context.Context, lastErr error, attempt int) error {
	d := retryDelay(attempt)
	var ra retryAfterError
	if errors.As(lastErr, &ra) {
		d = ra.wait
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
