// Package llm provides Ollama-backed chat and embedding clients. The hosted
// model is treated as potentially unavailable or rate-limited: calls go
// through a token-bucket limiter and a circuit breaker, and every request
// carries the caller's context deadline.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/FloatChatAI/floatchat-engine/pkg/resilience"
)

// Opts configures a Client.
type Opts struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	// RatePerSec bounds outbound calls; zero means 5/s.
	RatePerSec float64
	Timeout    time.Duration
}

// Client talks to one Ollama instance for both chat and embeddings.
type Client struct {
	baseURL    string
	chatModel  string
	embedModel string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
}

// New creates a Client.
func New(opts Opts) *Client {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    opts.BaseURL,
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		client:     &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// Version identifies the embedding function. Vectors produced under one
// version are never compared against another.
func (c *Client) Version() string { return c.embedModel }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResp struct {
	Message chatMessage `json:"message"`
}

// Chat sends a system and user message and returns the model's reply.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	var out string
	err := c.guarded(ctx, func(ctx context.Context) error {
		body, _ := json.Marshal(chatReq{
			Model: c.chatModel,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		})
		var result chatResp
		if err := c.post(ctx, "/api/chat", body, &result); err != nil {
			return err
		}
		out = result.Message.Content
		return nil
	})
	return out, err
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.guarded(ctx, func(ctx context.Context) error {
		body, _ := json.Marshal(embedReq{Model: c.embedModel, Prompt: text})
		var result embedResp
		if err := c.post(ctx, "/api/embeddings", body, &result); err != nil {
			return err
		}
		out = make([]float32, len(result.Embedding))
		for i, v := range result.Embedding {
			out[i] = float32(v)
		}
		return nil
	})
	return out, err
}

func (c *Client) guarded(ctx context.Context, f func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.breaker.Call(ctx, f)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("llm %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("llm %s decode: %w", path, err)
	}
	return nil
}
