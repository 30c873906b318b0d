// Package openrouter is the HTTP client for the OpenRouter API, which hosts
// both the embedding model and the chat model the engine uses. The API is
// OpenAI-compatible; only the two endpoints the engine needs are wrapped.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the hosted OpenRouter endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Client calls OpenRouter with bearer auth.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	chatModel  string
	client     *http.Client
}

// Config holds client construction parameters.
type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string // e.g. "text-embedding-3-large"
	ChatModel  string // e.g. "google/gemini-2.5-pro"
	Timeout    time.Duration
}

// New creates an OpenRouter client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per input text, in order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result embedResponse
	err := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: texts}, &result)
	if err != nil {
		return nil, fmt.Errorf("openrouter embed: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openrouter embed: got %d embeddings for %d inputs", len(result.Data), len(texts))
	}
	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// ChatResult is the decoded completion.
type ChatResult struct {
	Reply      string
	Model      string
	TokensUsed int
}

// Chat runs one chat completion over the given turns.
func (c *Client) Chat(ctx context.Context, messages []Message, temperature float32, maxTokens int) (*ChatResult, error) {
	var result chatResponse
	err := c.post(ctx, "/chat/completions", chatRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("openrouter chat: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("openrouter chat: empty choices")
	}
	return &ChatResult{
		Reply:      result.Choices[0].Message.Content,
		Model:      result.Model,
		TokensUsed: result.Usage.TotalTokens,
	}, nil
}

// post sends a JSON body and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
