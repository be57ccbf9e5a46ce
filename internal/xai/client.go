// Package xai is a small client for the xAI REST API: chat completions and
// image generation. Both endpoints take a bearer API key.
package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.x.ai/v1"

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// ImagePromptLimit is the longest prompt the image endpoint accepts.
const ImagePromptLimit = 1024

// ErrNoChoices is returned when a completion response carries no choices.
var ErrNoChoices = errors.New("no choices in completion response")

// ErrNoImage is returned when an image response carries no URL.
var ErrNoImage = errors.New("no image url in response")

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("xai api error (status %d): %s", e.StatusCode, e.Body)
}

// Client talks to the xAI API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option mutates a Client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.BaseURL = u
		}
	}
}

// NewClient returns a client for apiKey. Per-call timeouts are applied by
// callers through the context.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    defaultBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a chat completion request and returns the decoded response.
// A response without choices fails with ErrNoChoices.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	var out ChatResponse
	if err := c.post(ctx, "/chat/completions", req, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, ErrNoChoices
	}
	return &out, nil
}

// GenerateImage asks for one image and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string) (string, error) {
	if len(prompt) > ImagePromptLimit {
		return "", fmt.Errorf("image prompt is %d chars, limit %d", len(prompt), ImagePromptLimit)
	}
	req := ImageRequest{Model: model, Prompt: prompt, N: 1, ResponseFormat: "url"}
	var out ImageResponse
	if err := c.post(ctx, "/images/generations", req, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].URL) == "" {
		return "", ErrNoImage
	}
	return out.Data[0].URL, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b := string(respBytes)
		if len(b) > maxErrorBody {
			b = b[:maxErrorBody]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: b}
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
