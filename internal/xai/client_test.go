package xai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

// roundTripFunc allows using a function as an HTTP RoundTripper.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func respond(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}
}

func newTestClient(fn roundTripFunc) *Client {
	return NewClient("key", WithBaseURL("http://xai.local/v1/"), WithHTTPClient(&http.Client{Transport: fn}))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("k")
	if c.BaseURL != defaultBaseURL || c.APIKey != "k" || c.HTTPClient == nil {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	WithBaseURL("  ")(c)
	WithHTTPClient(nil)(c)
	if c.BaseURL != defaultBaseURL || c.HTTPClient == nil {
		t.Fatalf("empty options should be ignored")
	}
}

func TestComplete_SendsRequest_ReturnsContent(t *testing.T) {
	var got ChatRequest
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "http://xai.local/v1/chat/completions" {
			t.Fatalf("unexpected url %s", req.URL)
		}
		if req.Header.Get("Authorization") != "Bearer key" {
			t.Fatalf("missing bearer header")
		}
		_ = json.NewDecoder(req.Body).Decode(&got)
		return respond(200, `{"id":"1","model":"grok-3-mini","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"total_tokens":3}}`), nil
	})
	resp, err := c.Complete(context.Background(), ChatRequest{
		Model:       "grok-3-mini",
		Messages:    []Message{{Role: "user", Content: "q"}},
		Temperature: Float(0.1),
		MaxTokens:   2000,
		Tools:       []Tool{WebSearchTool()},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi" || resp.Usage.TotalTokens != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.Model != "grok-3-mini" || got.MaxTokens != 2000 || got.Temperature == nil || *got.Temperature != 0.1 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Tools) != 1 || got.Tools[0].Function.Name != "web_search" {
		t.Fatalf("web_search tool not sent: %+v", got.Tools)
	}
}

func TestComplete_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		c := newTestClient(func(*http.Request) (*http.Response, error) {
			return respond(429, strings.Repeat("x", 2000)), nil
		})
		_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != 429 || len(se.Body) != maxErrorBody {
			t.Fatalf("expected truncated 429 StatusError, got %v", err)
		}
	})
	t.Run("no choices", func(t *testing.T) {
		c := newTestClient(func(*http.Request) (*http.Response, error) {
			return respond(200, `{"choices":[]}`), nil
		})
		if _, err := c.Complete(context.Background(), ChatRequest{Model: "m"}); !errors.Is(err, ErrNoChoices) {
			t.Fatalf("expected ErrNoChoices, got %v", err)
		}
	})
	t.Run("bad json", func(t *testing.T) {
		c := newTestClient(func(*http.Request) (*http.Response, error) {
			return respond(200, `{`), nil
		})
		if _, err := c.Complete(context.Background(), ChatRequest{Model: "m"}); err == nil {
			t.Fatalf("expected decode error")
		}
	})
	t.Run("transport", func(t *testing.T) {
		c := newTestClient(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("dial failed")
		})
		if _, err := c.Complete(context.Background(), ChatRequest{Model: "m"}); err == nil || !strings.Contains(err.Error(), "dial failed") {
			t.Fatalf("expected transport error, got %v", err)
		}
	})
	t.Run("missing model and key", func(t *testing.T) {
		c := newTestClient(nil)
		if _, err := c.Complete(context.Background(), ChatRequest{}); err == nil {
			t.Fatalf("expected model error")
		}
		c.APIKey = ""
		if _, err := c.Complete(context.Background(), ChatRequest{Model: "m"}); err == nil {
			t.Fatalf("expected api key error")
		}
	})
}

func TestGenerateImage(t *testing.T) {
	var got ImageRequest
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/images/generations") {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		_ = json.NewDecoder(req.Body).Decode(&got)
		return respond(200, `{"data":[{"url":"https://img/1.png"}]}`), nil
	})
	u, err := c.GenerateImage(context.Background(), "grok-2-image", "peace")
	if err != nil || u != "https://img/1.png" {
		t.Fatalf("GenerateImage = (%q, %v)", u, err)
	}
	if got.Model != "grok-2-image" || got.Prompt != "peace" || got.ResponseFormat != "url" {
		t.Fatalf("unexpected image request: %+v", got)
	}
}

func TestGenerateImage_Errors(t *testing.T) {
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		return respond(200, `{"data":[]}`), nil
	})
	if _, err := c.GenerateImage(context.Background(), "m", "p"); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := c.GenerateImage(context.Background(), "m", strings.Repeat("p", ImagePromptLimit+1)); err == nil {
		t.Fatalf("expected prompt length error")
	}
}
