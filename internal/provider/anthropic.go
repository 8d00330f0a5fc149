package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL   = "https://api.anthropic.com/v1/messages"
	anthropicVersion   = "2023-06-01"
	anthropicInitDelay = 2 * time.Second
	maxErrorBodyLen    = 512
)

// Anthropic calls the Messages API.
type Anthropic struct {
	apiKey     string
	model      string
	baseURL    string
	maxRetries int
	client     *http.Client
}

type AnthropicOption func(*Anthropic)

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) AnthropicOption {
	return func(a *Anthropic) { a.baseURL = u }
}

// WithRetries enables in-call retries on 429 and 5xx. Report generation runs
// with zero: a failed call is refunded and the user resubmits.
func WithRetries(n int) AnthropicOption {
	return func(a *Anthropic) { a.maxRetries = n }
}

func WithHTTPClient(c *http.Client) AnthropicOption {
	return func(a *Anthropic) { a.client = c }
}

func NewAnthropic(apiKey, model string, opts ...AnthropicOption) *Anthropic {
	a := &Anthropic{
		apiKey:  apiKey,
		model:   model,
		baseURL: anthropicBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (a *Anthropic) Generate(ctx context.Context, p Prompt, maxOutput int) (string, error) {
	if a.apiKey == "" {
		return "", &Error{Message: "ANTHROPIC_API_KEY not set"}
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     a.model,
		MaxTokens: maxOutput,
		System:    p.System,
		Messages:  []anthropicMessage{{Role: "user", Content: p.User}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr *Error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * anthropicInitDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &Error{Message: "canceled while backing off", Err: ctx.Err()}
			}
		}

		text, err := a.do(ctx, body)
		if err == nil {
			return text, nil
		}
		var pe *Error
		if !errors.As(err, &pe) || !pe.Retryable {
			return "", err
		}
		lastErr = pe
	}
	return "", lastErr
}

func (a *Anthropic) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &Error{Retryable: ctx.Err() == nil, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Retryable: true, Message: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen] + "..."
		}
		return "", &Error{
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Message:    msg,
		}
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &Error{StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}

	var b strings.Builder
	for _, c := range apiResp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}
