// Package genai is the HTTP client for the generation backend. It exposes
// a streamed structured-output mode for chat, a grounded mode for
// citation-backed answers, and two small non-streamed helpers (safety
// classification and vault import normalization).
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"time"

	"github.com/cmiguez/smepro/internal/config"
)

// ErrNoCredential is returned when no API key is configured. Callers
// treat it as "AI unavailable" rather than a failure.
var ErrNoCredential = errors.New("genai: no API key configured")

// Client talks to the generation backend over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	fastModel  string
	httpClient *http.Client
}

// New creates a client from configuration.
func New(cfg config.GenAIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		chatModel: cfg.ChatModel,
		fastModel: cfg.FastModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// GenerateStream runs a schema-constrained generation and yields the raw
// text deltas in order. The stream stops at the first error; iteration
// can also be abandoned early, which closes the response body.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.apiKey == "" {
			yield("", ErrNoCredential)
			return
		}

		body := c.buildRequest(req)
		resp, err := c.post(ctx, c.model(req)+":streamGenerateContent", body)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		// The backend streams newline-delimited JSON chunks.
		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk generateResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					return
				}
				yield("", fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if delta := chunk.text(); delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
	}
}

// GenerateGrounded runs a single search-grounded generation and returns
// the answer text with its citations.
func (c *Client) GenerateGrounded(ctx context.Context, req GenerateRequest) (*GroundedResult, error) {
	if c.apiKey == "" {
		return nil, ErrNoCredential
	}
	body := c.buildRequest(req)
	body.GenerationConfig = nil
	body.Tools = []tool{{GoogleSearch: map[string]any{}}}

	parsed, err := c.generate(ctx, c.model(req), body)
	if err != nil {
		return nil, err
	}
	return &GroundedResult{Text: parsed.text(), Citations: parsed.citations()}, nil
}

// Classify asks the fast model whether a prompt is harmful.
func (c *Client) Classify(ctx context.Context, prompt string) (*Classification, error) {
	if c.apiKey == "" {
		return nil, ErrNoCredential
	}
	body := generateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{
			Text: fmt.Sprintf("Analyze the following user prompt for harmful content. Classify it based on the provided schema. Prompt: %q", prompt),
		}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   classificationSchema,
		},
	}
	parsed, err := c.generate(ctx, c.fastModel, body)
	if err != nil {
		return nil, err
	}
	var verdict Classification
	if err := json.Unmarshal([]byte(parsed.text()), &verdict); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	return &verdict, nil
}

// Normalize distills an imported conversation transcript into a titled,
// summarized, categorized item. The category is constrained to the given
// list but not guaranteed; callers validate.
func (c *Client) Normalize(ctx context.Context, transcript string, categories []string) (*NormalizedItem, error) {
	if c.apiKey == "" {
		return nil, ErrNoCredential
	}
	body := generateRequest{
		Contents: []Content{{Role: "user", Parts: []Part{{
			Text: "Analyze the following conversation log and extract the required information.\n\n" + transcript,
		}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   normalizeSchema(categories),
		},
	}
	parsed, err := c.generate(ctx, c.fastModel, body)
	if err != nil {
		return nil, err
	}
	var item NormalizedItem
	if err := json.Unmarshal([]byte(parsed.text()), &item); err != nil {
		return nil, fmt.Errorf("decode normalized item: %w", err)
	}
	return &item, nil
}

func (c *Client) model(req GenerateRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.chatModel
}

func (c *Client) buildRequest(req GenerateRequest) generateRequest {
	out := generateRequest{Contents: req.Contents}
	if req.SystemInstruction != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: req.SystemInstruction}}}
	}
	if req.ResponseSchema != nil {
		out.GenerationConfig = &generationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   req.ResponseSchema,
		}
	}
	return out
}

func (c *Client) generate(ctx context.Context, model string, body generateRequest) (*generateResponse, error) {
	resp, err := c.post(ctx, model+":generateContent", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &parsed, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body generateRequest) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s?key=%s", c.baseURL, endpoint, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(excerpt))
	}
	return resp, nil
}
