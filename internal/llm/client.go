package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shelfmark/internal/config"
	"shelfmark/internal/metrics"
	"shelfmark/internal/models"
	"shelfmark/internal/schema"
)

// Part is one piece of the user message. Text parts carry extracted content;
// image and file parts carry the base64 original for raw analysis.
type Part struct {
	Kind     string // text, image, file
	Text     string
	MIME     string
	Filename string
	Data     string // base64 payload for image/file parts
}

// Request describes one structured completion.
type Request struct {
	System     string
	Parts      []Part
	Schema     *schema.JSONSchema
	SchemaName string
	MaxTokens  int // response token cap, the budget reservation
}

// Response carries the raw reply of a single completion call.
type Response struct {
	Content string
	Usage   models.TokenUsage
}

// Client talks to one OpenAI-compatible chat completion endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxAttempts int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// NewClient builds a client from the LLM configuration.
func NewClient(cfg config.LLMConfig) *Client {
	burst := int(cfg.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model id.
func (c *Client) Model() string {
	return c.model
}

// CompleteJSON runs the completion with up to maxAttempts tries and a fixed
// delay between them. Transient HTTP failures, empty replies and replies that
// fail the schema all count against the same attempt budget; permanent HTTP
// errors stop immediately. Token usage is accumulated across attempts so
// retries are not billed invisibly.
func (c *Client) CompleteJSON(ctx context.Context, req Request) (map[string]any, models.TokenUsage, error) {
	var usage models.TokenUsage
	var lastErr *ResponseError

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, usage, ClassifyError(err)
		}

		resp, err := c.complete(ctx, req)
		if resp != nil {
			usage.Add(resp.Usage)
		}
		if err != nil {
			cerr := ClassifyError(err)
			if !cerr.Retryable {
				cerr.Attempts = attempt
				return nil, usage, cerr
			}
			lastErr = cerr
			log.Printf("⚠️ [LLM] Attempt %d/%d failed (%s): %v", attempt, c.maxAttempts, cerr.Category, cerr)
			if !c.sleep(ctx, cerr) {
				return nil, usage, ClassifyError(ctx.Err())
			}
			continue
		}

		if strings.TrimSpace(resp.Content) == "" {
			lastErr = &ResponseError{
				Category:  ErrorCategoryMalformed,
				Message:   "model returned empty content",
				Retryable: true,
			}
			log.Printf("⚠️ [LLM] Attempt %d/%d: empty response", attempt, c.maxAttempts)
			if !c.sleep(ctx, lastErr) {
				return nil, usage, ClassifyError(ctx.Err())
			}
			continue
		}

		parsed, perr := req.Schema.Parse(resp.Content)
		if perr != nil {
			lastErr = &ResponseError{
				Category:  ErrorCategoryMalformed,
				Message:   fmt.Sprintf("response failed schema: %v", perr),
				Retryable: true,
				Cause:     perr,
			}
			log.Printf("⚠️ [LLM] Attempt %d/%d: %v", attempt, c.maxAttempts, perr)
			if !c.sleep(ctx, lastErr) {
				return nil, usage, ClassifyError(ctx.Err())
			}
			continue
		}

		return parsed, usage, nil
	}

	if lastErr == nil {
		lastErr = &ResponseError{Category: ErrorCategoryUnknown, Message: "completion failed"}
	}
	lastErr.Attempts = c.maxAttempts
	return nil, usage, lastErr
}

// complete performs a single completion call.
func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	messages := []map[string]any{}
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]any{"role": "user", "content": buildUserContent(req.Parts)})

	requestBody := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		requestBody["max_tokens"] = req.MaxTokens
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = schema.Name
		}
		requestBody["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": true,
				"schema": req.Schema,
			},
		}
	}

	bodyBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.RecordLLMRequest(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ClassifyHTTPError(resp.StatusCode, string(body))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse completion response: %w", err)
	}

	out := &Response{}
	if choices, ok := result["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok {
					out.Content = content
				}
			}
		}
	}
	if usage, ok := result["usage"].(map[string]any); ok {
		if pt, ok := usage["prompt_tokens"].(float64); ok {
			out.Usage.PromptTokens = int(pt)
		}
		if ct, ok := usage["completion_tokens"].(float64); ok {
			out.Usage.CompletionTokens = int(ct)
		}
		if tt, ok := usage["total_tokens"].(float64); ok {
			out.Usage.TotalTokens = int(tt)
		}
	}

	return out, nil
}

// sleep waits the fixed retry delay, stretched for rate-limit responses that
// name a longer Retry-After. Returns false when the context ends first.
func (c *Client) sleep(ctx context.Context, cerr *ResponseError) bool {
	delay := c.retryDelay
	if cerr != nil && cerr.RetryAfter > 0 {
		if ra := time.Duration(cerr.RetryAfter) * time.Second; ra > delay {
			delay = ra
		}
	}
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// buildUserContent collapses a lone text part to a plain string and renders
// mixed parts as the content-array form multimodal endpoints expect.
func buildUserContent(parts []Part) any {
	if len(parts) == 1 && parts[0].Kind == "text" {
		return parts[0].Text
	}

	content := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case "image":
			content = append(content, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": fmt.Sprintf("data:%s;base64,%s", p.MIME, p.Data),
				},
			})
		case "file":
			content = append(content, map[string]any{
				"type": "file",
				"file": map[string]any{
					"filename":  p.Filename,
					"file_data": fmt.Sprintf("data:%s;base64,%s", p.MIME, p.Data),
				},
			})
		default:
			content = append(content, map[string]any{
				"type": "text",
				"text": p.Text,
			})
		}
	}
	return content
}
