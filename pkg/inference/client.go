package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-meetagent/internal/httpc"
)

const providerWorkersAI = "workers-ai"

// Client is the Workers AI provider.
type Client struct {
	config *Config
	http   *http.Client
	chat   *openai.Client
	logger *slog.Logger
}

// NewClient creates a new Workers AI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}

	// The OpenAI-compatible surface lives under the account's ai/v1 path.
	oc := openai.DefaultConfig(cfg.APIToken)
	oc.BaseURL = cfg.BaseURL + "/accounts/" + url.PathEscape(cfg.AccountID) + "/ai/v1"
	oc.HTTPClient = hc

	return &Client{
		config: cfg,
		http:   hc,
		chat:   openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "inference.workers-ai"),
	}, nil
}

// Run sends a single prompt to the native run endpoint.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	payload := map[string]any{"prompt": req.Prompt}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	// Model ids contain '@' and '/', which the API expects unescaped.
	path := "/accounts/" + url.PathEscape(c.config.AccountID) + "/ai/run/" + model
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result runResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerWorkersAI, fmt.Errorf("decode response: %w", err))
	}
	if !result.Success && len(result.Errors) > 0 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Errors[0].Message,
			Code:       fmt.Sprint(result.Errors[0].Code),
			Provider:   providerWorkersAI,
		}
	}
	if strings.TrimSpace(result.Result.Response) == "" {
		return nil, WrapError(providerWorkersAI, ErrEmptyResponse)
	}

	c.logger.Debug("run complete", "model", model, "latency_ms", time.Since(start).Milliseconds())

	return &RunResponse{
		Response:  result.Result.Response,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Chat generates a chat completion through the OpenAI-compatible endpoint.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.ToolModel
	}

	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: float32(req.Temperature),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		creq.MaxTokens = maxTokens
	}
	if len(req.Tools) > 0 {
		creq.Tools = toOpenAITools(req.Tools)
		if req.ToolChoice != "" {
			creq.ToolChoice = req.ToolChoice
		}
	}

	var (
		resp    openai.ChatCompletionResponse
		lastErr error
	)
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		var err error
		resp, err = c.chat.CreateChatCompletion(ctx, creq)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = convertOpenAIError(err)
		if !IsRetryable(lastErr) {
			return nil, lastErr
		}
		c.logger.Warn("retrying chat request", "attempt", attempt+1, "error", err)
	}
	if lastErr != nil {
		return nil, lastErr
	}

	if len(resp.Choices) == 0 {
		return nil, WrapError(providerWorkersAI, fmt.Errorf("no choices returned"))
	}
	choice := resp.Choices[0]

	return &ChatResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: fromOpenAIToolCalls(choice.Message.ToolCalls),
		},
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:     resp.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health verifies the API token.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/user/tokens/verify", nil)
	if err != nil {
		return WrapError(providerWorkersAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return WrapError(providerWorkersAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// post makes a POST request with retry.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerWorkersAI, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerWorkersAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIToken)

	return c.doWithRetry(ctx, req, body)
}

// doWithRetry performs the request, retrying transport errors, 429 and 5xx.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, WrapError(providerWorkersAI, ctx.Err())
			}
			lastErr = WrapError(providerWorkersAI, err)
			c.logger.Warn("request failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = c.parseError(resp)
			resp.Body.Close()
			c.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads a Cloudflare v4 error envelope.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope runResponse
	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &envelope) == nil && len(envelope.Errors) > 0 {
		message = envelope.Errors[0].Message
		code = fmt.Sprint(envelope.Errors[0].Code)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerWorkersAI,
	}
}

func convertOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Provider:   providerWorkersAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Provider:   providerWorkersAI,
		}
	}
	return WrapError(providerWorkersAI, err)
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out[i] = om
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		out[i] = ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return out
}

// Cloudflare v4 response envelope for ai/run.
type runResponse struct {
	Result struct {
		Response string `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
