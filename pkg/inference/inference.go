// Package inference talks to Cloudflare Workers AI.
//
// Two call shapes are supported: a plain prompt completion over the native
// REST API, and an OpenAI-compatible chat completion that may carry tool
// definitions. Both sit behind the Provider interface so callers can swap in
// the Mock in tests.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAccount(cfg.AccountID, cfg.APIToken),
//	    inference.WithModel("@cf/meta/llama-3.1-8b-instruct"),
//	)
//	defer client.Close()
//
//	resp, _ := client.Run(ctx, &inference.RunRequest{Prompt: "hello"})
//	fmt.Println(resp.Response)
package inference

import "context"

// Provider is the inference interface used by the agent.
type Provider interface {
	// Run sends a single prompt and returns the model's text.
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)

	// Chat generates a response from a sequence of messages, optionally
	// with tools the model may call.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// RunRequest is a prompt completion.
type RunRequest struct {
	// Prompt is sent verbatim with no system priming.
	Prompt string

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int
}

// RunResponse from a prompt completion.
type RunResponse struct {
	// Response is the generated text.
	Response string

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default tool model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Tools available for the model to call.
	Tools []Tool

	// ToolChoice controls tool use: "auto", "none", "required".
	ToolChoice string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
