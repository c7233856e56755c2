package providers

import "time"

// Message represents a single message in a conversation.
type Message struct {
	// Role identifies the message sender (system, user, assistant, tool)
	Role string `json:"role"`

	// Content is the message text content
	Content string `json:"content"`

	// Name is an optional name for the message sender
	Name string `json:"name,omitempty"`
}

// TokenUsage is the upstream's own accounting for a completed request.
// A nil field means the upstream did not report it.
type TokenUsage struct {
	// PromptTokens is the number of tokens in the prompt
	PromptTokens *int `json:"prompt_tokens,omitempty"`

	// CompletionTokens is the number of tokens in the completion
	CompletionTokens *int `json:"completion_tokens,omitempty"`

	// TotalTokens is the total number of tokens used (prompt + completion)
	TotalTokens *int `json:"total_tokens,omitempty"`
}

// NewTokenUsage returns a TokenUsage with all three fields reported.
func NewTokenUsage(prompt, completion, total int) *TokenUsage {
	return &TokenUsage{
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
		TotalTokens:      &total,
	}
}

// CompletionRequest represents a provider-agnostic completion request.
type CompletionRequest struct {
	// Model is the model identifier (e.g., "gpt-4o-mini")
	Model string `json:"model"`

	// Messages is the conversation history
	Messages []Message `json:"messages"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length. The limiter also uses it as the
	// expected completion size when estimating cost.
	MaxTokens int `json:"max_tokens,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0)
	TopP float64 `json:"top_p,omitempty"`

	// Stop sequences that will halt generation
	Stop []string `json:"stop,omitempty"`

	// User is an optional end-user identifier for abuse monitoring
	User string `json:"user,omitempty"`

	// Metadata is internal request context and is never sent upstream
	Metadata map[string]string `json:"-"`
}

// CompletionResponse represents a provider-agnostic completion response.
type CompletionResponse struct {
	// ID is the unique response identifier
	ID string `json:"id"`

	// Model is the model that generated the response
	Model string `json:"model"`

	// Content is the generated text content
	Content string `json:"content"`

	// FinishReason indicates why generation stopped
	FinishReason string `json:"finish_reason"`

	// Usage is nil when the upstream omitted usage accounting
	Usage *TokenUsage `json:"usage,omitempty"`

	// Created is the Unix timestamp when the response was created
	Created int64 `json:"created"`

	// Metadata contains additional response context
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProviderHealth tracks request outcomes for a provider.
type ProviderHealth struct {
	// IsHealthy is false after 3 consecutive failed requests
	IsHealthy bool `json:"is_healthy"`

	// LastError is the most recent error message (empty if healthy)
	LastError string `json:"last_error,omitempty"`

	// ConsecutiveFailures counts sequential failed requests
	ConsecutiveFailures int `json:"consecutive_failures"`

	// LastSuccessfulRequest is the timestamp of the last successful request
	LastSuccessfulRequest time.Time `json:"last_successful_request"`

	// TotalRequests counts every HTTP attempt, retries included
	TotalRequests int64 `json:"total_requests"`

	// FailedRequests counts failed HTTP attempts
	FailedRequests int64 `json:"failed_requests"`
}

// ProviderConfig contains configuration for a single provider instance.
type ProviderConfig struct {
	// Name is the provider identifier (e.g., "openai")
	Name string

	// BaseURL is the API endpoint base URL
	BaseURL string

	// APIKey is the credential sent upstream. The limiter never reads it.
	APIKey string

	// Timeout is the per-attempt HTTP timeout
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for transient failures
	MaxRetries int

	// RetryBackoff is the initial backoff interval between attempts
	RetryBackoff time.Duration

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool
	IdleConnTimeout time.Duration
}

// Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reason constants
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)
