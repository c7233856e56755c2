package tokens

import "mercator-hq/chatgate/pkg/providers"

// Estimator predicts the token cost of a request before it is sent.
// Implementations must be safe for concurrent use.
type Estimator interface {
	// EstimateText estimates tokens for a single text string.
	EstimateText(text string, model string) int

	// EstimateMessages estimates prompt tokens for a list of messages.
	EstimateMessages(messages []providers.Message, model string) int

	// EstimateRequest estimates prompt plus expected completion tokens.
	// countingModel, when non-empty, selects the ratio instead of req.Model.
	EstimateRequest(req *providers.CompletionRequest, countingModel string) (*Estimate, error)
}

// Estimate contains detailed token estimation results.
type Estimate struct {
	// PromptTokens is the estimated number of tokens in the prompt.
	PromptTokens int

	// CompletionTokens is the expected completion size: the request's
	// MaxTokens when positive, otherwise the configured default.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens. This is the value the
	// limiter checks against the TPM ceiling.
	TotalTokens int

	// SystemPromptTokens is the token count for system messages.
	SystemPromptTokens int

	// MessageTokens is the token count for all other messages.
	MessageTokens int

	// Model is the model whose ratio was used.
	Model string
}
