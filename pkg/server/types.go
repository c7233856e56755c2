package server

import (
	"mercator-hq/chatgate/pkg/providers"
)

// ChatCompletionResponse is the OpenAI-compatible body returned by
// POST /v1/chat/completions.
type ChatCompletionResponse struct {
	// ID is the upstream response identifier.
	ID string `json:"id"`

	// Object is always "chat.completion".
	Object string `json:"object"`

	// Created is the Unix timestamp reported by the upstream.
	Created int64 `json:"created"`

	// Model is the model that produced the completion.
	Model string `json:"model"`

	// Choices holds the single generated message.
	Choices []Choice `json:"choices"`

	// Usage is omitted when the upstream did not report it.
	Usage *providers.TokenUsage `json:"usage,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int               `json:"index"`
	Message      providers.Message `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// newChatCompletionResponse converts a provider response to the wire format.
func newChatCompletionResponse(resp *providers.CompletionResponse) *ChatCompletionResponse {
	return &ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []Choice{{
			Index:        0,
			Message:      providers.Message{Role: providers.RoleAssistant, Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: resp.Usage,
	}
}

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	// Message is a human-readable description.
	Message string `json:"message"`

	// Type is one of the ErrorType constants.
	Type string `json:"type"`

	// Param names the offending request field, if any.
	Param string `json:"param,omitempty"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`
}

// Error types matching the OpenAI API.
const (
	ErrorTypeInvalidRequest     = "invalid_request_error"
	ErrorTypeAuthentication     = "authentication_error"
	ErrorTypeNotFound           = "not_found"
	ErrorTypeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorTypeServerError        = "server_error"
	ErrorTypeBadGateway         = "bad_gateway"
	ErrorTypeGatewayTimeout     = "gateway_timeout"
	ErrorTypeClientClosed       = "client_closed_request"
	ErrorTypeMethodNotAllowed   = "method_not_allowed"
	ErrorTypeServiceUnavailable = "service_unavailable"
)

// Error codes.
const (
	CodeInvalidJSON     = "invalid_json"
	CodeMissingField    = "missing_field"
	CodeInvalidValue    = "invalid_value"
	CodeRequestTooLarge = "request_too_large"
	CodeModelNotFound   = "model_not_found"
	CodeProviderError   = "provider_error"
	CodeProviderTimeout = "provider_timeout"
	CodeInternalError   = "internal_error"
)

func newErrorResponse(message, errorType, param, code string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{
		Message: message,
		Type:    errorType,
		Param:   param,
		Code:    code,
	}}
}
