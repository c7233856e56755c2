package openai

import (
	"context"
	"net/http"
	"strings"

	"mercator-hq/chatgate/pkg/providers"
)

// DefaultBaseURL is used when the configuration leaves BaseURL empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements providers.Provider for OpenAI-compatible chat completions.
type Provider struct {
	*providers.HTTPProvider
	endpoint string
}

var _ providers.Provider = (*Provider)(nil)

// NewProvider validates config and returns a ready provider.
func NewProvider(config providers.ProviderConfig) (*Provider, error) {
	if config.Name == "" {
		return nil, &providers.ConfigError{Provider: "openai", Field: "name", Message: "provider name is required"}
	}
	if config.APIKey == "" {
		return nil, &providers.ConfigError{Provider: config.Name, Field: "api_key", Message: "API key is required"}
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	return &Provider{
		HTTPProvider: providers.NewHTTPProvider(config),
		endpoint:     strings.TrimRight(config.BaseURL, "/") + "/chat/completions",
	}, nil
}

// Complete sends one chat completion request.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + p.GetConfig().APIKey,
	}

	var openaiResp OpenAIResponse
	if err := p.DoJSONRequest(ctx, http.MethodPost, p.endpoint, transformRequest(req), &openaiResp, headers); err != nil {
		return nil, err
	}

	resp, err := transformResponse(&openaiResp)
	if err != nil {
		return nil, &providers.ParseError{Provider: p.GetName(), Cause: err}
	}
	return resp, nil
}

func validateRequest(req *providers.CompletionRequest) error {
	if req == nil {
		return &providers.ValidationError{Field: "request", Message: "request is required"}
	}
	if req.Model == "" {
		return &providers.ValidationError{Field: "model", Message: "model is required"}
	}
	if len(req.Messages) == 0 {
		return &providers.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	return nil
}
