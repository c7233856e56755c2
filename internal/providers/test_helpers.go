package providers

import (
	"time"

	"mercator-hq/chatgate/pkg/providers"
)

// TestConfig returns a provider configuration suitable for tests.
func TestConfig(name string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:                name,
		BaseURL:             "http://localhost:8080",
		APIKey:              "test-key",
		Timeout:             5 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        time.Millisecond,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
	}
}

// TestConfigWithURL returns a test config with a specific base URL.
func TestConfigWithURL(name, baseURL string) providers.ProviderConfig {
	config := TestConfig(name)
	config.BaseURL = baseURL
	return config
}

// TestCompletionRequest creates a completion request with the given messages.
func TestCompletionRequest(model string, messages ...providers.Message) *providers.CompletionRequest {
	return &providers.CompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

// UserMessage is shorthand for a single user-role message.
func UserMessage(content string) providers.Message {
	return providers.Message{Role: providers.RoleUser, Content: content}
}
