package providers

import "context"

// Completer issues a single chat-completion request and waits for the result.
//
// This is the only upstream capability the rate limiter depends on. Implementations
// must respect ctx cancellation and return a non-nil response only on success.
type Completer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// CompleterFunc adapts an ordinary function to the Completer interface.
type CompleterFunc func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

// Complete calls f(ctx, req).
func (f CompleterFunc) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}

// Provider is a named, closable Completer backed by a remote API.
//
// Example usage:
//
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
//	resp, err := provider.Complete(ctx, &CompletionRequest{
//	    Model:    "gpt-4o-mini",
//	    Messages: []Message{{Role: RoleUser, Content: "Hello!"}},
//	})
type Provider interface {
	Completer

	// GetName returns the provider's configured name (e.g., "openai").
	GetName() string

	// GetHealth returns request counters and the last observed error.
	GetHealth() ProviderHealth

	// Close releases idle connections. The provider must not be used afterwards.
	Close() error
}
