package logging

import (
	"context"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// LimiterKey is the context key for the rate limiter name.
	LimiterKey contextKey = "limiter"

	// ProviderKey is the context key for provider names.
	ProviderKey contextKey = "provider"

	// ModelKey is the context key for model names.
	ModelKey contextKey = "model"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithLimiter adds a limiter name to the context.
func WithLimiter(ctx context.Context, limiter string) context.Context {
	return context.WithValue(ctx, LimiterKey, limiter)
}

// GetLimiter retrieves the limiter name from the context.
func GetLimiter(ctx context.Context) string {
	if limiter, ok := ctx.Value(LimiterKey).(string); ok {
		return limiter
	}
	return ""
}

// WithProvider adds a provider name to the context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

// GetProvider retrieves the provider name from the context.
func GetProvider(ctx context.Context) string {
	if provider, ok := ctx.Value(ProviderKey).(string); ok {
		return provider
	}
	return ""
}

// WithModel adds a model name to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model name from the context.
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// extractContextFields returns key-value pairs for the request fields set
// on ctx, in a fixed order.
func extractContextFields(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}

	var fields []any
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if limiter := GetLimiter(ctx); limiter != "" {
		fields = append(fields, "limiter", limiter)
	}
	if provider := GetProvider(ctx); provider != "" {
		fields = append(fields, "provider", provider)
	}
	if model := GetModel(ctx); model != "" {
		fields = append(fields, "model", model)
	}
	return fields
}
