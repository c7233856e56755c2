// Package openai implements the OpenAI chat completions adapter.
//
// # Basic Usage
//
//	provider, err := openai.NewProvider(providers.ProviderConfig{
//	    Name:   "openai",
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	resp, err := provider.Complete(ctx, &providers.CompletionRequest{
//	    Model:    "gpt-4o-mini",
//	    Messages: []providers.Message{{Role: "user", Content: "Hello!"}},
//	})
//
// Any server that implements POST /chat/completions in the OpenAI format
// works by pointing BaseURL at it.
//
// # Usage Accounting
//
// The usage object is passed through field by field. A response without usage,
// or with only some of prompt_tokens, completion_tokens and total_tokens, is
// still a successful completion.
//
// # Error Handling
//
//   - 401/403 -> AuthError
//   - 429 -> RateLimitError (includes Retry-After)
//   - 400 -> ProviderError, not retried
//   - 5xx -> ProviderError (retried up to MaxRetries)
//   - empty model or messages -> ValidationError, nothing sent
package openai
