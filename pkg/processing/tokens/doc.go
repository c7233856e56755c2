// Package tokens estimates request cost before a call and extracts the
// actual cost after it.
//
// # Estimation
//
// SimpleEstimator is character based, with model-specific multipliers
// looked up by exact name, then longest prefix, then "default":
//
//	cfg := config.GetConfig()
//	estimator := tokens.NewSimpleEstimator(&cfg.Tokens, cfg.Limiter.DefaultCompletionTokens)
//
//	estimate, err := estimator.EstimateRequest(req, "gpt-3.5-turbo")
//	fmt.Println(estimate.TotalTokens)
//
// The total is prompt tokens (message content plus formatting overhead)
// plus the expected completion: MaxTokens when set, otherwise the default.
//
// # Actual Usage
//
// ExtractUsage reads the upstream's accounting from a response and tags
// where the number came from:
//
//	usage := tokens.ExtractUsage(resp)
//	switch usage.Source {
//	case tokens.UsageSourceTotal:      // total_tokens
//	case tokens.UsageSourceComponents: // prompt_tokens + completion_tokens
//	case tokens.UsageSourceNone:       // nothing reported, counted as 0
//	}
package tokens
