package tokens

import (
	"fmt"
	"strings"

	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/providers"
)

const (
	// fallbackCharsPerToken applies when no ratio, not even "default", is configured.
	fallbackCharsPerToken = 4.0
)

// SimpleEstimator implements character-based token estimation using
// model-specific characters-per-token ratios.
//
// The ratio table is copied at construction and never mutated, so the
// estimator needs no locking.
type SimpleEstimator struct {
	ratios                  map[string]float64
	defaultCompletionTokens int
}

var _ Estimator = (*SimpleEstimator)(nil)

// NewSimpleEstimator creates a character-based estimator. defaultCompletion
// is the expected completion size for requests without MaxTokens.
func NewSimpleEstimator(cfg *config.TokensConfig, defaultCompletion int) *SimpleEstimator {
	ratios := make(map[string]float64)
	if cfg != nil {
		for model, ratio := range cfg.Models {
			if ratio > 0 {
				ratios[model] = ratio
			}
		}
	}
	if defaultCompletion < 0 {
		defaultCompletion = 0
	}
	return &SimpleEstimator{
		ratios:                  ratios,
		defaultCompletionTokens: defaultCompletion,
	}
}

// EstimateText estimates tokens for a single text string.
func (e *SimpleEstimator) EstimateText(text string, model string) int {
	if text == "" {
		return 0
	}

	tokens := float64(len(text)) / e.charsPerToken(model)
	if tokens < 1.0 {
		return 1 // Minimum 1 token for non-empty text
	}

	return int(tokens + 0.5)
}

// EstimateMessages sums the estimated tokens of each message's content.
// Roles, names and chat formatting are not counted; a message without content
// counts as empty text.
func (e *SimpleEstimator) EstimateMessages(messages []providers.Message, model string) int {
	total := 0
	for _, msg := range messages {
		total += e.EstimateText(msg.Content, model)
	}
	return total
}

// EstimateRequest returns the content tokens of every message plus the
// completion hint.
func (e *SimpleEstimator) EstimateRequest(req *providers.CompletionRequest, countingModel string) (*Estimate, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	model := countingModel
	if model == "" {
		model = req.Model
	}

	var system, others []providers.Message
	for _, msg := range req.Messages {
		if msg.Role == providers.RoleSystem {
			system = append(system, msg)
		} else {
			others = append(others, msg)
		}
	}

	estimate := &Estimate{
		Model:              model,
		SystemPromptTokens: e.EstimateMessages(system, model),
		MessageTokens:      e.EstimateMessages(others, model),
	}
	estimate.PromptTokens = estimate.SystemPromptTokens + estimate.MessageTokens

	if req.MaxTokens > 0 {
		estimate.CompletionTokens = req.MaxTokens
	} else {
		estimate.CompletionTokens = e.defaultCompletionTokens
	}

	estimate.TotalTokens = estimate.PromptTokens + estimate.CompletionTokens
	return estimate, nil
}

// charsPerToken returns the ratio for a model: exact match, then the longest
// configured prefix (so "gpt-4" covers "gpt-4-0613"), then "default".
func (e *SimpleEstimator) charsPerToken(model string) float64 {
	if ratio, ok := e.ratios[model]; ok {
		return ratio
	}

	best, bestLen := 0.0, 0
	for pattern, ratio := range e.ratios {
		if pattern == "default" {
			continue
		}
		if strings.HasPrefix(model, pattern) && len(pattern) > bestLen {
			best, bestLen = ratio, len(pattern)
		}
	}
	if bestLen > 0 {
		return best
	}

	if ratio, ok := e.ratios["default"]; ok {
		return ratio
	}

	return fallbackCharsPerToken
}
