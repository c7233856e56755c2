package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/providers"
)

func testEstimator() *SimpleEstimator {
	return NewSimpleEstimator(&config.TokensConfig{
		Models: map[string]float64{
			"gpt-4":       4.0,
			"gpt-4o":      2.0,
			"small-model": 2.0,
			"default":     4.0,
		},
	}, 100)
}

func TestSimpleEstimator_EstimateText(t *testing.T) {
	estimator := testEstimator()

	tests := []struct {
		name     string
		text     string
		model    string
		expected int
	}{
		{name: "empty text", text: "", model: "gpt-4", expected: 0},
		{name: "one char rounds up to one", text: "a", model: "gpt-4", expected: 1},
		{name: "13 chars at 4.0", text: "Hello, world!", model: "gpt-4", expected: 3},
		{name: "13 chars at 2.0", text: "Hello, world!", model: "small-model", expected: 7},
		{name: "unknown model uses default", text: "12345678", model: "mystery", expected: 2},
		{name: "prefix match", text: "12345678", model: "gpt-4-0613", expected: 2},
		{name: "longest prefix wins", text: "12345678", model: "gpt-4o-mini", expected: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, estimator.EstimateText(tt.text, tt.model))
		})
	}
}

func TestSimpleEstimator_FallbackWithoutDefault(t *testing.T) {
	estimator := NewSimpleEstimator(&config.TokensConfig{Models: map[string]float64{"x": 0}}, 0)
	assert.Equal(t, 2, estimator.EstimateText("12345678", "anything"))

	nilCfg := NewSimpleEstimator(nil, 10)
	assert.Equal(t, 2, nilCfg.EstimateText("12345678", "anything"))
}

func TestSimpleEstimator_EstimateMessages(t *testing.T) {
	estimator := testEstimator()

	assert.Zero(t, estimator.EstimateMessages(nil, "gpt-4"))

	// "12345678" = 2 tokens at 4.0; only content is counted.
	messages := []providers.Message{
		{Role: providers.RoleUser, Content: "12345678"},
		{Role: providers.RoleAssistant, Content: ""},
		{Role: providers.RoleUser, Content: "1234", Name: "abcdefghijkl"},
	}
	assert.Equal(t, 2+0+1, estimator.EstimateMessages(messages, "gpt-4"))
}

func TestSimpleEstimator_EstimateRequest(t *testing.T) {
	estimator := testEstimator()

	req := &providers.CompletionRequest{
		Model: "small-model",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "12345678"},
			{Role: providers.RoleUser, Content: "12345678"},
		},
	}

	t.Run("default completion hint", func(t *testing.T) {
		est, err := estimator.EstimateRequest(req, "gpt-4")
		require.NoError(t, err)

		assert.Equal(t, "gpt-4", est.Model)
		assert.Equal(t, 2, est.SystemPromptTokens)
		assert.Equal(t, 2, est.MessageTokens)
		assert.Equal(t, 4, est.PromptTokens)
		assert.Equal(t, 100, est.CompletionTokens)
		assert.Equal(t, est.PromptTokens+100, est.TotalTokens)
	})

	t.Run("max tokens hint", func(t *testing.T) {
		withMax := *req
		withMax.MaxTokens = 900

		est, err := estimator.EstimateRequest(&withMax, "gpt-4")
		require.NoError(t, err)
		assert.Equal(t, 900, est.CompletionTokens)
		assert.Equal(t, 4+900, est.TotalTokens)
	})

	t.Run("request model when no counting model", func(t *testing.T) {
		est, err := estimator.EstimateRequest(req, "")
		require.NoError(t, err)
		assert.Equal(t, "small-model", est.Model)
		// 8 chars at 2.0 = 4 tokens per message
		assert.Equal(t, 4, est.MessageTokens)
	})

	t.Run("nil request", func(t *testing.T) {
		_, err := estimator.EstimateRequest(nil, "")
		assert.Error(t, err)
	})
}
