package tokens

import "mercator-hq/chatgate/pkg/providers"

// UsageSource records which part of the upstream usage report produced
// the actual token count.
type UsageSource string

const (
	// UsageSourceTotal means total_tokens was reported and used as is.
	UsageSourceTotal UsageSource = "total"

	// UsageSourceComponents means total_tokens was absent and the count is
	// prompt_tokens + completion_tokens (a missing component counts as 0).
	UsageSourceComponents UsageSource = "components"

	// UsageSourceNone means the upstream reported no usage at all. The
	// request is recorded at cost 0 and the window under-counts it.
	UsageSourceNone UsageSource = "none"
)

// ActualUsage is the post-hoc token cost of a completed request.
type ActualUsage struct {
	Tokens int
	Source UsageSource
}

// Degraded reports whether the count is a placeholder rather than a
// figure the upstream reported.
func (u ActualUsage) Degraded() bool {
	return u.Source == UsageSourceNone
}

// ExtractUsage derives the actual token cost from a successful response.
//
// total_tokens wins when present, even when it is 0. Otherwise the present
// components are summed. With neither, the result is 0 with UsageSourceNone.
func ExtractUsage(resp *providers.CompletionResponse) ActualUsage {
	if resp == nil || resp.Usage == nil {
		return ActualUsage{Source: UsageSourceNone}
	}

	u := resp.Usage
	if u.TotalTokens != nil {
		return ActualUsage{Tokens: *u.TotalTokens, Source: UsageSourceTotal}
	}

	if u.PromptTokens == nil && u.CompletionTokens == nil {
		return ActualUsage{Source: UsageSourceNone}
	}

	sum := 0
	if u.PromptTokens != nil {
		sum += *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		sum += *u.CompletionTokens
	}
	return ActualUsage{Tokens: sum, Source: UsageSourceComponents}
}
