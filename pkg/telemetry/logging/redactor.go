package logging

import (
	"regexp"
	"strings"
)

// Pattern is an extra redaction rule.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// Redactor masks credentials and other secrets in log fields.
type Redactor struct {
	patterns []redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternAPIKey      = "api_key"
	PatternBearerToken = "bearer_token"
	PatternEmail       = "email"
	PatternPassword    = "password"
)

// Applied in order; bearer before api_key so "Bearer sk-..." keeps its prefix.
var defaultPatterns = []Pattern{
	{Name: PatternBearerToken, Pattern: `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, Replacement: "Bearer ***"},
	{Name: PatternAPIKey, Pattern: `sk-[a-zA-Z0-9_\-]+`, Replacement: "sk-***"},
	{Name: PatternEmail, Pattern: `[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, Replacement: "***@$1"},
	{Name: PatternPassword, Pattern: `(password|passwd|pwd)[:=]\s*[^\s]+`, Replacement: "$1: ***"},
}

var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"auth", "authorization",
	"private_key", "privatekey",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. Custom patterns that fail to compile are skipped.
func NewRedactor(custom []Pattern) *Redactor {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regexp.MustCompile(p.Pattern),
			replacement: p.Replacement,
		})
	}
	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}
	return r
}

// RedactString applies every pattern to value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactArgs redacts PII from variadic log arguments in key, value, ... form.
// Values under sensitive keys are masked whole; other string values are
// pattern-matched.
func (r *Redactor) RedactArgs(args ...any) []any {
	if len(args) == 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 1; i < len(redacted); i += 2 {
		if key, ok := redacted[i-1].(string); ok && isSensitiveKey(key) {
			redacted[i] = redactValue(redacted[i])
			continue
		}
		if str, ok := redacted[i].(string); ok {
			redacted[i] = r.RedactString(str)
		}
	}

	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

func redactValue(value any) any {
	switch v := value.(type) {
	case string:
		return RedactAPIKey(v)
	case int, int64, float64, bool:
		// Counts such as "actual_tokens" are not secrets.
		return v
	default:
		return "***"
	}
}

// RedactAPIKey masks a credential, keeping a four character prefix.
func RedactAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 4 {
		return "***"
	}
	return apiKey[:4] + "***"
}
