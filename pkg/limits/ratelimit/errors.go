package ratelimit

import (
	"errors"
	"fmt"
)

// ErrConfiguration matches every *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid rate limiter configuration")

// ConfigurationError is returned by New when the configuration cannot
// produce a working limiter.
type ConfigurationError struct {
	// Field is the offending Config field.
	Field string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("ratelimit: invalid %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
