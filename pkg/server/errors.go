package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mercator-hq/chatgate/pkg/providers"
)

// StatusClientClosedRequest is returned when the caller went away while the
// request was waiting for window capacity.
const StatusClientClosedRequest = 499

// RequestError is a malformed client request.
type RequestError struct {
	Message string
	Param   string
	Code    string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("invalid request (%s): %s", e.Param, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// mapError converts an error from decoding or from the limiter into an HTTP
// status and an OpenAI-compatible body.
func mapError(err error) (int, *ErrorResponse) {
	var (
		reqErr        *RequestError
		validationErr *providers.ValidationError
		providerErr   *providers.ProviderError
		authErr       *providers.AuthError
		rateLimitErr  *providers.RateLimitError
		timeoutErr    *providers.TimeoutError
		parseErr      *providers.ParseError
	)

	switch {
	case errors.As(err, &reqErr):
		status := http.StatusBadRequest
		if reqErr.Code == CodeRequestTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		return status, newErrorResponse(reqErr.Message, ErrorTypeInvalidRequest, reqErr.Param, reqErr.Code)

	case errors.As(err, &validationErr):
		return http.StatusBadRequest, newErrorResponse(validationErr.Message, ErrorTypeInvalidRequest, validationErr.Field, CodeInvalidValue)

	case errors.As(err, &authErr):
		return http.StatusUnauthorized, newErrorResponse("upstream authentication failed", ErrorTypeAuthentication, "", CodeProviderError)

	case errors.As(err, &rateLimitErr):
		return http.StatusTooManyRequests, newErrorResponse(rateLimitErr.Message, ErrorTypeRateLimitExceeded, "", CodeProviderError)

	case errors.As(err, &timeoutErr):
		if errors.Is(err, context.Canceled) {
			return StatusClientClosedRequest, newErrorResponse("request cancelled", ErrorTypeClientClosed, "", "")
		}
		return http.StatusGatewayTimeout, newErrorResponse("upstream request timed out", ErrorTypeGatewayTimeout, "", CodeProviderTimeout)

	case errors.As(err, &parseErr):
		return http.StatusBadGateway, newErrorResponse("invalid response from upstream", ErrorTypeBadGateway, "", CodeProviderError)

	case errors.As(err, &providerErr):
		return mapProviderError(providerErr)

	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, newErrorResponse("request cancelled", ErrorTypeClientClosed, "", "")

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, newErrorResponse("deadline exceeded while waiting for capacity", ErrorTypeGatewayTimeout, "", "")

	default:
		return http.StatusInternalServerError, newErrorResponse("internal server error", ErrorTypeServerError, "", CodeInternalError)
	}
}

func mapProviderError(err *providers.ProviderError) (int, *ErrorResponse) {
	switch {
	case err.StatusCode >= 500:
		return http.StatusBadGateway, newErrorResponse(err.Message, ErrorTypeBadGateway, "", CodeProviderError)
	case err.StatusCode == http.StatusNotFound:
		return http.StatusNotFound, newErrorResponse(err.Message, ErrorTypeNotFound, "model", CodeModelNotFound)
	case err.StatusCode >= 400:
		return http.StatusBadRequest, newErrorResponse(err.Message, ErrorTypeInvalidRequest, "", CodeProviderError)
	default:
		return http.StatusBadGateway, newErrorResponse(err.Message, ErrorTypeBadGateway, "", CodeProviderError)
	}
}

// writeJSON writes data with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("encode JSON response: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, resp *ErrorResponse) {
	_ = writeJSON(w, status, resp)
}
