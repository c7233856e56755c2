package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mercator-hq/chatgate/pkg/providers"
)

// chatCompletionRequest is the accepted request body. Fields the limiter does
// not forward upstream are ignored, except stream which is rejected.
type chatCompletionRequest struct {
	providers.CompletionRequest
	Stream bool `json:"stream,omitempty"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeChatRequest(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	resp, err := s.limiter.Send(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, newChatCompletionResponse(resp)); err != nil {
		s.logger.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*providers.CompletionRequest, error) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer body.Close()

	var wire chatCompletionRequest
	if err := json.NewDecoder(body).Decode(&wire); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &RequestError{
				Message: fmt.Sprintf("request body exceeds maximum size of %d bytes", maxErr.Limit),
				Param:   "body",
				Code:    CodeRequestTooLarge,
			}
		}
		if errors.Is(err, io.EOF) {
			return nil, &RequestError{Message: "request body is empty", Param: "body", Code: CodeInvalidJSON}
		}
		return nil, &RequestError{Message: "invalid JSON: " + err.Error(), Code: CodeInvalidJSON}
	}

	if wire.Stream {
		return nil, &RequestError{Message: "streaming is not supported", Param: "stream", Code: CodeInvalidValue}
	}
	if wire.Model == "" {
		return nil, &RequestError{Message: "model is required", Param: "model", Code: CodeMissingField}
	}
	if len(wire.Messages) == 0 {
		return nil, &RequestError{Message: "messages must contain at least one message", Param: "messages", Code: CodeMissingField}
	}

	req := wire.CompletionRequest
	return &req, nil
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "error", err, "status", status)
	}
	writeError(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, s.limiter.Stats())
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, newErrorResponse("not found", ErrorTypeNotFound, "", ""))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, newErrorResponse("method not allowed", ErrorTypeMethodNotAllowed, "", ""))
}
