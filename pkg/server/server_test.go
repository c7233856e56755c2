package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/chatgate/pkg/config"
	"mercator-hq/chatgate/pkg/limits/ratelimit"
	"mercator-hq/chatgate/pkg/providers"
	"mercator-hq/chatgate/pkg/telemetry/health"
	"mercator-hq/chatgate/pkg/telemetry/logging"
)

const chatBody = `{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hello"}],"max_tokens":20}`

// stubLimiter returns a fixed result from Send.
type stubLimiter struct {
	send  func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error)
	stats ratelimit.Stats
}

func (s *stubLimiter) Send(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return s.send(ctx, req)
}

func (s *stubLimiter) Stats() ratelimit.Stats { return s.stats }

func failingLimiter(err error) *stubLimiter {
	return &stubLimiter{send: func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return nil, err
	}}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		MaxBodyBytes:    1024,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestChatCompletions_Success(t *testing.T) {
	var gotRequestID string
	var gotReq *providers.CompletionRequest
	completer := providers.CompleterFunc(func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		gotRequestID = logging.GetRequestID(ctx)
		gotReq = req
		return &providers.CompletionResponse{
			ID:           "chatcmpl-1",
			Model:        req.Model,
			Content:      "hi there",
			FinishReason: providers.FinishReasonStop,
			Usage:        providers.NewTokenUsage(5, 2, 7),
			Created:      1700000000,
		}, nil
	})
	lim, err := ratelimit.New(ratelimit.DefaultConfig(), completer)
	require.NoError(t, err)

	h := New(testServerConfig(), lim, Options{}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(chatBody))
	req.Header.Set(RequestIDHeader, "client-req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "client-req-1", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "client-req-1", gotRequestID)
	require.NotNil(t, gotReq)
	assert.Equal(t, 20, gotReq.MaxTokens)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content)
	assert.Equal(t, providers.RoleAssistant, resp.Choices[0].Message.Role)
	require.NotNil(t, resp.Usage)
	require.NotNil(t, resp.Usage.TotalTokens)
	assert.Equal(t, 7, *resp.Usage.TotalTokens)

	stats := lim.Stats()
	assert.Equal(t, 1, stats.Requests)
	assert.Equal(t, 7, stats.Tokens)
}

func TestChatCompletions_GeneratesRequestID(t *testing.T) {
	lim := &stubLimiter{send: func(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return &providers.CompletionResponse{ID: logging.GetRequestID(ctx)}, nil
	}}
	rec := do(t, New(testServerConfig(), lim, Options{}).Handler(), http.MethodPost, "/v1/chat/completions", chatBody)

	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
}

func TestChatCompletions_InvalidRequests(t *testing.T) {
	called := false
	lim := &stubLimiter{send: func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		called = true
		return &providers.CompletionResponse{}, nil
	}}
	h := New(testServerConfig(), lim, Options{}).Handler()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantParam  string
		wantCode   string
	}{
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantParam: "body", wantCode: CodeInvalidJSON},
		{name: "malformed json", body: "{", wantStatus: http.StatusBadRequest, wantCode: CodeInvalidJSON},
		{name: "missing model", body: `{"messages":[{"role":"user","content":"x"}]}`, wantStatus: http.StatusBadRequest, wantParam: "model", wantCode: CodeMissingField},
		{name: "missing messages", body: `{"model":"gpt-4"}`, wantStatus: http.StatusBadRequest, wantParam: "messages", wantCode: CodeMissingField},
		{name: "streaming", body: `{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"x"}]}`, wantStatus: http.StatusBadRequest, wantParam: "stream", wantCode: CodeInvalidValue},
		{name: "too large", body: `{"model":"gpt-4","messages":[{"role":"user","content":"` + strings.Repeat("x", 2048) + `"}]}`, wantStatus: http.StatusRequestEntityTooLarge, wantParam: "body", wantCode: CodeRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			detail := decodeError(t, rec)
			assert.Equal(t, ErrorTypeInvalidRequest, detail.Type)
			assert.Equal(t, tt.wantParam, detail.Param)
			assert.Equal(t, tt.wantCode, detail.Code)
		})
	}
	assert.False(t, called, "invalid requests must not reach the limiter")
}

func TestChatCompletions_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{name: "upstream 5xx", err: &providers.ProviderError{Provider: "openai", StatusCode: 503, Message: "overloaded"}, wantStatus: http.StatusBadGateway, wantType: ErrorTypeBadGateway},
		{name: "upstream 404", err: &providers.ProviderError{Provider: "openai", StatusCode: 404, Message: "no such model"}, wantStatus: http.StatusNotFound, wantType: ErrorTypeNotFound},
		{name: "upstream 400", err: &providers.ProviderError{Provider: "openai", StatusCode: 400, Message: "bad"}, wantStatus: http.StatusBadRequest, wantType: ErrorTypeInvalidRequest},
		{name: "upstream auth", err: &providers.AuthError{Provider: "openai", Message: "bad key"}, wantStatus: http.StatusUnauthorized, wantType: ErrorTypeAuthentication},
		{name: "upstream 429", err: &providers.RateLimitError{Provider: "openai", Message: "slow down"}, wantStatus: http.StatusTooManyRequests, wantType: ErrorTypeRateLimitExceeded},
		{name: "upstream timeout", err: &providers.TimeoutError{Provider: "openai", Cause: context.DeadlineExceeded}, wantStatus: http.StatusGatewayTimeout, wantType: ErrorTypeGatewayTimeout},
		{name: "upstream cancelled", err: &providers.TimeoutError{Provider: "openai", Cause: context.Canceled}, wantStatus: StatusClientClosedRequest, wantType: ErrorTypeClientClosed},
		{name: "parse error", err: &providers.ParseError{Provider: "openai", Cause: errors.New("eof")}, wantStatus: http.StatusBadGateway, wantType: ErrorTypeBadGateway},
		{name: "validation", err: &providers.ValidationError{Field: "messages", Message: "empty"}, wantStatus: http.StatusBadRequest, wantType: ErrorTypeInvalidRequest},
		{name: "cancelled while waiting", err: context.Canceled, wantStatus: StatusClientClosedRequest, wantType: ErrorTypeClientClosed},
		{name: "deadline while waiting", err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantType: ErrorTypeGatewayTimeout},
		{name: "unknown", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantType: ErrorTypeServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(testServerConfig(), failingLimiter(tt.err), Options{}).Handler()
			rec := do(t, h, http.MethodPost, "/v1/chat/completions", chatBody)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantType, decodeError(t, rec).Type)
		})
	}
}

func TestChatCompletions_UnknownErrorHidesDetails(t *testing.T) {
	h := New(testServerConfig(), failingLimiter(errors.New("db password is hunter2")), Options{}).Handler()
	rec := do(t, h, http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
}

func TestLimitsEndpoint(t *testing.T) {
	lim := &stubLimiter{stats: ratelimit.Stats{
		Name:                 "default",
		Requests:             3,
		Tokens:               450,
		MaxRequestsPerMinute: 315,
		MaxTokensPerMinute:   27000,
		Window:               time.Minute,
	}}
	rec := do(t, New(testServerConfig(), lim, Options{}).Handler(), http.MethodGet, "/v1/limits", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var got ratelimit.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, lim.stats, got)
}

func TestHealthEndpoint(t *testing.T) {
	rec := do(t, New(testServerConfig(), &stubLimiter{}, Options{}).Handler(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("no checks", func(t *testing.T) {
		rec := do(t, New(testServerConfig(), &stubLimiter{}, Options{}).Handler(), http.MethodGet, "/ready", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("failing check", func(t *testing.T) {
		checker := health.New(time.Second)
		checker.Register("ledger", func(context.Context) error { return errors.New("database is locked") })
		rec := do(t, New(testServerConfig(), &stubLimiter{}, Options{Health: checker}).Handler(), http.MethodGet, "/ready", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var report health.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, health.StatusNotReady, report.Status)
		assert.Equal(t, "database is locked", report.Checks["ledger"].Message)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := ratelimit.NewMetrics(reg, "chatgate")

	completer := providers.CompleterFunc(func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return &providers.CompletionResponse{ID: "x", Usage: providers.NewTokenUsage(1, 1, 2)}, nil
	})
	lim, err := ratelimit.New(ratelimit.DefaultConfig(), completer, ratelimit.WithMetrics(metrics))
	require.NoError(t, err)

	h := New(testServerConfig(), lim, Options{
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MetricsPath:    "/internal/metrics",
	}).Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/chat/completions", chatBody).Code)

	rec := do(t, h, http.MethodGet, "/internal/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatgate_ratelimit_requests_total{limiter="default",outcome="success"} 1`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics", "").Code)
}

func TestRouting_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := New(testServerConfig(), &stubLimiter{}, Options{}).Handler()

	rec := do(t, h, http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrorTypeNotFound, decodeError(t, rec).Type)

	rec = do(t, h, http.MethodGet, "/v1/chat/completions", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, ErrorTypeMethodNotAllowed, decodeError(t, rec).Type)
}

func TestRecovery(t *testing.T) {
	lim := &stubLimiter{send: func(context.Context, *providers.CompletionRequest) (*providers.CompletionResponse, error) {
		panic("unexpected")
	}}
	rec := do(t, New(testServerConfig(), lim, Options{}).Handler(), http.MethodPost, "/v1/chat/completions", chatBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, ErrorTypeServerError, decodeError(t, rec).Type)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New(testServerConfig(), &stubLimiter{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, srv.IsRunning, 2*time.Second, 5*time.Millisecond)
	addr := srv.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	assert.Error(t, srv.Start(ctx), "second Start must fail while running")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.IsRunning())
}

func TestServer_ListenError(t *testing.T) {
	cfg := testServerConfig()
	cfg.ListenAddress = "not-an-address"
	err := New(cfg, &stubLimiter{}, Options{}).Start(context.Background())
	assert.Error(t, err)
}
