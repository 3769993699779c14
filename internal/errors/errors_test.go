package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_StatusCodes(t *testing.T) {
	testCases := []struct {
		err    *AppError
		status int
	}{
		{NewValidationError("bad", nil), http.StatusBadRequest},
		{NewNotFoundError("tool"), http.StatusNotFound},
		{NewUnsupportedError("nope", nil), http.StatusUnsupportedMediaType},
		{NewExternalError("pypi", fmt.Errorf("boom")), http.StatusBadGateway},
		{NewAuthenticationError("who"), http.StatusUnauthorized},
		{NewInternalError("oops", nil), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(string(tc.err.Type), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.StatusCode)
		})
	}
}

func TestAppError_WrapAndMatch(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewExternalError("maven", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), NewExternalError("other", nil))
	assert.Contains(t, err.Error(), "caused by: connection refused")
	assert.Equal(t, "RESOURCE_NOT_FOUND: tool x not found", NewNotFoundError("tool x").Error())
}

func TestAsAppError(t *testing.T) {
	original := NewValidationError("bad input", map[string]interface{}{"field": "message"})
	assert.Same(t, original, AsAppError(fmt.Errorf("ctx: %w", original)))

	converted := AsAppError(fmt.Errorf("plain"))
	assert.Equal(t, ErrorTypeInternal, converted.Type)
	assert.Equal(t, "plain", converted.Message)
}

func TestErrorHandler_Notifies(t *testing.T) {
	handler := NewErrorHandler()
	var got *AppError
	handler.SetNotificationFunction(func(e *AppError) { got = e })

	handler.HandleError(nil)
	assert.Nil(t, got)

	handler.HandleError(fmt.Errorf("disk full"))
	require.NotNil(t, got)
	assert.Equal(t, ErrorTypeInternal, got.Type)
}

func TestSendErrorAndSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	SendError(rec, NewNotFoundError("report abc"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "report abc not found", resp.Error.Message)

	rec = httptest.NewRecorder()
	SendSuccess(rec, map[string]int{"count": 2})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"count":2}}`, rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2)
	defer rl.Close()

	assert.True(t, rl.IsAllowed("a"))
	assert.True(t, rl.IsAllowed("a"))
	assert.False(t, rl.IsAllowed("a"))
	assert.True(t, rl.IsAllowed("b"))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 1)
	defer rl.Close()
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestValidationMiddleware(t *testing.T) {
	h := ValidationMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	testCases := []struct {
		name        string
		contentType string
		body        string
		status      int
	}{
		{"json ok", "application/json", `{}`, http.StatusNoContent},
		{"multipart ok", "multipart/form-data; boundary=x", `--x--`, http.StatusNoContent},
		{"text rejected", "text/plain", `hi`, http.StatusBadRequest},
		{"too large", "application/json", strings.Repeat("a", 32), http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
