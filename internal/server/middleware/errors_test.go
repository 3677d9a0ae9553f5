package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/3leaps/geneflow/internal/errors"
	"github.com/3leaps/geneflow/internal/observability"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apperrors.ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantCode    int
		wantMessage string
	}{
		{
			name: "no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
			},
			wantCode: http.StatusAccepted,
		},
		{
			name: "string panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic("nil job record")
			},
			wantCode:    http.StatusInternalServerError,
			wantMessage: "panic: nil job record",
		},
		{
			name: "error panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				panic(errors.New("batch client closed"))
			},
			wantCode:    http.StatusInternalServerError,
			wantMessage: "panic: batch client closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Recovery(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events/submission", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantMessage == "" {
				return
			}
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeEnvelope(t, rec)
			assert.Equal(t, apperrors.CodeInternal, body.Code)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestRecovery_LogsWithRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil)
	req.Header.Set(RequestIDHeader, "req-panic")
	req = req.WithContext(observability.WithLogger(req.Context(), zap.New(core)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-panic", decodeEnvelope(t, rec).RequestID)

	entries := logs.FilterMessage("Recovered from panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-panic", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "/v1/jobs/x", entries[0].ContextMap()["path"])
}

func TestRecovery_RepanicsAbortHandler(t *testing.T) {
	h := ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErrorResponse(rec, apperrors.ErrorBody{
		Code:      apperrors.CodeTooManyRequests,
		Message:   "rate limit exceeded",
		RequestID: "req-7",
		Details:   map[string]any{"retry_after": "1"},
	}, http.StatusTooManyRequests)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, apperrors.CodeTooManyRequests, body.Code)
	assert.Equal(t, "req-7", body.RequestID)
	assert.Equal(t, "1", body.Details["retry_after"])
}
