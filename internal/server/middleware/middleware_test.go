package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/geneflow/internal/observability"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestID(r.Context())
	}))

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})
}

func TestRequestLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	status := http.StatusOK
	h := WithLogger(base)(RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))))

	tests := []struct {
		path   string
		status int
		level  zapcore.Level
	}{
		{"/v1/jobs", http.StatusOK, zapcore.InfoLevel},
		{"/health/live", http.StatusOK, zapcore.DebugLevel},
		{"/v1/jobs/x", http.StatusNotFound, zapcore.WarnLevel},
		{"/api/upload_function", http.StatusInternalServerError, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status = tt.status
			before := logs.Len()
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			entries := logs.All()[before:]
			require.Len(t, entries, 1)
			e := entries[0]
			assert.Equal(t, tt.level, e.Level)
			fields := e.ContextMap()
			assert.Equal(t, tt.path, fields["path"])
			assert.EqualValues(t, tt.status, fields["status"])
			assert.EqualValues(t, 2, fields["bytes"])
			assert.NotEmpty(t, fields["request_id"])
		})
	}
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("disabled", func(t *testing.T) {
		h := RateLimit(0, 0)(ok)
		for range 20 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}
	})

	t.Run("burst exhausted", func(t *testing.T) {
		h := RateLimit(0.01, 2)(ok)
		codes := make([]int, 0, 3)
		var last *httptest.ResponseRecorder
		for range 3 {
			last = httptest.NewRecorder()
			h.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/", nil))
			codes = append(codes, last.Code)
		}
		assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
		assert.Equal(t, "100", last.Header().Get("Retry-After"))

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(last.Body).Decode(&body))
		assert.Equal(t, "TOO_MANY_REQUESTS", body.Error.Code)
	})
}

func TestExtendDeadline(t *testing.T) {
	called := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	})

	for _, d := range []time.Duration{0, time.Minute} {
		rec := httptest.NewRecorder()
		ExtendDeadline(d)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Equal(t, 2, called)
}
