package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens map[string]int64

func (s staticTokens) Parse(raw string) (int64, error) {
	if id, ok := s[raw]; ok {
		return id, nil
	}
	return 0, errors.New("bad token")
}

func echoAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := AccountID(r.Context())
		if !ok {
			w.Write([]byte("anonymous"))
			return
		}
		w.Write([]byte(strings.Repeat("x", int(id))))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(staticTokens{"good": 3}, "/api/health")(echoAccount())

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"public path", "/api/health", "", http.StatusOK, "anonymous"},
		{"missing token", "/api/deals", "", http.StatusUnauthorized, ""},
		{"bad token", "/api/deals", "Bearer nope", http.StatusUnauthorized, ""},
		{"good token", "/api/deals", "Bearer good", http.StatusOK, "xxx"},
		{"scheme is case insensitive", "/api/deals", "bearer good", http.StatusOK, "xxx"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestAuthWebSocketQueryToken(t *testing.T) {
	h := Auth(staticTokens{"good": 1})(echoAccount())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token=good", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deals?token=good", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.seen[key]++
	return c.seen[key] <= c.limit, nil
}

func TestRateLimitKeysByAccount(t *testing.T) {
	lim := &countingLimiter{limit: 1, seen: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(lim, 1, time.Minute, logger)(echoAccount())

	do := func(id int64) int {
		req := httptest.NewRequest(http.MethodGet, "/api/deals", nil)
		if id > 0 {
			req = req.WithContext(WithAccountID(req.Context(), id))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do(1))
	assert.Equal(t, http.StatusTooManyRequests, do(1))
	assert.Equal(t, http.StatusOK, do(2))
	assert.Equal(t, http.StatusOK, do(0))
	assert.Contains(t, lim.seen, "api:acct:1")
	assert.Contains(t, lim.seen, "api:ip:192.0.2.1")
}

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &countingLimiter{err: errors.New("redis down")}
	h := RateLimit(lim, 1, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))(echoAccount())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	var calls atomic.Int32
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"n":` + string(rune('0'+n)) + `}`))
	})
	h := Idempotency(NewDedup(time.Minute))(inner)

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/withdrawals", nil)
		req = req.WithContext(WithAccountID(req.Context(), 7))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("k1")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, `{"n":1}`, first.Body.String())

	again := do("k1")
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, `{"n":1}`, again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replay"))

	other := do("k2")
	assert.Equal(t, `{"n":2}`, other.Body.String())

	unkeyed := do("")
	assert.Equal(t, `{"n":3}`, unkeyed.Body.String())
	assert.EqualValues(t, 3, calls.Load())
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	var calls atomic.Int32
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := Idempotency(NewDedup(time.Minute))(inner)

	for _, want := range []int{http.StatusInternalServerError, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/deposits", nil)
		req.Header.Set("Idempotency-Key", "same")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestDedupCleanup(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	_, found := d.begin("a")
	require.False(t, found)

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Empty(t, d.seen)
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)(echoAccount())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 26)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://admin.example"})(echoAccount())
	req := httptest.NewRequest(http.MethodOptions, "/api/deals", nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
