package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Dedup remembers responses to requests carrying an Idempotency-Key header
// so a client retry within the TTL gets the original response instead of
// repeating the action. It is safe for concurrent use.
type Dedup struct {
	ttl  time.Duration
	mu   sync.Mutex
	seen map[string]*replay
	now  func() time.Time
}

type replay struct {
	at     time.Time
	done   bool
	status int
	header http.Header
	body   []byte
}

// NewDedup creates a Dedup that keeps responses for ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{ttl: ttl, seen: make(map[string]*replay), now: time.Now}
}

// begin returns the stored replay for key, or registers key as in flight
// and returns nil.
func (d *Dedup) begin(key string) (*replay, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.seen[key]; ok && d.now().Sub(rp.at) < d.ttl {
		return rp, true
	}
	d.seen[key] = &replay{at: d.now()}
	return nil, false
}

func (d *Dedup) finish(key string, status int, header http.Header, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.seen[key]
	if !ok {
		return
	}
	// Server errors are not remembered so the client can retry.
	if status >= http.StatusInternalServerError {
		delete(d.seen, key)
		return
	}
	rp.done, rp.status, rp.header, rp.body = true, status, header, body
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, rp := range d.seen {
		if now.Sub(rp.at) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// Run calls Cleanup every interval until ctx ends.
func (d *Dedup) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Cleanup()
		}
	}
}

// Idempotency returns middleware that replays stored responses for repeated
// POST requests with the same Idempotency-Key from the same caller. A repeat
// that arrives while the first is still running gets 409.
func Idempotency(d *Dedup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ikey := r.Header.Get("Idempotency-Key")
			if ikey == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			caller := extractClientIP(r)
			if id, ok := AccountID(r.Context()); ok {
				caller = strconv.FormatInt(id, 10)
			}
			key := caller + "|" + r.URL.Path + "|" + ikey

			if rp, found := d.begin(key); found {
				if !rp.done {
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusConflict)
					w.Write([]byte(`{"error":"request with this idempotency key is in progress"}`))
					return
				}
				for k, v := range rp.header {
					if k != "X-Request-Id" {
						w.Header()[k] = v
					}
				}
				w.Header().Set("Idempotent-Replay", "true")
				w.WriteHeader(rp.status)
				w.Write(rp.body)
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			d.finish(key, rec.status, w.Header().Clone(), rec.buf.Bytes())
		})
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.buf.Write(b)
	return rw.ResponseWriter.Write(b)
}
