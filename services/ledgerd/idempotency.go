package ledgerd

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"stakeledger/storage/sqlstore"
)

const maxIdempotencyKeyLength = 64

// IdempotencyStore persists replayable responses. A key is reserved before
// the request runs and completed or released afterwards.
type IdempotencyStore interface {
	LookupIdempotency(key string) (*sqlstore.IdempotencyKey, bool, error)
	ReserveIdempotency(rec *sqlstore.IdempotencyKey) (bool, error)
	CompleteIdempotency(key string, status int, response string) error
	ReleaseIdempotency(key string) error
}

// WithIdempotency replays the stored response when a caller repeats an
// Idempotency-Key. Keys are scoped to the caller. A duplicate that arrives
// while the first request is still running is rejected with 409, and server
// errors release the key so the request may be retried.
func WithIdempotency(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if store == nil || key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			caller := CallerFromContext(r.Context())
			scoped := caller + "/" + key
			reserved, err := store.ReserveIdempotency(&sqlstore.IdempotencyKey{
				Key:       scoped,
				RequestID: middleware.GetReqID(r.Context()),
				Caller:    caller,
				Method:    r.Method,
				Path:      r.URL.Path,
			})
			if err != nil {
				logger.Error("idempotency reserve failed", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
				return
			}
			if !reserved {
				replayIdempotent(w, r, store, scoped, logger)
				return
			}

			done := false
			defer func() {
				if done {
					return
				}
				if err := store.ReleaseIdempotency(scoped); err != nil {
					logger.Warn("idempotency release failed", slog.Any("error", err))
				}
			}()
			recorder := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			done = true
			if err := store.CompleteIdempotency(scoped, status, recorder.buf.String()); err != nil {
				logger.Warn("idempotency save failed", slog.Any("error", err))
			}
		})
	}
}

func replayIdempotent(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string, logger *slog.Logger) {
	record, ok, err := store.LookupIdempotency(key)
	if err != nil {
		logger.Error("idempotency lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "idempotency store unavailable")
		return
	}
	if !ok || record.Status == sqlstore.StatusPending {
		if ok && (record.Method != r.Method || record.Path != r.URL.Path) {
			writeError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
			return
		}
		writeError(w, http.StatusConflict, "request with this idempotency key is in progress")
		return
	}
	if record.Method != r.Method || record.Path != r.URL.Path {
		writeError(w, http.StatusUnprocessableEntity, "idempotency key reused for a different request")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write([]byte(record.Response))
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
