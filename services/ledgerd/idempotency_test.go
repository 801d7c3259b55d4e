package ledgerd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"stakeledger/storage/sqlstore"
)

func newIdempotencyStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sqlstore.Open(sqlstore.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	store := sqlstore.New(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func idempotentRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/pools/stake", strings.NewReader(`{}`))
	req.Header.Set("Idempotency-Key", key)
	return req.WithContext(context.WithValue(req.Context(), contextKeyCaller, "alice"))
}

func TestIdempotencyRejectsDuplicateWhileRunning(t *testing.T) {
	store := newIdempotencyStore(t)
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	handler := WithIdempotency(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		close(entered)
		<-release
		writeJSON(w, http.StatusOK, map[string]string{"status": "staked"})
	}))

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(first, idempotentRequest("stake-1"))
	}()
	<-entered

	dup := httptest.NewRecorder()
	handler.ServeHTTP(dup, idempotentRequest("stake-1"))
	require.Equal(t, http.StatusConflict, dup.Code)

	close(release)
	<-done
	require.Equal(t, http.StatusOK, first.Code)

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, idempotentRequest("stake-1"))
	require.Equal(t, http.StatusOK, replay.Code)
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), replay.Body.String())
	require.Equal(t, int32(1), calls.Load())
}

func TestIdempotencyServerErrorAllowsRetry(t *testing.T) {
	store := newIdempotencyStore(t)
	var calls atomic.Int32
	handler := WithIdempotency(store, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			writeError(w, http.StatusInternalServerError, "backend unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "staked"})
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("stake-2"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, idempotentRequest("stake-2"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Idempotent-Replay"))
	require.Equal(t, int32(2), calls.Load())
}

func TestIdempotencyPanicReleasesKey(t *testing.T) {
	store := newIdempotencyStore(t)
	handler := WithIdempotency(store, discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler crashed")
	}))
	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), idempotentRequest("stake-3"))
	})

	_, ok, err := store.LookupIdempotency("alice/stake-3")
	require.NoError(t, err)
	require.False(t, ok)
}
