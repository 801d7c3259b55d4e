package ledgerd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeledger/native/common"
	"stakeledger/native/revenue"
	"stakeledger/native/staking"
	"stakeledger/native/transfer"
)

func TestAuthenticatorChecksIssuerAndAudience(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{HMACSecret: "k", Issuer: "ledger", Audience: "ledgerd"}, discardLogger())
	var caller string
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/pools", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	good, err := MintToken("k", "ledger", "ledgerd", "alice", nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, call(good))
	require.Equal(t, "alice", caller)

	wrongIssuer, err := MintToken("k", "other", "ledgerd", "alice", nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(wrongIssuer))

	wrongAudience, err := MintToken("k", "ledger", "other", "alice", nil, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(wrongAudience))

	expired, err := MintToken("k", "ledger", "ledgerd", "alice", nil, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, call(expired))
}

func TestParseBearerToken(t *testing.T) {
	require.Equal(t, "abc", parseBearerToken("Bearer abc"))
	require.Equal(t, "abc", parseBearerToken("bearer  abc "))
	require.Empty(t, parseBearerToken("Basic abc"))
	require.Empty(t, parseBearerToken("Bearer"))
}

func TestMintTokenRequiresSubject(t *testing.T) {
	_, err := MintToken("k", "", "", " ", nil, time.Minute)
	require.Error(t, err)
	_, err = MintToken("", "", "", "alice", nil, time.Minute)
	require.Error(t, err)
}

func TestRateLimiterPerCaller(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 2})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	require.True(t, limiter.Allow("alice"))
	require.True(t, limiter.Allow("alice"))
	require.False(t, limiter.Allow("alice"))
	require.True(t, limiter.Allow("bob"))

	now = now.Add(time.Second)
	require.True(t, limiter.Allow("alice"))

	now = now.Add(10 * time.Minute)
	limiter.Allow("carol")
	limiter.mu.Lock()
	_, tracked := limiter.visitors["alice"]
	limiter.mu.Unlock()
	require.False(t, tracked)
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), contextKeyCaller, "alice"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{common.ErrModulePaused, http.StatusServiceUnavailable},
		{staking.ErrUnauthorized, http.StatusForbidden},
		{revenue.ErrUnauthorized, http.StatusForbidden},
		{staking.ErrPoolNotFound, http.StatusNotFound},
		{revenue.ErrTournamentNotFound, http.StatusNotFound},
		{staking.ErrInvalidAmount, http.StatusBadRequest},
		{revenue.ErrInvalidPercentages, http.StatusBadRequest},
		{staking.ErrNothingToClaim, http.StatusConflict},
		{revenue.ErrTournamentFull, http.StatusConflict},
		{staking.ErrMathOverflow, http.StatusUnprocessableEntity},
		{transfer.ErrInsufficientBalance, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
