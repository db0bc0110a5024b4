package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/models"
)

func testRateLimitConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		AuthStrictPerMinute: 3,
		GeneralPerMinute:    5,
		BasicPerMinute:      10,
		SMSPerIPPerHour:     2,
		SMSPerUserPer10Min:  1,
		DataExportPerDay:    1,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fire(h http.Handler, remoteAddr, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	if userID != "" {
		claims := &models.TokenClaims{UserID: userID, SessionID: "s-" + userID}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter_AuthStrictPerIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil, nil, discardLogger())
	h := rl.AuthStrict()(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, fire(h, "203.0.113.10:5000", "").Code)
	}

	blocked := fire(h, "203.0.113.10:5000", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Contains(t, blocked.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, fire(h, "198.51.100.7:5000", "").Code, "other IPs have their own budget")
}

func TestRateLimiter_ClassBudgetSharedAcrossRouteGroups(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil, nil, discardLogger())
	login := rl.AuthStrict()(okHandler())
	deviceVerify := rl.AuthStrict()(okHandler())
	mfaVerify := rl.AuthStrict()(okHandler())

	assert.Equal(t, http.StatusOK, fire(login, "203.0.113.10:5000", "").Code)
	assert.Equal(t, http.StatusOK, fire(deviceVerify, "203.0.113.10:5000", "").Code)
	assert.Equal(t, http.StatusOK, fire(mfaVerify, "203.0.113.10:5000", "").Code)

	assert.Equal(t, http.StatusTooManyRequests, fire(login, "203.0.113.10:5000", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, fire(deviceVerify, "203.0.113.10:5000", "").Code)

	// Classes keep separate budgets
	basic := rl.Basic()(okHandler())
	assert.Equal(t, http.StatusOK, fire(basic, "203.0.113.10:5000", "").Code)
}

func TestRateLimiter_PerUserKeysIgnoreIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil, nil, discardLogger())
	h := rl.SMSPerUser()(okHandler())

	assert.Equal(t, http.StatusOK, fire(h, "203.0.113.10:5000", "user-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, fire(h, "198.51.100.7:5000", "user-1").Code)
	assert.Equal(t, http.StatusOK, fire(h, "203.0.113.10:5000", "user-2").Code)
}

func TestRateLimiter_DataExportDaily(t *testing.T) {
	rl := NewRateLimiter(testRateLimitConfig(), nil, nil, discardLogger())
	h := rl.DataExport()(okHandler())

	assert.Equal(t, http.StatusOK, fire(h, "203.0.113.10:5000", "user-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, fire(h, "203.0.113.10:5000", "user-1").Code)
}

func TestRedisLimitCounter_FallsBackWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedisLimitCounter(client, ClassBasic, discardLogger())
	c.Config(10, time.Minute)

	now := time.Now().Truncate(time.Minute)
	prev := now.Add(-time.Minute)

	require.NoError(t, c.Increment("ip:203.0.113.10", now))
	require.NoError(t, c.IncrementBy("ip:203.0.113.10", now, 2))
	require.NoError(t, c.Increment("ip:203.0.113.10", prev))

	curr, previous, err := c.Get("ip:203.0.113.10", now, prev)
	require.NoError(t, err)
	assert.Equal(t, 3, curr)
	assert.Equal(t, 1, previous)
}

func TestMemoryCounter_EvictsOldWindows(t *testing.T) {
	m := newMemoryCounter()
	m.Config(10, time.Minute)

	old := time.Now().Add(-time.Hour).Truncate(time.Minute)
	now := time.Now().Truncate(time.Minute)
	require.NoError(t, m.IncrementBy("k", old, 1))
	require.NoError(t, m.IncrementBy("k", now, 1))

	m.evict(now)

	curr, previous, err := m.Get("k", now, old)
	require.NoError(t, err)
	assert.Equal(t, 1, curr)
	assert.Equal(t, 0, previous)
}
