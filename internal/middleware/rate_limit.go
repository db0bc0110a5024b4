package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/trustgate/internal/auth"
	"github.com/BradenHooton/trustgate/internal/config"
	pkghttp "github.com/BradenHooton/trustgate/pkg/http"
)

// Rate limit classes
const (
	ClassAuthStrict = "auth_strict"
	ClassGeneral    = "general"
	ClassBasic      = "basic"
	ClassSMSIP      = "sms_ip"
	ClassSMSUser    = "sms_user"
	ClassDataExport = "data_export"
)

// RateLimiter holds one limiter per class. Every route using a class draws
// from the same budget, whichever counter backend is in use.
type RateLimiter struct {
	cfg      config.RateLimitConfig
	client   *redis.Client
	ipCfg    *pkghttp.IPConfig
	logger   *slog.Logger
	limiters map[string]func(http.Handler) http.Handler
}

// NewRateLimiter creates a RateLimiter. A nil client keeps counters in memory.
func NewRateLimiter(cfg config.RateLimitConfig, client *redis.Client, ipCfg *pkghttp.IPConfig, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{cfg: cfg, client: client, ipCfg: ipCfg, logger: logger}
	rl.limiters = map[string]func(http.Handler) http.Handler{
		ClassAuthStrict: rl.limit(ClassAuthStrict, cfg.AuthStrictPerMinute, time.Minute, rl.keyByIP),
		ClassGeneral:    rl.limit(ClassGeneral, cfg.GeneralPerMinute, time.Minute, rl.keyByUser),
		ClassBasic:      rl.limit(ClassBasic, cfg.BasicPerMinute, time.Minute, rl.keyByIP),
		ClassSMSIP:      rl.limit(ClassSMSIP, cfg.SMSPerIPPerHour, time.Hour, rl.keyByIP),
		ClassSMSUser:    rl.limit(ClassSMSUser, cfg.SMSPerUserPer10Min, 10*time.Minute, rl.keyByUser),
		ClassDataExport: rl.limit(ClassDataExport, cfg.DataExportPerDay, 24*time.Hour, rl.keyByUser),
	}
	return rl
}

// AuthStrict limits unauthenticated credential endpoints per IP
func (rl *RateLimiter) AuthStrict() func(http.Handler) http.Handler {
	return rl.limiters[ClassAuthStrict]
}

// General limits authenticated API calls per user
func (rl *RateLimiter) General() func(http.Handler) http.Handler {
	return rl.limiters[ClassGeneral]
}

// Basic limits cheap endpoints per IP
func (rl *RateLimiter) Basic() func(http.Handler) http.Handler {
	return rl.limiters[ClassBasic]
}

// SMSPerIP bounds texted codes per IP
func (rl *RateLimiter) SMSPerIP() func(http.Handler) http.Handler {
	return rl.limiters[ClassSMSIP]
}

// SMSPerUser bounds texted codes per account
func (rl *RateLimiter) SMSPerUser() func(http.Handler) http.Handler {
	return rl.limiters[ClassSMSUser]
}

// DataExport bounds export requests per account
func (rl *RateLimiter) DataExport() func(http.Handler) http.Handler {
	return rl.limiters[ClassDataExport]
}

func (rl *RateLimiter) limit(class string, requests int, window time.Duration, key httprate.KeyFunc) func(http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	}
	if rl.client != nil {
		opts = append(opts, httprate.WithLimitCounter(NewRedisLimitCounter(rl.client, class, rl.logger)))
	}
	return httprate.Limit(requests, window, opts...)
}

func (rl *RateLimiter) keyByIP(r *http.Request) (string, error) {
	return "ip:" + pkghttp.ExtractClientIP(r, rl.ipCfg), nil
}

// keyByUser falls back to the client IP on unauthenticated requests
func (rl *RateLimiter) keyByUser(r *http.Request) (string, error) {
	if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID, nil
	}
	return rl.keyByIP(r)
}

// RedisLimitCounter implements httprate.LimitCounter on Redis so limits hold
// across instances. When Redis errors it degrades to an in-process counter.
type RedisLimitCounter struct {
	client       *redis.Client
	prefix       string
	windowLength time.Duration
	fallback     *memoryCounter
	logger       *slog.Logger
}

var _ httprate.LimitCounter = (*RedisLimitCounter)(nil)

// NewRedisLimitCounter creates a counter whose keys are namespaced by class
func NewRedisLimitCounter(client *redis.Client, class string, logger *slog.Logger) *RedisLimitCounter {
	return &RedisLimitCounter{
		client:   client,
		prefix:   "trustgate:ratelimit:" + class + ":",
		fallback: newMemoryCounter(),
		logger:   logger,
	}
}

func (c *RedisLimitCounter) Config(requestLimit int, windowLength time.Duration) {
	c.windowLength = windowLength
	c.fallback.Config(requestLimit, windowLength)
}

func (c *RedisLimitCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

func (c *RedisLimitCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	k := c.windowKey(key, currentWindow)
	pipe := c.client.TxPipeline()
	pipe.IncrBy(ctx, k, int64(amount))
	pipe.Expire(ctx, k, 3*c.windowLength)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("rate limit counter unavailable, using local counter", slog.Any("error", err))
		return c.fallback.IncrementBy(key, currentWindow, amount)
	}
	return nil
}

func (c *RedisLimitCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	values, err := c.client.MGet(ctx, c.windowKey(key, currentWindow), c.windowKey(key, previousWindow)).Result()
	if err != nil {
		c.logger.Warn("rate limit counter unavailable, using local counter", slog.Any("error", err))
		return c.fallback.Get(key, currentWindow, previousWindow)
	}
	return toCount(values[0]), toCount(values[1]), nil
}

func (c *RedisLimitCounter) windowKey(key string, window time.Time) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, key, window.Unix())
}

func toCount(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

// memoryCounter is the degraded-mode counter. Entries older than two
// windows are dropped on write.
type memoryCounter struct {
	mu           sync.Mutex
	counts       map[string]int
	windowLength time.Duration
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{counts: make(map[string]int)}
}

func (m *memoryCounter) Config(requestLimit int, windowLength time.Duration) {
	m.windowLength = windowLength
}

func (m *memoryCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[memoryKey(key, currentWindow)] += amount
	if len(m.counts) > 10000 {
		m.evict(currentWindow)
	}
	return nil
}

func (m *memoryCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[memoryKey(key, currentWindow)], m.counts[memoryKey(key, previousWindow)], nil
}

func (m *memoryCounter) evict(currentWindow time.Time) {
	cutoff := currentWindow.Add(-2 * m.windowLength).Unix()
	for k := range m.counts {
		ts, _ := strconv.ParseInt(k[strings.LastIndexByte(k, ':')+1:], 10, 64)
		if ts < cutoff {
			delete(m.counts, k)
		}
	}
}

func memoryKey(key string, window time.Time) string {
	return fmt.Sprintf("%s:%d", key, window.Unix())
}
