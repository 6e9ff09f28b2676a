package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

// takeTokenScript refills the bucket continuously at ARGV[3] tokens per
// millisecond and takes one token.  Reply: {allowed, remaining, wait_ms}.
var takeTokenScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1]) or burst
local ts = tonumber(bucket[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - ts) * rate)

local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
else
	wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', now)
redis.call('PEXPIRE', KEYS[1], ttl)

local allowed = 0
if wait == 0 then allowed = 1 end
return { allowed, math.floor(tokens), wait }
`)

var rateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_rate_limited_total",
		Help: "Requests rejected by the token bucket, by route.",
	},
	[]string{"route"},
)

type bucketVerdict struct {
	allowed   bool
	remaining int64
	wait      time.Duration
}

func takeToken(ctx context.Context, rdb redis.Scripter, cfg config.RateLimitConfig, key string) (bucketVerdict, error) {
	intervalMs := max(cfg.RefillInterval.Milliseconds(), 1)
	rate := float64(cfg.RefillTokens) / float64(intervalMs)

	res, err := takeTokenScript.Run(ctx, rdb, []string{key},
		time.Now().UnixMilli(),
		cfg.Capacity,
		strconv.FormatFloat(rate, 'f', -1, 64),
		cfg.TTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return bucketVerdict{}, err
	}
	if len(res) != 3 {
		return bucketVerdict{}, fmt.Errorf("ratelimit: unexpected reply %v", res)
	}
	return bucketVerdict{
		allowed:   res[0] == 1,
		remaining: res[1],
		wait:      time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket throttles the customer routes.  It runs after
// RequireCustomer so buckets are per customer; a Redis failure lets the
// request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			v, err := takeToken(c.Request().Context(), rdb, cfg, key)
			if err != nil {
				c.Logger().Warnf("[ratelimit] %s: %v", key, err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(v.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if v.allowed {
				return next(c)
			}

			rateLimited.WithLabelValues(c.Request().Method + " " + c.Path()).Inc()
			secs := int(math.Ceil(v.wait.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       "too many requests",
				"retry_after": secs,
			})
		}
	}
}

// buildRateKey picks the bucket for a request.  Strategies: "ip",
// "customer" and the default "customer_route".  Requests without a
// customer fall back to the client IP.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		return cfg.Prefix + ":ip:" + clientIP(c)
	case "customer":
		return cfg.Prefix + ":" + rateSubject(c)
	default:
		return cfg.Prefix + ":" + rateSubject(c) + ":" + c.Request().Method + " " + c.Path()
	}
}

func rateSubject(c echo.Context) string {
	if id, ok := c.Get("customer_id").(uint64); ok && id != 0 {
		return "customer:" + strconv.FormatUint(id, 10)
	}
	return "ip:" + clientIP(c)
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
