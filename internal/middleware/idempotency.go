package middleware

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/ticket-marketplace/internal/config"
)

const (
	// IdempotencyHeader carries the client's key for a POST.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"

	inFlight = "in-flight"
)

// NewIdempotency makes POST requests with an Idempotency-Key header
// safe to retry.  The first request claims the key; concurrent
// duplicates get 409 while it runs; later duplicates get the stored
// response.  Server errors release the key so the client may retry.
// Keys are scoped to the authenticated user.  Redis errors fail open.
func NewIdempotency(cfg config.IdempotencyConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(IdempotencyHeader)
			if raw == "" || c.Request().Method != http.MethodPost {
				return next(c)
			}
			ctx := c.Request().Context()
			key := idempotencyKey(cfg, c, raw)

			bs, err := rdb.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				return replayStored(c, bs)
			case !errors.Is(err, redis.Nil):
				c.Logger().Warnf("[idempotency] lookup %s: %v", key, err)
				return next(c)
			}

			claimed, err := rdb.SetNX(ctx, key, inFlight, cfg.Lock).Result()
			if err != nil {
				c.Logger().Warnf("[idempotency] claim %s: %v", key, err)
				return next(c)
			}
			if !claimed {
				return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this idempotency key is in progress"})
			}

			// the outcome must be stored even if the client hangs up
			store := context.WithoutCancel(ctx)
			cw := capture(c, 0)
			if err := next(c); err != nil {
				_ = rdb.Del(store, key).Err()
				return err
			}
			if cw.status >= http.StatusInternalServerError {
				_ = rdb.Del(store, key).Err()
				return nil
			}
			hdr := snapshotHeader(c.Response().Header())
			for k := range hdr {
				if strings.HasPrefix(k, "X-Ratelimit-") || k == "Retry-After" {
					hdr.Del(k)
				}
			}
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				_ = rdb.Del(store, key).Err()
				return nil
			}
			if err := rdb.Set(store, key, payload, cfg.TTL).Err(); err != nil {
				c.Logger().Warnf("[idempotency] store %s: %v", key, err)
			}
			return nil
		}
	}
}

func replayStored(c echo.Context, bs []byte) error {
	if string(bs) == inFlight {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a request with this idempotency key is in progress"})
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "corrupt idempotency record"})
	}
	hdr.Set(ReplayedHeader, "true")
	return replay(c, status, hdr, body)
}

func idempotencyKey(cfg config.IdempotencyConfig, c echo.Context, raw string) string {
	sum := sha256.Sum256([]byte(c.Path() + "\x00" + raw))
	return fmt.Sprintf("%s:%s:%x", cfg.Prefix, currentUserID(c), sum[:16])
}
