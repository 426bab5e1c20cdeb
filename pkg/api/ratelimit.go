package api

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/internal/ratelimiter"
)

// rateLimitMiddleware rejects requests beyond the client's token bucket with
// 429 and a Retry-After header in whole seconds.
func rateLimitMiddleware(limiter *ratelimiter.KeyedRateLimiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		key := c.IP()
		if limiter.Allow(key) {
			return c.Next()
		}

		wait := limiter.RetryAfter(key)
		seconds := int(math.Ceil(wait.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))

		logger.Debug("Rate limited %s %s from %s", c.Method(), c.Path(), key)
		return c.Status(fiber.StatusTooManyRequests).JSON(errorPayload{
			Error:   "rate_limited",
			Message: "too many requests",
		})
	}
}
