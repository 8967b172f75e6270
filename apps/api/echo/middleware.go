package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/services/ratelimit"
)

// rateLimitMiddleware limits requests per client IP within scope.
// The limiter failing open keeps the endpoint available when redis is down.
func rateLimitMiddleware(limiter ratelimit.Limiter, scope string, logger core.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if limiter == nil {
				return next(ctx)
			}
			allowed, err := limiter.Allow(ctx.Request().Context(), scope+":"+ctx.RealIP())
			if err != nil {
				logger.Error("rate limiter failure", err)
				return next(ctx)
			}
			if !allowed {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
