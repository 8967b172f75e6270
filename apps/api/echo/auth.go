package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/auth"
)

const contextClaimsKey = "claims"

// authMiddleware requires a valid bearer session and stores its claims in the echo.Context.
// Expired and forged tokens are reported the same way.
func authMiddleware(codec *auth.Codec) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, err := auth.ExtractBearer(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return err
			}
			claims, err := codec.VerifySession(token)
			if err != nil {
				return errAuthenticationFailed
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

// roleMiddleware allows the request through when the session role is one of roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			for _, role := range roles {
				if claims.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func getContextClaims(ctx echo.Context) (*auth.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*auth.Claims); ok {
		return claims, nil
	}
	return nil, errAuthenticationFailed
}
