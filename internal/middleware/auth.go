package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/auth"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/domain/auth_errors"
)

const UserContextKey = "user"

// TokenAuthenticator resolves a bearer token to a user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// Auth protects API routes with a bearer token. Refused tokens get 401; a
// failing user lookup gets 503 so clients retry instead of re-authenticating.
func Auth(authn TokenAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := auth.TokenFromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			user, err := authn.Authenticate(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, auth_errors.ErrAuthentication) {
					c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="relay"`)
					return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
				}
				FromContext(c.Request().Context()).Error("Authentication backend failed", "error", err)
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
			}

			c.Set(UserContextKey, user)
			return next(c)
		}
	}
}

// CurrentUser returns the user Auth stored on the context.
func CurrentUser(c echo.Context) (*domain.User, bool) {
	user, ok := c.Get(UserContextKey).(*domain.User)
	return user, ok && user != nil
}
