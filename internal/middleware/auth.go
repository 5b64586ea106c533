package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/estate-chat/internal/identity"
	"github.com/shinyyama/estate-chat/internal/logctx"
)

// ContextKeyUID is where RequireAuth stores the caller's uid.
const ContextKeyUID = "uid"

type AuthMiddleware struct {
	auth *identity.Authenticator
}

func NewAuthMiddleware(auth *identity.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		uid, err := m.auth.Authenticate(c.Request())
		if err != nil {
			code := "invalid_token"
			if errors.Is(err, identity.ErrMissingCredential) {
				code = "unauthorized"
			}
			logctx.From(c.Request().Context()).Debug("auth.reject", "path", c.Path(), "err", err)
			return c.JSON(http.StatusUnauthorized, map[string]map[string]string{
				"error": {"code": code, "message": "authentication required"},
			})
		}
		c.Set(ContextKeyUID, uid)
		return next(c)
	}
}
