package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/training-progress/internal/infrastructure/auth"
	"github.com/pot-code/training-progress/internal/infrastructure/driver"
)

// SessionHandler ends sessions, kv may be nil in which case tokens stay valid until they expire
type SessionHandler struct {
	jwtUtil *auth.JWTUtil
	kv      driver.KeyValueDB
}

func NewSessionHandler(JWTUtil *auth.JWTUtil, KV driver.KeyValueDB) *SessionHandler {
	return &SessionHandler{JWTUtil, KV}
}

// HandleSignOut DELETE /session, revokes the token for the rest of its lifetime
func (sh *SessionHandler) HandleSignOut(c echo.Context) error {
	ju := sh.jwtUtil
	claims := ju.GetContextToken(c)
	tokenStr, err := ju.ExtractToken(c)
	if err != nil || claims == nil {
		return echo.ErrUnauthorized
	}

	if sh.kv != nil {
		if remaining := claims.TimeRemaining(); remaining > 0 {
			if err := sh.kv.SetEX(c.Request().Context(), tokenStr, claims.UID, remaining); err != nil {
				return err
			}
		}
	}
	ju.ClearClientToken(c)
	return c.NoContent(http.StatusNoContent)
}
