package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/logging"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
	errMissingSub   = errors.New("token has no subject")
)

// RequireJWT verifies HS256 access tokens issued by the hosted backend and
// attaches the resulting principal to the request context. The subject claim
// is the user id; role "admin" or is_admin=true grants administrator rights.
func RequireJWT(secret string, logger *slog.Logger) echo.MiddlewareFunc {
	responder := newResponder(logger)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	key := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return responder.writeError(c, http.StatusUnauthorized, errMissingToken)
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !tok.Valid {
				return responder.writeError(c, http.StatusUnauthorized, errInvalidToken)
			}

			principal, err := principalFromClaims(claims)
			if err != nil {
				return responder.writeError(c, http.StatusUnauthorized, err)
			}

			req := c.Request()
			ctx := ContextWithPrincipal(req.Context(), principal)
			if l := logging.FromContext(ctx); l != nil {
				ctx = logging.ContextWithLogger(ctx, l.With("principal_id", principal.UserID))
			}
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func principalFromClaims(claims jwt.MapClaims) (application.Principal, error) {
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return application.Principal{}, errMissingSub
	}
	principal := application.Principal{UserID: sub}
	if role, ok := claims["role"].(string); ok && strings.EqualFold(role, "admin") {
		principal.IsAdmin = true
	}
	if admin, ok := claims["is_admin"].(bool); ok && admin {
		principal.IsAdmin = true
	}
	return principal, nil
}

// RequestLogger attaches a request scoped logger to the context and logs the
// start and completion of each request.
func RequestLogger(base *slog.Logger) echo.MiddlewareFunc {
	base = defaultLogger(base)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			logger := base.With(
				"request_id", id,
				"method", req.Method,
				"path", req.URL.Path,
			)
			ctx := logging.ContextWithLogger(req.Context(), logger)
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			logger.DebugContext(ctx, "request started")
			if err := next(c); err != nil {
				c.Error(err)
			}
			logger.InfoContext(ctx, "request completed",
				"status", c.Response().Status,
				"duration", time.Since(start),
			)
			return nil
		}
	}
}
