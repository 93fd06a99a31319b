package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/example/facility-booking/internal/logging"
)

func TestRequireJWT(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	t.Run("rejects requests without valid tokens", func(t *testing.T) {
		t.Parallel()

		foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-001"}).SignedString([]byte("other-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-001"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}

		cases := map[string]string{
			"missing credentials": "",
			"malformed token":     "not-a-jwt",
			"foreign secret":      foreign,
			"alg none":            unsigned,
			"expired":             signToken(t, jwt.MapClaims{"sub": "user-001", "exp": time.Now().Add(-time.Minute).Unix()}),
			"missing subject":     signToken(t, jwt.MapClaims{"role": "admin"}),
		}
		for name, token := range cases {
			rec := srv.do(t, http.MethodGet, "/v1/rooms", "", token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s: expected 401, got %d", name, rec.Code)
			}
		}
	})

	t.Run("health check is public", func(t *testing.T) {
		t.Parallel()
		rec := srv.do(t, http.MethodGet, "/healthz", "", "")
		if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
			t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("attaches the principal to the request context", func(t *testing.T) {
		t.Parallel()

		e := echo.New()
		var seen bool
		handler := RequireJWT(testSecret, nil)(func(c echo.Context) error {
			principal, ok := PrincipalFromContext(c.Request().Context())
			if !ok || principal.UserID != "admin-1" || !principal.IsAdmin {
				t.Fatalf("unexpected principal %+v (%v)", principal, ok)
			}
			seen = true
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, jwt.MapClaims{"sub": "admin-1", "is_admin": true}))
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		if !seen {
			t.Fatalf("next handler was not called")
		}
	})
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e := echo.New()
	e.Use(RequestLogger(base))
	e.GET("/ping", func(c echo.Context) error {
		if logging.FromContext(c.Request().Context()) == nil {
			t.Fatalf("expected a request scoped logger")
		}
		return c.String(http.StatusTeapot, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Header().Get(echo.HeaderXRequestID) != "req-42" {
		t.Fatalf("request id not echoed: %v", rec.Header())
	}
	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) || !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"msg":"request completed"`) {
		t.Fatalf("unexpected log output:\n%s", out)
	}
}
