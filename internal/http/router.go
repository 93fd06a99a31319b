package http

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RouterConfig collects the handlers and middleware mounted by NewRouter.
type RouterConfig struct {
	Rooms    *RoomHandler
	Bookings *BookingHandler
	// Auth guards every /v1 route, typically RequireJWT.
	Auth   echo.MiddlewareFunc
	Logger *slog.Logger
}

// NewRouter builds the echo instance serving the API.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(cfg.Logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	v1 := e.Group("/v1")
	if cfg.Auth != nil {
		v1.Use(cfg.Auth)
	}

	if cfg.Rooms != nil {
		v1.GET("/rooms", cfg.Rooms.List)
		v1.GET("/rooms/:id", cfg.Rooms.Get)
	}

	if cfg.Bookings != nil {
		v1.GET("/approvers", cfg.Bookings.Approvers)
		v1.GET("/bookings", cfg.Bookings.List)
		v1.POST("/bookings", cfg.Bookings.Create)
		v1.DELETE("/bookings/:id", cfg.Bookings.Delete)
		v1.GET("/calendar.ics", cfg.Bookings.Calendar)
		v1.POST("/conflicts", cfg.Bookings.Conflicts)
	}

	return e
}
