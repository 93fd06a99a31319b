package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/config"
	httptransport "github.com/example/facility-booking/internal/http"
	"github.com/example/facility-booking/internal/lock"
	"github.com/example/facility-booking/internal/logging"
	"github.com/example/facility-booking/internal/notify"
	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/persistence/sqlstore"
	"github.com/example/facility-booking/internal/recurrence"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start booking service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr, "store", cfg.StoreDriver, "timezone", cfg.Location.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

// app holds the wired service graph and everything that needs closing.
type app struct {
	router   *echo.Echo
	bookings *application.BookingService
	rooms    *application.RoomService
	closers  []io.Closer
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	started := false
	defer func() {
		if !started {
			a.Close()
		}
	}()

	catalog, err := config.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}

	store, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN, sqlstore.PoolConfig{}, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, store)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	rows := persistence.NewRetrying(store, cfg.Retry, logger)

	a.rooms = application.NewRoomServiceWithLogger(rows, time.Minute, time.Now, logger)
	if _, err := a.rooms.SeedRooms(ctx, toRooms(catalog.Rooms)); err != nil {
		return nil, fmt.Errorf("seed room catalog: %w", err)
	}

	opts := []application.BookingServiceOption{
		application.WithRoomNamer(a.rooms),
		application.WithApprovers(catalog.Approvers),
		application.WithBookingLogger(logger),
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, client)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, application.WithRoomLocker(lock.NewRedisLocker(client, cfg.LockTTL, lock.WithLogger(logger))))
		logger.Info("room locking enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	if cfg.AMQPURL != "" {
		publisher := notify.NewPublisher(cfg.AMQPURL, notify.WithLogger(logger))
		a.closers = append(a.closers, publisher)
		opts = append(opts, application.WithNotifier(publisher))
		logger.Info("booking events enabled", "queue", notify.DefaultQueue)
	}

	a.bookings = application.NewBookingService(rows, recurrence.NewEngine(cfg.Location, cfg.MaxOccurrences), opts...)

	a.router = httptransport.NewRouter(httptransport.RouterConfig{
		Rooms:    httptransport.NewRoomHandler(a.rooms, logger),
		Bookings: httptransport.NewBookingHandler(a.bookings, a.bookings.Detector(), a.rooms, cfg.Location, logger),
		Auth:     httptransport.RequireJWT(cfg.JWTSecret, logger),
		Logger:   logger,
	})
	started = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func toRooms(entries []config.CatalogRoom) []application.Room {
	rooms := make([]application.Room, 0, len(entries))
	for _, e := range entries {
		rooms = append(rooms, application.Room{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Capacity:    e.Capacity,
		})
	}
	return rooms
}
