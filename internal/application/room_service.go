package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/persistence"
)

// RoomService serves the read-only room catalog.
type RoomService struct {
	store  persistence.RowStore
	cache  *roomCache
	logger *slog.Logger
}

// NewRoomService constructs a room service reading from store. Listings are
// cached for cacheTTL.
func NewRoomService(store persistence.RowStore, cacheTTL time.Duration, now func() time.Time) *RoomService {
	return NewRoomServiceWithLogger(store, cacheTTL, now, nil)
}

// NewRoomServiceWithLogger constructs a room service with a specified logger.
func NewRoomServiceWithLogger(store persistence.RowStore, cacheTTL time.Duration, now func() time.Time, logger *slog.Logger) *RoomService {
	return &RoomService{store: store, cache: newRoomCache(cacheTTL, now), logger: defaultLogger(logger)}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

// ListRooms returns the catalog ordered by name.
func (s *RoomService) ListRooms(ctx context.Context) (rooms []Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if cached, ok := s.cache.Get(); ok {
		return cached, nil
	}

	logger := s.loggerWith(ctx, "ListRooms")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms)).DebugContext(ctx, "rooms listed")
	}()

	var rows []persistence.Row
	rows, err = s.store.Select(ctx, persistence.Query{Table: persistence.TableRooms})
	if err != nil {
		err = storeError("list rooms", err)
		return
	}

	rooms = make([]Room, 0, len(rows))
	for _, row := range rows {
		var room Room
		room, err = roomFromRow(row)
		if err != nil {
			err = backendError("list rooms", err)
			return nil, err
		}
		rooms = append(rooms, room)
	}

	sort.Slice(rooms, func(i, j int) bool {
		if strings.EqualFold(rooms[i].Name, rooms[j].Name) {
			return rooms[i].ID < rooms[j].ID
		}
		return strings.ToLower(rooms[i].Name) < strings.ToLower(rooms[j].Name)
	})

	s.cache.Store(rooms)
	return rooms, nil
}

// GetRoom returns one room or ErrNotFound.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (Room, error) {
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		return Room{}, err
	}
	for _, room := range rooms {
		if room.ID == roomID {
			return room, nil
		}
	}
	return Room{}, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
}

// RoomName resolves a display name for conflict messages, falling back to the
// identifier when the catalog cannot be read.
func (s *RoomService) RoomName(ctx context.Context, roomID string) string {
	rooms, err := s.ListRooms(ctx)
	if err != nil {
		return roomID
	}
	return roomName(roomID, rooms)
}

// SeedRooms inserts the catalog entries whose identifiers are not stored yet
// and returns how many were added. Existing rooms are never modified.
func (s *RoomService) SeedRooms(ctx context.Context, rooms []Room) (added int, err error) {
	if s == nil {
		return 0, fmt.Errorf("RoomService is nil")
	}

	logger := s.loggerWith(ctx, "SeedRooms", "catalog_size", len(rooms))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("added", added).InfoContext(ctx, "room catalog seeded")
	}()

	if len(rooms) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if strings.TrimSpace(room.ID) == "" || strings.TrimSpace(room.Name) == "" {
			vErr := newValidationError(ErrInvalidBooking)
			vErr.add("rooms", "every room needs an id and a name")
			return 0, vErr
		}
		ids = append(ids, room.ID)
	}

	existing, err := s.store.Select(ctx, persistence.Query{
		Table:   persistence.TableRooms,
		Filters: []persistence.Filter{persistence.In(colID, ids)},
	})
	if err != nil {
		return 0, storeError("seed rooms", err)
	}
	known := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		if id, ok := row[colID].(string); ok {
			known[id] = struct{}{}
		}
	}

	missing := make([]persistence.Row, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := known[room.ID]; ok {
			continue
		}
		known[room.ID] = struct{}{}
		missing = append(missing, roomRow(room))
	}
	if len(missing) == 0 {
		return 0, nil
	}

	if _, err := s.store.Insert(ctx, persistence.TableRooms, missing); err != nil {
		return 0, storeError("seed rooms", err)
	}
	s.cache.Invalidate()
	return len(missing), nil
}
