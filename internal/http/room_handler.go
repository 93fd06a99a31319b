package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/timeutil"
)

type roomCatalog interface {
	ListRooms(ctx context.Context) ([]application.Room, error)
}

type roomService interface {
	roomCatalog
	GetRoom(ctx context.Context, roomID string) (application.Room, error)
}

// RoomHandler serves the read-only room catalog.
type RoomHandler struct {
	service   roomService
	responder responder
	logger    *slog.Logger
}

func NewRoomHandler(service roomService, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	rooms, err := h.service.ListRooms(ctx)
	if err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}

	handlerLogger(ctx, h.logger, "RoomHandler", "List").DebugContext(ctx, "rooms listed", "result_count", len(rooms))
	dtos := make([]roomDTO, 0, len(rooms))
	for _, r := range rooms {
		dtos = append(dtos, toRoomDTO(r))
	}
	return h.responder.writeJSON(c, http.StatusOK, listRoomsResponse{Rooms: dtos})
}

func (h *RoomHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	room, err := h.service.GetRoom(c.Request().Context(), id)
	if err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}
	return h.responder.writeJSON(c, http.StatusOK, roomResponse{Room: toRoomDTO(room)})
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type roomDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Capacity    *int   `json:"capacity,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toRoomDTO(room application.Room) roomDTO {
	dto := roomDTO{
		ID:          room.ID,
		Name:        room.Name,
		Description: room.Description,
		Capacity:    room.Capacity,
	}
	if !room.CreatedAt.IsZero() {
		dto.CreatedAt = timeutil.FormatInstant(room.CreatedAt)
	}
	return dto
}
