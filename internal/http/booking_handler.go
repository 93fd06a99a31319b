package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/calendar"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/timeutil"
)

type bookingService interface {
	CreateSingleBooking(ctx context.Context, req application.BookingRequest) (application.Booking, error)
	CreateRecurringBookings(ctx context.Context, req application.BookingRequest, rec application.RecurrenceRequest) ([]application.Booking, error)
	CreateMultipleRoomBookings(ctx context.Context, roomIDs []string, req application.BookingRequest) ([]application.Booking, error)
	CreateMultipleRoomRecurringBookings(ctx context.Context, roomIDs []string, req application.BookingRequest, rec application.RecurrenceRequest) ([]application.Booking, error)
	DeleteBooking(ctx context.Context, principal application.Principal, bookingID string) error
	ListBookings(ctx context.Context, filter application.BookingFilter) ([]application.Booking, error)
	KnownApprovers() []string
}

type conflictChecker interface {
	ConflictDetails(ctx context.Context, roomID string, start, end time.Time, rooms []application.Room) (application.ConflictDetails, error)
}

// BookingHandler serves the booking endpoints.
type BookingHandler struct {
	service   bookingService
	conflicts conflictChecker
	rooms     roomCatalog
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
	responder responder
}

// NewBookingHandler wires the booking endpoints. Date-only query and body
// values are interpreted in loc.
func NewBookingHandler(service bookingService, conflicts conflictChecker, rooms roomCatalog, loc *time.Location, logger *slog.Logger) *BookingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &BookingHandler{
		service:   service,
		conflicts: conflicts,
		rooms:     rooms,
		loc:       loc,
		now:       time.Now,
		logger:    defaultLogger(logger),
		responder: newResponder(logger),
	}
}

// Create handles POST /v1/bookings. room_ids selects the multi-room path and
// a recurrence object with a type other than "none" selects the series path.
func (h *BookingHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req createBookingRequest
	if err := decodeJSON(c, &req); err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
	}
	principal, _ := PrincipalFromContext(ctx)

	input, err := req.toInput(principal, h.loc)
	if err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, err)
	}
	logger := handlerLogger(ctx, h.logger, "BookingHandler", "Create", "room_count", len(input.roomIDs), "recurring", input.recurrence != nil)

	var bookings []application.Booking
	switch {
	case len(input.roomIDs) > 0 && input.recurrence != nil:
		bookings, err = h.service.CreateMultipleRoomRecurringBookings(ctx, input.roomIDs, input.booking, *input.recurrence)
	case len(input.roomIDs) > 0:
		bookings, err = h.service.CreateMultipleRoomBookings(ctx, input.roomIDs, input.booking)
	case input.recurrence != nil:
		bookings, err = h.service.CreateRecurringBookings(ctx, input.booking, *input.recurrence)
	default:
		var booking application.Booking
		booking, err = h.service.CreateSingleBooking(ctx, input.booking)
		if err == nil {
			bookings = []application.Booking{booking}
		}
	}
	if err != nil {
		return h.responder.handleServiceError(c, err, bookings)
	}

	logger.DebugContext(ctx, "bookings created", "result_count", len(bookings))
	return h.responder.writeJSON(c, http.StatusCreated, bookingsResponse{Bookings: toBookingDTOs(bookings)})
}

// Delete handles DELETE /v1/bookings/:id.
func (h *BookingHandler) Delete(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return h.responder.writeError(c, http.StatusBadRequest, errInvalidBookingID)
	}
	principal, _ := PrincipalFromContext(c.Request().Context())
	if err := h.service.DeleteBooking(c.Request().Context(), principal, id); err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}
	return h.responder.writeJSON(c, http.StatusNoContent, nil)
}

// List handles GET /v1/bookings.
func (h *BookingHandler) List(c echo.Context) error {
	filter, err := h.filterFromQuery(c)
	if err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, err)
	}
	bookings, err := h.service.ListBookings(c.Request().Context(), filter)
	if err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}
	return h.responder.writeJSON(c, http.StatusOK, bookingsResponse{Bookings: toBookingDTOs(bookings)})
}

// Calendar handles GET /v1/calendar.ics with the same filters as List.
func (h *BookingHandler) Calendar(c echo.Context) error {
	ctx := c.Request().Context()
	filter, err := h.filterFromQuery(c)
	if err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, err)
	}
	bookings, err := h.service.ListBookings(ctx, filter)
	if err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}

	rooms := h.catalog(ctx, "Calendar")
	body := calendar.Export(bookings, rooms, calendar.Options{Name: "Facility bookings", Now: h.now()})
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

// Conflicts handles POST /v1/conflicts, the pre-flight form of the writer's
// conflict check.
func (h *BookingHandler) Conflicts(c echo.Context) error {
	ctx := c.Request().Context()

	var req conflictRequest
	if err := decodeJSON(c, &req); err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, errBadRequestBody)
	}
	start, err := parseInstantField("start", req.Start)
	if err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, err)
	}
	end, err := parseInstantField("end", req.End)
	if err != nil {
		return h.responder.writeError(c, http.StatusBadRequest, err)
	}

	details, err := h.conflicts.ConflictDetails(ctx, strings.TrimSpace(req.RoomID), start, end, h.catalog(ctx, "Conflicts"))
	if err != nil {
		return h.responder.handleServiceError(c, err, nil)
	}
	return h.responder.writeJSON(c, http.StatusOK, conflictResponse{HasConflict: details.HasConflict, Message: details.Message})
}

// Approvers handles GET /v1/approvers.
func (h *BookingHandler) Approvers(c echo.Context) error {
	names := h.service.KnownApprovers()
	if names == nil {
		names = []string{}
	}
	return h.responder.writeJSON(c, http.StatusOK, approversResponse{Approvers: names})
}

// catalog returns the room list for display names; failures degrade to ids.
func (h *BookingHandler) catalog(ctx context.Context, operation string) []application.Room {
	if h.rooms == nil {
		return nil
	}
	rooms, err := h.rooms.ListRooms(ctx)
	if err != nil {
		handlerLogger(ctx, h.logger, "BookingHandler", operation).WarnContext(ctx, "room catalog unavailable, using room ids", "error", err)
		return nil
	}
	return rooms
}

func (h *BookingHandler) filterFromQuery(c echo.Context) (application.BookingFilter, error) {
	query := c.QueryParams()
	filter := application.BookingFilter{RoomIDs: query["room_id"]}

	if v := strings.TrimSpace(query.Get("from")); v != "" {
		from, err := parseBound("from", v, h.loc, false)
		if err != nil {
			return filter, err
		}
		filter.From = &from
	}
	if v := strings.TrimSpace(query.Get("to")); v != "" {
		to, err := parseBound("to", v, h.loc, true)
		if err != nil {
			return filter, err
		}
		filter.To = &to
	}
	if v := strings.TrimSpace(query.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func decodeJSON(c echo.Context, dst any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type createBookingRequest struct {
	RoomID      string             `json:"room_id"`
	RoomIDs     []string           `json:"room_ids"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Start       string             `json:"start"`
	End         string             `json:"end"`
	Authorizer  string             `json:"authorizer"`
	Recurrence  *recurrenceRequest `json:"recurrence"`
}

type recurrenceRequest struct {
	Type       string       `json:"type"`
	Interval   int          `json:"interval"`
	DaysOfWeek []weekdayTag `json:"days_of_week"`
	// EndDate is an exclusive instant, or a YYYY-MM-DD date that includes
	// the whole day.
	EndDate string `json:"end_date"`
}

type createInput struct {
	booking    application.BookingRequest
	roomIDs    []string
	recurrence *application.RecurrenceRequest
}

func (r createBookingRequest) toInput(principal application.Principal, loc *time.Location) (createInput, error) {
	start, err := parseInstantField("start", r.Start)
	if err != nil {
		return createInput{}, err
	}
	end, err := parseInstantField("end", r.End)
	if err != nil {
		return createInput{}, err
	}

	in := createInput{
		booking: application.BookingRequest{
			RoomID:      strings.TrimSpace(r.RoomID),
			UserID:      principal.UserID,
			Title:       r.Title,
			Description: r.Description,
			Start:       start,
			End:         end,
			Authorizer:  r.Authorizer,
		},
	}
	for _, id := range r.RoomIDs {
		if id = strings.TrimSpace(id); id != "" {
			in.roomIDs = append(in.roomIDs, id)
		}
	}

	if r.Recurrence == nil {
		return in, nil
	}
	// Unknown types pass through so the service reports them as invalid
	// recurrence.
	typ, err := recurrence.ParseType(strings.ToLower(strings.TrimSpace(r.Recurrence.Type)))
	if err != nil {
		typ = recurrence.Type(r.Recurrence.Type)
	}
	if typ == recurrence.TypeNone {
		return in, nil
	}

	rec := application.RecurrenceRequest{Type: typ, Interval: r.Recurrence.Interval}
	for _, d := range r.Recurrence.DaysOfWeek {
		rec.Weekdays = append(rec.Weekdays, time.Weekday(d))
	}
	if v := strings.TrimSpace(r.Recurrence.EndDate); v != "" {
		until, err := parseBound("recurrence.end_date", v, loc, true)
		if err != nil {
			return createInput{}, err
		}
		rec.Until = &until
	}
	in.recurrence = &rec
	return in, nil
}

// weekdayTag accepts 0-6 (0 = Sunday) or a weekday name. Unrecognised tags
// decode to an out-of-range weekday the service rejects.
type weekdayTag time.Weekday

func (w *weekdayTag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var tag string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &tag); err != nil {
			return err
		}
	} else {
		tag = string(data)
	}
	day, err := timeutil.ParseWeekday(tag)
	if err != nil {
		*w = -1
		return nil
	}
	*w = weekdayTag(day)
	return nil
}

// parseInstantField leaves a blank value as the zero time so the service
// reports it as an invalid time range.
func parseInstantField(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := timeutil.ParseInstant(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", field)
	}
	return ts, nil
}

// parseBound accepts an instant or a date. An upper bound given as a date
// covers that whole day, so it resolves to the following midnight.
func parseBound(field, value string, loc *time.Location, upper bool) (time.Time, error) {
	if ts, err := timeutil.ParseInstant(value); err == nil {
		return ts, nil
	}
	day, err := timeutil.ParseDate(value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp or YYYY-MM-DD date", field)
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}

type conflictRequest struct {
	RoomID string `json:"room_id"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

type conflictResponse struct {
	HasConflict bool   `json:"has_conflict"`
	Message     string `json:"message,omitempty"`
}

type approversResponse struct {
	Approvers []string `json:"approvers"`
}

type bookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type bookingDTO struct {
	ID                string                `json:"id"`
	RoomID            string                `json:"room_id"`
	UserID            string                `json:"user_id"`
	Title             string                `json:"title"`
	Description       *string               `json:"description"`
	StartTime         string                `json:"start_time"`
	EndTime           string                `json:"end_time"`
	IsRecurring       bool                  `json:"is_recurring"`
	RecurrencePattern *recurrencePatternDTO `json:"recurrence_pattern"`
	Authorizer        *string               `json:"authorizer"`
	CreatedAt         string                `json:"created_at,omitempty"`
}

type recurrencePatternDTO struct {
	Type       string `json:"type"`
	Interval   int    `json:"interval"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

func toBookingDTOs(bookings []application.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingDTO(b))
	}
	return out
}

func toBookingDTO(b application.Booking) bookingDTO {
	dto := bookingDTO{
		ID:          b.ID,
		RoomID:      b.RoomID,
		UserID:      b.UserID,
		Title:       b.Title,
		StartTime:   timeutil.FormatInstant(b.Start),
		EndTime:     timeutil.FormatInstant(b.End),
		IsRecurring: b.IsRecurring,
		Authorizer:  b.Authorizer,
	}
	if b.Description != "" {
		desc := b.Description
		dto.Description = &desc
	}
	if !b.CreatedAt.IsZero() {
		dto.CreatedAt = timeutil.FormatInstant(b.CreatedAt)
	}
	if p := b.Pattern; p != nil {
		pattern := &recurrencePatternDTO{Type: string(p.Type), Interval: p.Interval}
		for _, d := range p.DaysOfWeek {
			pattern.DaysOfWeek = append(pattern.DaysOfWeek, int(d))
		}
		if p.EndDate != nil {
			pattern.EndDate = timeutil.FormatInstant(*p.EndDate)
		}
		dto.RecurrencePattern = pattern
	}
	return dto
}
