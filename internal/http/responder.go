package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/facility-booking/internal/application"
	"github.com/example/facility-booking/internal/logging"
)

// statusClientClosedRequest is logged when the caller went away mid-request.
const statusClientClosedRequest = 499

var (
	errBadRequestBody   = errors.New("invalid request body")
	errInvalidBookingID = errors.New("invalid booking id")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(c echo.Context, status int, payload any) error {
	if status == http.StatusNoContent || payload == nil {
		return c.NoContent(status)
	}
	return c.JSON(status, payload)
}

func (r responder) writeError(c echo.Context, status int, err error) error {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(c.Request().Context()).WarnContext(c.Request().Context(), "request rejected", "status", status, "error", err)
	}
	return r.writeJSON(c, status, errorResponse{Message: message})
}

// handleServiceError maps the booking error taxonomy onto HTTP statuses.
// partial carries bookings a multi-room request committed before failing.
func (r responder) handleServiceError(c echo.Context, err error, partial []application.Booking) error {
	ctx := c.Request().Context()
	if err == nil {
		err = errors.New("unknown error")
	}

	status, body := r.describe(err)
	var fanOut *application.FanOutError
	if errors.As(err, &fanOut) {
		body.FanOut = &fanOutDetails{
			FailedRoom:     fanOut.RoomID,
			CompletedRooms: append([]string{}, fanOut.Completed...),
			Bookings:       toBookingDTOs(partial),
		}
	}

	logger := r.loggerFor(ctx)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	} else {
		logger.InfoContext(ctx, "request rejected", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	}

	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	return r.writeJSON(c, status, body)
}

func (r responder) describe(err error) (int, errorResponse) {
	code := strings.ToUpper(application.ErrorKind(err))

	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, errorResponse{ErrorCode: code, Message: "request canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{ErrorCode: code, Message: "request timed out"}
	case application.IsValidation(err):
		body := errorResponse{ErrorCode: code, Message: err.Error()}
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			body.Message = vErr.Kind.Error()
			if vErr.HasErrors() {
				body.Errors = vErr.FieldErrors
			}
		}
		return http.StatusUnprocessableEntity, body
	case errors.Is(err, application.ErrRoomConflict):
		body := errorResponse{ErrorCode: code, Message: application.ErrRoomConflict.Error()}
		var conflict *application.ConflictError
		if errors.As(err, &conflict) {
			body.Message = conflict.Error()
			body.ConflictRoom = conflict.RoomID
		}
		return http.StatusConflict, body
	case errors.Is(err, application.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, errorResponse{ErrorCode: code, Message: "booking backend unavailable, please retry"}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{ErrorCode: code, Message: "resource not found"}
	case errors.Is(err, application.ErrForbidden):
		return http.StatusForbidden, errorResponse{ErrorCode: code, Message: "you may not modify this booking"}
	default:
		return http.StatusInternalServerError, errorResponse{ErrorCode: code, Message: http.StatusText(http.StatusInternalServerError)}
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

type errorResponse struct {
	ErrorCode    string            `json:"error_code,omitempty"`
	Message      string            `json:"message"`
	Errors       map[string]string `json:"errors,omitempty"`
	ConflictRoom string            `json:"conflict_room_id,omitempty"`
	FanOut       *fanOutDetails    `json:"fan_out,omitempty"`
}

// fanOutDetails lists what a multi-room request committed before failing.
type fanOutDetails struct {
	FailedRoom     string       `json:"failed_room_id"`
	CompletedRooms []string     `json:"completed_room_ids"`
	Bookings       []bookingDTO `json:"bookings"`
}
