package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/scheduler"
	"github.com/example/facility-booking/internal/timeutil"
)

// RoomLocker serialises check-then-insert for one room across processes.
type RoomLocker interface {
	LockRoom(ctx context.Context, roomID string) (release func(context.Context) error, err error)
}

// BookingNotifier is told about bookings after they are persisted.
type BookingNotifier interface {
	BookingsCreated(ctx context.Context, bookings []Booking) error
}

// RoomNamer resolves display names for conflict messages.
type RoomNamer interface {
	RoomName(ctx context.Context, roomID string) string
}

// Stages a booking creation request passes through.
const (
	stageValidating          = "validating"
	stageExpandingRecurrence = "expanding_recurrence"
	stageCheckingConflicts   = "checking_conflicts"
	stageInserting           = "inserting"
	stageDone                = "done"
	stageFailed              = "failed"
)

// BookingService validates, expands, conflict-checks and persists bookings.
type BookingService struct {
	store     persistence.RowStore
	engine    *recurrence.Engine
	detector  *ConflictDetector
	rooms     RoomNamer
	locker    RoomLocker
	notifier  BookingNotifier
	approvers []string
	logger    *slog.Logger

	notifyTimeout time.Duration
}

// BookingServiceOption customises a BookingService.
type BookingServiceOption func(*BookingService)

// WithRoomNamer sets the source of room names used in conflict messages.
func WithRoomNamer(rooms RoomNamer) BookingServiceOption {
	return func(s *BookingService) { s.rooms = rooms }
}

// WithRoomLocker holds a per-room lock from the first conflict check until
// the insert returns.
func WithRoomLocker(locker RoomLocker) BookingServiceOption {
	return func(s *BookingService) { s.locker = locker }
}

// WithNotifier publishes created bookings. Publishing failures are logged only.
func WithNotifier(notifier BookingNotifier) BookingServiceOption {
	return func(s *BookingService) { s.notifier = notifier }
}

// DefaultNotifyTimeout bounds a publish when WithNotifyTimeout is not given.
const DefaultNotifyTimeout = 5 * time.Second

// WithNotifyTimeout bounds how long one publish may take.
func WithNotifyTimeout(d time.Duration) BookingServiceOption {
	return func(s *BookingService) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithApprovers sets the known approver names authorizers are matched against.
func WithApprovers(names []string) BookingServiceOption {
	return func(s *BookingService) {
		s.approvers = s.approvers[:0]
		for _, name := range names {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				s.approvers = append(s.approvers, trimmed)
			}
		}
	}
}

// WithBookingLogger sets the service logger.
func WithBookingLogger(logger *slog.Logger) BookingServiceOption {
	return func(s *BookingService) { s.logger = defaultLogger(logger) }
}

// NewBookingService wires the writer over store. When engine is nil a UTC
// engine with the default occurrence cap is used.
func NewBookingService(store persistence.RowStore, engine *recurrence.Engine, opts ...BookingServiceOption) *BookingService {
	if engine == nil {
		engine = recurrence.NewEngine(time.UTC, 0)
	}
	s := &BookingService{
		store:         store,
		engine:        engine,
		notifyTimeout: DefaultNotifyTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.detector = NewConflictDetector(store, engine.Location(), s.logger)
	return s
}

// Detector exposes the conflict detector used by the writer for pre-flight checks.
func (s *BookingService) Detector() *ConflictDetector {
	return s.detector
}

// KnownApprovers returns the configured approver names.
func (s *BookingService) KnownApprovers() []string {
	out := make([]string, len(s.approvers))
	copy(out, s.approvers)
	return out
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// CreateSingleBooking validates req, checks it against the room's bookings and
// persists it as a non-recurring booking.
func (s *BookingService) CreateSingleBooking(ctx context.Context, req BookingRequest) (booking Booking, err error) {
	if s == nil {
		return Booking{}, fmt.Errorf("BookingService is nil")
	}

	logger := s.loggerWith(ctx, "CreateSingleBooking", "room_id", req.RoomID, "user_id", req.UserID)
	defer func() {
		if err != nil {
			logger.DebugContext(ctx, "booking stage", "stage", stageFailed)
			logger.ErrorContext(ctx, "failed to create booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "booking stage", "stage", stageDone)
		logger.With("booking_id", booking.ID).InfoContext(ctx, "booking created")
	}()

	logger.DebugContext(ctx, "booking stage", "stage", stageValidating)
	template, err := s.template(req)
	if err != nil {
		return Booking{}, err
	}

	created, err := s.checkAndInsert(ctx, logger, template, []recurrence.Occurrence{{Start: template.Start, End: template.End}}, false)
	if err != nil {
		return Booking{}, err
	}
	return created[0], nil
}

// CreateRecurringBookings expands rec from the template window, checks every
// occurrence in order and persists the whole series in one insert. The first
// conflicting occurrence aborts the request before anything is written.
func (s *BookingService) CreateRecurringBookings(ctx context.Context, req BookingRequest, rec RecurrenceRequest) (bookings []Booking, err error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if rec.Type == recurrence.TypeNone || rec.Type == "" {
		single, err := s.CreateSingleBooking(ctx, req)
		if err != nil {
			return nil, err
		}
		return []Booking{single}, nil
	}

	logger := s.loggerWith(ctx, "CreateRecurringBookings",
		"room_id", req.RoomID,
		"user_id", req.UserID,
		"recurrence_type", string(rec.Type),
		"interval", rec.Interval,
	)
	defer func() {
		if err != nil {
			logger.DebugContext(ctx, "booking stage", "stage", stageFailed)
			logger.ErrorContext(ctx, "failed to create recurring bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "booking stage", "stage", stageDone)
		logger.With("occurrences", len(bookings)).InfoContext(ctx, "recurring bookings created")
	}()

	logger.DebugContext(ctx, "booking stage", "stage", stageValidating)
	template, err := s.template(req)
	if err != nil {
		return nil, err
	}
	if err := validateRecurrence(rec); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "booking stage", "stage", stageExpandingRecurrence)
	occurrences, err := s.engine.Expand(template.Start, template.End, recurrence.Rule{
		Type:     rec.Type,
		Interval: rec.Interval,
		Weekdays: rec.Weekdays,
		Until:    rec.Until,
	})
	if err != nil {
		return nil, mapExpandError(err)
	}
	if len(occurrences) == 0 {
		return nil, newValidationError(ErrEmptyRecurrence)
	}
	if last := occurrences[len(occurrences)-1]; !timeutil.Storable(last.End) {
		return nil, newValidationError(ErrInvalidTimeRange)
	}
	if err := s.checkSeriesDisjoint(template.RoomID, occurrences); err != nil {
		return nil, err
	}

	template.IsRecurring = true
	template.Pattern = &RecurrencePattern{
		Type:       rec.Type,
		Interval:   rec.Interval,
		DaysOfWeek: dedupeWeekdays(rec.Weekdays),
		EndDate:    rec.Until,
	}
	if rec.Type != recurrence.TypeWeekly {
		template.Pattern.DaysOfWeek = nil
	}

	return s.checkAndInsert(ctx, logger, template, occurrences, true)
}

// CreateMultipleRoomBookings applies CreateSingleBooking to each room in
// order. On failure the bookings already committed are returned together with
// a *FanOutError; later rooms are never attempted.
func (s *BookingService) CreateMultipleRoomBookings(ctx context.Context, roomIDs []string, req BookingRequest) ([]Booking, error) {
	return s.fanOut(ctx, "CreateMultipleRoomBookings", roomIDs, func(roomID string) ([]Booking, error) {
		perRoom := req
		perRoom.RoomID = roomID
		b, err := s.CreateSingleBooking(ctx, perRoom)
		if err != nil {
			return nil, err
		}
		return []Booking{b}, nil
	})
}

// CreateMultipleRoomRecurringBookings applies CreateRecurringBookings to each
// room in order with the same partial-failure contract as
// CreateMultipleRoomBookings.
func (s *BookingService) CreateMultipleRoomRecurringBookings(ctx context.Context, roomIDs []string, req BookingRequest, rec RecurrenceRequest) ([]Booking, error) {
	return s.fanOut(ctx, "CreateMultipleRoomRecurringBookings", roomIDs, func(roomID string) ([]Booking, error) {
		perRoom := req
		perRoom.RoomID = roomID
		return s.CreateRecurringBookings(ctx, perRoom, rec)
	})
}

func (s *BookingService) fanOut(ctx context.Context, operation string, roomIDs []string, create func(roomID string) ([]Booking, error)) ([]Booking, error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	rooms := uniqueStrings(roomIDs)
	if len(rooms) == 0 {
		vErr := newValidationError(ErrInvalidBooking)
		vErr.add("room_ids", "at least one room is required")
		return nil, vErr
	}

	logger := s.loggerWith(ctx, operation, "room_count", len(rooms))

	created := make([]Booking, 0, len(rooms))
	completed := make([]string, 0, len(rooms))
	for _, roomID := range rooms {
		err := ctx.Err()
		var bookings []Booking
		if err == nil {
			bookings, err = create(roomID)
		}
		if err != nil {
			logger.WarnContext(ctx, "multi-room booking stopped",
				"failed_room_id", roomID,
				"completed_rooms", completed,
				"error_kind", ErrorKind(err),
			)
			return created, &FanOutError{RoomID: roomID, Completed: completed, Err: err}
		}
		created = append(created, bookings...)
		completed = append(completed, roomID)
	}
	return created, nil
}

// DeleteBooking removes one occurrence. Only its owner or an administrator may
// delete it; siblings of a series are untouched.
func (s *BookingService) DeleteBooking(ctx context.Context, principal Principal, bookingID string) (err error) {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}

	logger := s.loggerWith(ctx, "DeleteBooking", "principal_id", principal.UserID, "booking_id", bookingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking deleted")
	}()

	rows, err := s.store.Select(ctx, persistence.Query{
		Table:   persistence.TableBookings,
		Filters: []persistence.Filter{persistence.Eq(colID, bookingID)},
		Limit:   1,
	})
	if err != nil {
		return storeError("load booking", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	existing, err := bookingFromRow(rows[0])
	if err != nil {
		return backendError("load booking", err)
	}
	if existing.UserID != principal.UserID && !principal.IsAdmin {
		return ErrForbidden
	}

	n, err := s.store.Delete(ctx, persistence.TableBookings, []persistence.Filter{persistence.Eq(colID, bookingID)})
	if err != nil {
		return storeError("delete booking", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return nil
}

// ListBookings returns bookings overlapping the filter window, ordered by start.
func (s *BookingService) ListBookings(ctx context.Context, filter BookingFilter) (bookings []Booking, err error) {
	if s == nil {
		return nil, fmt.Errorf("BookingService is nil")
	}
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return nil, newValidationError(ErrInvalidTimeRange)
	}

	logger := s.loggerWith(ctx, "ListBookings", "room_ids", filter.RoomIDs)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(bookings)).DebugContext(ctx, "bookings listed")
	}()

	var filters []persistence.Filter
	if rooms := uniqueStrings(filter.RoomIDs); len(rooms) > 0 {
		filters = append(filters, persistence.In(colRoomID, rooms))
	}
	if filter.To != nil {
		filters = append(filters, persistence.Lt(colStartTime, timeutil.FormatInstant(*filter.To)))
	}
	if filter.From != nil {
		filters = append(filters, persistence.Gt(colEndTime, timeutil.FormatInstant(*filter.From)))
	}

	rows, err := s.store.Select(ctx, persistence.Query{
		Table:   persistence.TableBookings,
		Filters: filters,
		Order:   &persistence.Order{Column: colStartTime},
		Limit:   filter.Limit,
	})
	if err != nil {
		return nil, storeError("list bookings", err)
	}
	bookings, err = bookingsFromRows(rows)
	if err != nil {
		return nil, backendError("list bookings", err)
	}
	return bookings, nil
}

// checkAndInsert runs the conflict check for every occurrence in order and
// then inserts the rows in one call. Subscribers hear about the rows once the
// room lock is released.
func (s *BookingService) checkAndInsert(ctx context.Context, logger *slog.Logger, template Booking, occurrences []recurrence.Occurrence, series bool) ([]Booking, error) {
	created, err := s.insertLocked(ctx, logger, template, occurrences, series)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, logger, created)
	return created, nil
}

// notify publishes created under its own deadline so a slow broker neither
// fails nor stalls the request past notifyTimeout.
func (s *BookingService) notify(ctx context.Context, logger *slog.Logger, created []Booking) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.BookingsCreated(notifyCtx, created); err != nil {
		logger.WarnContext(ctx, "booking notification failed", "error", err, "bookings", len(created))
	}
}

func (s *BookingService) insertLocked(ctx context.Context, logger *slog.Logger, template Booking, occurrences []recurrence.Occurrence, series bool) ([]Booking, error) {
	if s.locker != nil {
		release, err := s.locker.LockRoom(ctx, template.RoomID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, backendError("lock room", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "room lock release failed", "error", err)
			}
		}()
	}

	logger.DebugContext(ctx, "booking stage", "stage", stageCheckingConflicts, "occurrences", len(occurrences))
	for _, occ := range occurrences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		existing, err := s.detector.FindConflict(ctx, template.RoomID, occ.Start, occ.End)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			message := s.detector.Describe(*existing, s.roomName(ctx, template.RoomID))
			if series {
				message = fmt.Sprintf("Conflict on %s: %s", timeutil.FormatDate(occ.Start, s.engine.Location()), message)
			}
			return nil, &ConflictError{RoomID: template.RoomID, BookingID: existing.ID, Message: message}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "booking stage", "stage", stageInserting)
	rows := make([]persistence.Row, 0, len(occurrences))
	for _, occ := range occurrences {
		b := template
		b.Start = occ.Start
		b.End = occ.End
		rows = append(rows, bookingRow(b))
	}

	stored, err := s.store.Insert(ctx, persistence.TableBookings, rows)
	if err != nil {
		if errors.Is(err, persistence.ErrOverlap) {
			return nil, &ConflictError{
				RoomID:  template.RoomID,
				Message: fmt.Sprintf("Room %q was booked by another request for an overlapping time", s.roomName(ctx, template.RoomID)),
			}
		}
		return nil, storeError("insert bookings", err)
	}
	if len(stored) != len(rows) {
		return nil, backendError("insert bookings", fmt.Errorf("%w: stored %d of %d rows", persistence.ErrMalformedRow, len(stored), len(rows)))
	}

	created, err := bookingsFromRows(stored)
	if err != nil {
		return nil, backendError("insert bookings", err)
	}
	return created, nil
}

func (s *BookingService) roomName(ctx context.Context, roomID string) string {
	if s.rooms == nil {
		return roomID
	}
	if name := s.rooms.RoomName(ctx, roomID); name != "" {
		return name
	}
	return roomID
}

// checkSeriesDisjoint rejects a series whose own occurrences overlap.
func (s *BookingService) checkSeriesDisjoint(roomID string, occurrences []recurrence.Occurrence) error {
	windows := make([]scheduler.Window, len(occurrences))
	for i, occ := range occurrences {
		windows[i] = scheduler.Window{Start: occ.Start, End: occ.End}
	}
	first, second, ok := scheduler.FirstOverlap(windows)
	if !ok {
		return nil
	}
	loc := s.engine.Location()
	return &ConflictError{
		RoomID: roomID,
		Message: fmt.Sprintf("Occurrences on %s and %s overlap each other",
			timeutil.FormatDate(occurrences[first].Start, loc),
			timeutil.FormatDate(occurrences[second].Start, loc)),
	}
}

// template validates req and builds the booking fields shared by every
// occurrence.
func (s *BookingService) template(req BookingRequest) (Booking, error) {
	// Stored instants keep milliseconds only; compare what will be persisted.
	start := timeutil.TruncateInstant(req.Start)
	end := timeutil.TruncateInstant(req.End)
	if !end.After(start) || !timeutil.Storable(start) || !timeutil.Storable(end) {
		return Booking{}, newValidationError(ErrInvalidTimeRange)
	}

	vErr := newValidationError(ErrInvalidBooking)
	roomID := strings.TrimSpace(req.RoomID)
	userID := strings.TrimSpace(req.UserID)
	title := strings.TrimSpace(req.Title)
	if roomID == "" {
		vErr.add("room_id", "room is required")
	}
	if userID == "" {
		vErr.add("user_id", "user is required")
	}
	if title == "" {
		vErr.add("title", "title is required")
	}
	if vErr.HasErrors() {
		return Booking{}, vErr
	}

	return Booking{
		RoomID:      roomID,
		UserID:      userID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Start:       start,
		End:         end,
		Authorizer:  s.canonicalAuthorizer(req.Authorizer),
	}, nil
}

// canonicalAuthorizer maps a known approver to its catalog spelling, keeps
// other text trimmed and drops blanks.
func (s *BookingService) canonicalAuthorizer(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	for _, name := range s.approvers {
		if strings.EqualFold(name, trimmed) {
			canonical := name
			return &canonical
		}
	}
	return &trimmed
}

func validateRecurrence(rec RecurrenceRequest) error {
	vErr := newValidationError(ErrInvalidRecurrence)
	switch rec.Type {
	case recurrence.TypeDaily, recurrence.TypeWeekly, recurrence.TypeMonthly:
	default:
		vErr.add("type", fmt.Sprintf("unsupported recurrence type %q", rec.Type))
	}
	if rec.Interval < 1 {
		vErr.add("interval", "interval must be at least 1")
	}
	if rec.Until != nil && !timeutil.Storable(*rec.Until) {
		vErr.add("until", "end date is out of range")
	}
	for _, d := range rec.Weekdays {
		if !timeutil.ValidWeekday(d) {
			vErr.add("weekdays", fmt.Sprintf("invalid weekday %d", int(d)))
			break
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func mapExpandError(err error) error {
	switch {
	case errors.Is(err, recurrence.ErrInvalidDuration):
		return newValidationError(ErrInvalidTimeRange)
	case errors.Is(err, recurrence.ErrTooManyOccurrences):
		vErr := newValidationError(ErrInvalidRecurrence)
		vErr.add("until", err.Error())
		return vErr
	case errors.Is(err, recurrence.ErrInvalidType),
		errors.Is(err, recurrence.ErrInvalidInterval),
		errors.Is(err, recurrence.ErrInvalidWeekday):
		vErr := newValidationError(ErrInvalidRecurrence)
		vErr.add("recurrence", err.Error())
		return vErr
	}
	return err
}

func dedupeWeekdays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[time.Weekday]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
