package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrUnknownTable is returned when a query names a table the store does not serve.
	ErrUnknownTable = errors.New("persistence: unknown table")
	// ErrUnknownColumn is returned when a filter, order or row names an undeclared column.
	ErrUnknownColumn = errors.New("persistence: unknown column")
	// ErrRateLimited is returned when the backend rejected the request before processing it.
	ErrRateLimited = errors.New("persistence: rate limited")
	// ErrUnavailable is returned for transient backend failures (locks, lost connections).
	ErrUnavailable = errors.New("persistence: backend unavailable")
	// ErrOverlap is returned when the store's own overlap guard rejects an insert.
	ErrOverlap = errors.New("persistence: overlapping booking")
	// ErrConstraintViolation is returned when a row breaks a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrDuplicate is returned when an insert reuses an existing identifier.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrMalformedRow is returned when a stored row cannot be mapped onto its type.
	ErrMalformedRow = errors.New("persistence: malformed row")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
