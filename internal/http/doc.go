// Package http exposes the booking core over an echo router.
//
// Endpoints:
//   - GET /healthz: liveness probe, plain "ok".
//   - GET /v1/rooms, GET /v1/rooms/{id}: the room catalog ordered by name.
//   - GET /v1/approvers: known approver names offered for the authorizer field.
//   - GET /v1/bookings?from&to&room_id: consolidated calendar. room_id may be
//     repeated; from and to accept RFC 3339 instants or YYYY-MM-DD dates.
//   - GET /v1/calendar.ics: the same query rendered as text/calendar.
//   - POST /v1/bookings: creates a single, recurring or multi-room booking
//     from the `createBookingRequest` payload in booking_handler.go.
//   - DELETE /v1/bookings/{id}: deletes one occurrence (owner or admin).
//   - POST /v1/conflicts: pre-flight conflict check for one room and window.
//
// Every /v1 route requires an `Authorization: Bearer <jwt>` header signed
// with the shared HS256 secret. The token subject is the acting user.
package http
