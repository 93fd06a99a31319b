// Package persistence defines the row-store capability the booking core runs
// against. Rows are loosely typed column maps; callers map them onto their own
// types at the boundary.
package persistence

import (
	"context"
	"fmt"
	"strings"
)

// Table names served by the stores.
const (
	TableBookings = "bookings"
	TableRooms    = "rooms"
)

// Row is one stored record keyed by column name. Values are string, bool,
// int64, nil, or a map[string]any / []any for JSON columns.
type Row map[string]any

// Clone returns a copy of r that shares no maps or slices with it.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}

// Operator is a comparison applied by a Filter.
type Operator string

const (
	OpEq  Operator = "eq"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpIn  Operator = "in"
)

// Filter restricts a query to rows where Column Op Value holds. For OpIn the
// value is a []string.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Lt builds a strictly-less-than filter.
func Lt(column string, value any) Filter { return Filter{Column: column, Op: OpLt, Value: value} }

// Gt builds a strictly-greater-than filter.
func Gt(column string, value any) Filter { return Filter{Column: column, Op: OpGt, Value: value} }

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }

// Gte builds a greater-or-equal filter.
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }

// In builds a membership filter.
func In(column string, values []string) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

// String renders the filter for logs.
func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
}

// Order sorts query results by one column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a select against one table.
type Query struct {
	Table   string
	Filters []Filter
	Order   *Order
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// String renders the query for logs.
func (q Query) String() string {
	parts := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s where %s", q.Table, strings.Join(parts, " and "))
}

// RowStore is the table-query capability of the hosted backend.
//
// Insert persists all rows in one request and returns them as stored,
// including server-assigned id and created_at. Implementations must be safe
// for concurrent use.
type RowStore interface {
	Select(ctx context.Context, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows []Row) ([]Row, error)
	Delete(ctx context.Context, table string, filters []Filter) (int, error)
}
