// Package memory provides an in-process RowStore used by tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/timeutil"
)

// Store keeps rows per table behind a single RWMutex. Inserts are all or
// nothing.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]persistence.Row

	newID func() string
	now   func() time.Time

	selectHook func(q persistence.Query) error
	insertHook func(table string, rows []persistence.Row) error

	selects int
	inserts int
}

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator overrides uuid-based identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock overrides the created_at time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New returns a Store serving the bookings and rooms tables.
func New(opts ...Option) *Store {
	s := &Store{
		tables: map[string][]persistence.Row{
			persistence.TableBookings: nil,
			persistence.TableRooms:    nil,
		},
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSelectHook installs fn to run before every select; a non-nil result is
// returned instead of querying.
func (s *Store) SetSelectHook(fn func(q persistence.Query) error) {
	s.mu.Lock()
	s.selectHook = fn
	s.mu.Unlock()
}

// SetInsertHook installs fn to run before every insert; a non-nil result is
// returned and nothing is stored.
func (s *Store) SetInsertHook(fn func(table string, rows []persistence.Row) error) {
	s.mu.Lock()
	s.insertHook = fn
	s.mu.Unlock()
}

// Counts reports how many selects and inserts reached the store.
func (s *Store) Counts() (selects, inserts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selects, s.inserts
}

// Rows returns a snapshot of every row in table.
func (s *Store) Rows(table string) []persistence.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]persistence.Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, row.Clone())
	}
	return out
}

// Select implements persistence.RowStore.
func (s *Store) Select(ctx context.Context, q persistence.Query) ([]persistence.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.selects++
	hook := s.selectHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, q.Table)
	}

	out := make([]persistence.Row, 0)
	for _, row := range rows {
		match, err := matches(row, q.Filters)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, row.Clone())
		}
	}

	if q.Order != nil {
		col := q.Order.Column
		desc := q.Order.Descending
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][col], out[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Insert implements persistence.RowStore.
func (s *Store) Insert(ctx context.Context, table string, rows []persistence.Row) ([]persistence.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inserts++
	if s.insertHook != nil {
		if err := s.insertHook(table, rows); err != nil {
			return nil, err
		}
	}

	existing, ok := s.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, table)
	}

	ids := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		if id, ok := row["id"].(string); ok {
			ids[id] = struct{}{}
		}
	}

	createdAt := timeutil.FormatInstant(s.now())
	stored := make([]persistence.Row, 0, len(rows))
	for _, row := range rows {
		clone := row.Clone()
		if id, _ := clone["id"].(string); id == "" {
			clone["id"] = s.newID()
		}
		id := clone["id"].(string)
		if _, dup := ids[id]; dup {
			return nil, fmt.Errorf("%w: %s", persistence.ErrDuplicate, id)
		}
		ids[id] = struct{}{}
		if table == persistence.TableBookings {
			if err := checkWindow(clone); err != nil {
				return nil, err
			}
		}
		if v, _ := clone["created_at"].(string); v == "" {
			clone["created_at"] = createdAt
		}
		stored = append(stored, clone)
	}

	out := make([]persistence.Row, 0, len(stored))
	for _, row := range stored {
		s.tables[table] = append(s.tables[table], row)
		out = append(out, row.Clone())
	}
	return out, nil
}

// checkWindow mirrors the SQL CHECK (end_time > start_time), which only
// applies when both columns are set. Both hold fixed-width instants, so string
// order is time order.
func checkWindow(row persistence.Row) error {
	start, okStart := row["start_time"].(string)
	end, okEnd := row["end_time"].(string)
	if okStart && okEnd && end <= start {
		return fmt.Errorf("%w: end_time must be after start_time", persistence.ErrConstraintViolation)
	}
	return nil
}

// Delete implements persistence.RowStore.
func (s *Store) Delete(ctx context.Context, table string, filters []persistence.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.tables[table]
	if !ok {
		return 0, fmt.Errorf("%w: %s", persistence.ErrUnknownTable, table)
	}

	kept := rows[:0:0]
	removed := 0
	for _, row := range rows {
		match, err := matches(row, filters)
		if err != nil {
			return 0, err
		}
		if match {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	return removed, nil
}

func matches(row persistence.Row, filters []persistence.Filter) (bool, error) {
	for _, f := range filters {
		value := row[f.Column]
		switch f.Op {
		case persistence.OpEq:
			if compare(value, f.Value) != 0 {
				return false, nil
			}
		case persistence.OpLt:
			if value == nil || compare(value, f.Value) >= 0 {
				return false, nil
			}
		case persistence.OpLte:
			if value == nil || compare(value, f.Value) > 0 {
				return false, nil
			}
		case persistence.OpGt:
			if value == nil || compare(value, f.Value) <= 0 {
				return false, nil
			}
		case persistence.OpGte:
			if value == nil || compare(value, f.Value) < 0 {
				return false, nil
			}
		case persistence.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return false, fmt.Errorf("memory: filter %s expects []string", f)
			}
			s, _ := value.(string)
			found := false
			for _, v := range values {
				if v == s {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		default:
			return false, fmt.Errorf("memory: unsupported operator %q", f.Op)
		}
	}
	return true, nil
}

// compare orders nil first, then numbers, bools and strings by their natural order.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case string:
		bv := fmt.Sprint(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
