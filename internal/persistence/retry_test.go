package persistence

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyStore struct {
	selectErrs []error
	insertErrs []error
	selects    int
	inserts    int
}

func (f *flakyStore) Select(ctx context.Context, q Query) ([]Row, error) {
	f.selects++
	if len(f.selectErrs) > 0 {
		err := f.selectErrs[0]
		f.selectErrs = f.selectErrs[1:]
		return nil, err
	}
	return []Row{{"id": "b-1"}}, nil
}

func (f *flakyStore) Insert(ctx context.Context, table string, rows []Row) ([]Row, error) {
	f.inserts++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		return nil, err
	}
	return rows, nil
}

func (f *flakyStore) Delete(ctx context.Context, table string, filters []Filter) (int, error) {
	return 0, nil
}

func newTestRetrying(next RowStore, retries int) (*Retrying, *[]time.Duration) {
	r := NewRetrying(next, RetryConfig{MaxRetries: retries, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, BackoffFactor: 2}, nil)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRetrying_Select(t *testing.T) {
	t.Parallel()

	t.Run("retries transient failures with capped backoff", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{selectErrs: []error{ErrRateLimited, ErrUnavailable, ErrRateLimited}}
		store, slept := newTestRetrying(inner, 3)

		rows, err := store.Select(context.Background(), Query{Table: TableBookings})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rows) != 1 || inner.selects != 4 {
			t.Fatalf("expected success on 4th attempt, got rows=%d attempts=%d", len(rows), inner.selects)
		}
		want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
		for i, d := range want {
			if (*slept)[i] != d {
				t.Fatalf("delay %d: expected %s, got %s", i, d, (*slept)[i])
			}
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{selectErrs: []error{ErrUnavailable, ErrUnavailable, ErrUnavailable}}
		store, _ := newTestRetrying(inner, 2)

		_, err := store.Select(context.Background(), Query{Table: TableBookings})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if inner.selects != 3 {
			t.Fatalf("expected 3 attempts, got %d", inner.selects)
		}
	})

	t.Run("does not retry permanent failures", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{selectErrs: []error{ErrUnknownTable}}
		store, _ := newTestRetrying(inner, 3)

		if _, err := store.Select(context.Background(), Query{Table: "nope"}); !errors.Is(err, ErrUnknownTable) {
			t.Fatalf("expected ErrUnknownTable, got %v", err)
		}
		if inner.selects != 1 {
			t.Fatalf("expected a single attempt, got %d", inner.selects)
		}
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{selectErrs: []error{ErrRateLimited, ErrRateLimited}}
		store, _ := newTestRetrying(inner, 3)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := store.Select(ctx, Query{Table: TableBookings}); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRetrying_Insert(t *testing.T) {
	t.Parallel()

	t.Run("retries rate limiting", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{insertErrs: []error{ErrRateLimited}}
		store, _ := newTestRetrying(inner, 3)

		if _, err := store.Insert(context.Background(), TableBookings, []Row{{"title": "x"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inner.inserts != 2 {
			t.Fatalf("expected 2 attempts, got %d", inner.inserts)
		}
	})

	t.Run("never replays an insert after an unavailable backend", func(t *testing.T) {
		t.Parallel()
		inner := &flakyStore{insertErrs: []error{ErrUnavailable}}
		store, _ := newTestRetrying(inner, 3)

		if _, err := store.Insert(context.Background(), TableBookings, []Row{{"title": "x"}}); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
		if inner.inserts != 1 {
			t.Fatalf("expected a single attempt, got %d", inner.inserts)
		}
	})
}
