package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/persistence/memory"
	"github.com/example/facility-booking/internal/testfixtures"
)

func TestRoomService_SeedAndList(t *testing.T) {
	t.Parallel()

	store := memory.New()
	clock := testfixtures.NewClock(time.Time{})
	service := NewRoomService(store, time.Minute, clock.NowFunc())
	ctx := context.Background()

	capacity := 12
	added, err := service.SeedRooms(ctx, []Room{
		{ID: "R2", Name: "beta"},
		{ID: "R1", Name: "Alpha", Description: "Ground floor", Capacity: &capacity},
	})
	if err != nil || added != 2 {
		t.Fatalf("expected 2 rooms added, got %d (%v)", added, err)
	}

	again, err := service.SeedRooms(ctx, []Room{{ID: "R1", Name: "Renamed"}, {ID: "R3", Name: "Gamma"}})
	if err != nil || again != 1 {
		t.Fatalf("expected only the new room to be added, got %d (%v)", again, err)
	}

	rooms, err := service.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms returned error: %v", err)
	}
	if len(rooms) != 3 || rooms[0].Name != "Alpha" || rooms[1].Name != "beta" || rooms[2].Name != "Gamma" {
		t.Fatalf("unexpected room order %+v", rooms)
	}
	if rooms[0].Capacity == nil || *rooms[0].Capacity != 12 || rooms[0].Description != "Ground floor" {
		t.Fatalf("room fields not mapped: %+v", rooms[0])
	}

	selectsBefore, _ := store.Counts()
	if name := service.RoomName(ctx, "R3"); name != "Gamma" {
		t.Fatalf("expected Gamma, got %q", name)
	}
	if selectsAfter, _ := store.Counts(); selectsAfter != selectsBefore {
		t.Fatalf("expected cached catalog, store saw %d more selects", selectsAfter-selectsBefore)
	}

	if _, err := service.GetRoom(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRoomService_Failures(t *testing.T) {
	t.Parallel()

	t.Run("backend errors are classified", func(t *testing.T) {
		t.Parallel()
		store := memory.New()
		store.SetSelectHook(func(q persistence.Query) error { return persistence.ErrUnavailable })
		service := NewRoomService(store, time.Minute, nil)

		if _, err := service.ListRooms(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("expected ErrBackendUnavailable, got %v", err)
		}
		if name := service.RoomName(context.Background(), "R1"); name != "R1" {
			t.Fatalf("expected id fallback, got %q", name)
		}
	})

	t.Run("catalog entries need id and name", func(t *testing.T) {
		t.Parallel()
		service := NewRoomService(memory.New(), time.Minute, nil)
		if _, err := service.SeedRooms(context.Background(), []Room{{ID: "R1"}}); !errors.Is(err, ErrInvalidBooking) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}
