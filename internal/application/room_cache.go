package application

import (
	"sync"
	"time"
)

// roomCache keeps the last room catalog read for a short time so conflict
// messages and listings do not query the store on every call.
type roomCache struct {
	mu        sync.RWMutex
	now       func() time.Time
	ttl       time.Duration
	rooms     []Room
	expiresAt time.Time
}

func newRoomCache(ttl time.Duration, now func() time.Time) *roomCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &roomCache{now: now, ttl: ttl}
}

func (c *roomCache) Get() ([]Room, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rooms == nil || c.now().After(c.expiresAt) {
		return nil, false
	}
	return cloneRooms(c.rooms), true
}

func (c *roomCache) Store(rooms []Room) {
	if c == nil {
		return
	}
	cloned := cloneRooms(rooms)
	if cloned == nil {
		cloned = []Room{}
	}
	c.mu.Lock()
	c.rooms = cloned
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()
}

func (c *roomCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.rooms = nil
	c.mu.Unlock()
}

func cloneRooms(rooms []Room) []Room {
	if rooms == nil {
		return nil
	}
	out := make([]Room, len(rooms))
	for i, r := range rooms {
		out[i] = r
		if r.Capacity != nil {
			capacity := *r.Capacity
			out[i].Capacity = &capacity
		}
	}
	return out
}
