// Package lock provides a Redis-backed per-room mutex used to serialise
// conflict checks and inserts for the same room across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the room lock could not be acquired in time.
var ErrLocked = errors.New("lock: room is locked")

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// extendScript resets the lease TTL while the key still holds our token.
const extendScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// commander is the subset of *redis.Client the locker needs.
type commander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker implements application.RoomLocker with SET NX PX leases.
type RedisLocker struct {
	client     commander
	ttl        time.Duration
	wait       time.Duration
	retryEvery time.Duration
	prefix     string
	newToken   func() string
	logger     *slog.Logger
}

// Option customises a RedisLocker.
type Option func(*RedisLocker)

// WithWait bounds how long LockRoom polls for a held lock. Zero fails at once.
func WithWait(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d >= 0 {
			l.wait = d
		}
	}
}

// WithRetryInterval sets the polling interval while waiting.
func WithRetryInterval(d time.Duration) Option {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryEvery = d
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLogger sets the logger for release failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRedisLocker returns a locker whose leases expire after ttl so a crashed
// holder cannot block a room forever.
func NewRedisLocker(client *redis.Client, ttl time.Duration, opts ...Option) *RedisLocker {
	return newLocker(client, ttl, opts...)
}

func newLocker(client commander, ttl time.Duration, opts ...Option) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	l := &RedisLocker{
		client:     client,
		ttl:        ttl,
		wait:       ttl,
		retryEvery: 50 * time.Millisecond,
		prefix:     "booking:room-lock:",
		newToken:   uuid.NewString,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LockRoom acquires the lease for roomID, polling until the wait budget or ctx
// runs out. The lease is renewed until release is called or ctx ends. Release
// may be called more than once; only the first call has an effect.
func (l *RedisLocker) LockRoom(ctx context.Context, roomID string) (func(context.Context) error, error) {
	key := l.prefix + roomID
	token := l.newToken()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, roomID)
		}

		timer := time.NewTimer(l.retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(ctx, key, token, roomID, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-done
			err = l.release(ctx, key, token, roomID)
		})
		return err
	}, nil
}

// keepAlive extends the lease every third of its TTL until stop is closed or
// ctx ends, so a long conflict scan does not outlive the lock.
func (l *RedisLocker) keepAlive(ctx context.Context, key, token, roomID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.client.Eval(ctx, extendScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				l.logger.WarnContext(ctx, "room lock renewal failed", "room_id", roomID, "error", err)
				continue
			}
			if n == 0 {
				l.logger.WarnContext(ctx, "room lock lost before renewal", "room_id", roomID)
				return
			}
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, key, token, roomID string) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", key, err)
	}
	if n == 0 {
		l.logger.WarnContext(ctx, "room lock expired before release", "room_id", roomID, "ttl", l.ttl)
	}
	return nil
}
