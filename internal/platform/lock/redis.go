package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNilClient is returned when no redis client is supplied.
var ErrNilClient = errors.New("platform/lock: redis client is nil")

// Options tunes the distributed writer lock.
type Options struct {
	// Expiry is the lease length. The holder extends it at half-life until unlock.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultOptions suits ledger writes, which are short but may queue behind a rebuild.
func DefaultOptions() Options {
	return Options{Expiry: 10 * time.Second, Tries: 64, RetryDelay: 100 * time.Millisecond}
}

// RedisLocker serialises ledger writers across processes with a redsync mutex.
type RedisLocker struct {
	rs     *redsync.Redsync
	key    string
	opts   Options
	logger *slog.Logger
}

// NewRedisLocker builds a locker for key over client.
func NewRedisLocker(client *redis.Client, key string, opts Options, logger *slog.Logger) (*RedisLocker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	def := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		key:    key,
		opts:   opts,
		logger: logger,
	}, nil
}

// Lock blocks until the lease is held, retries run out or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	mutex := l.rs.NewMutex(
		l.key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("platform/lock: acquire %s: %w", l.key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(mutex, stop, done)

	return func() {
		close(stop)
		<-done
		// ctx may already be cancelled; the release must still reach redis.
		ok, err := mutex.UnlockContext(context.Background())
		if err != nil || !ok {
			l.logger.Warn("ledger lock release failed", slog.String("key", l.key), slog.Bool("released", ok), slog.Any("error", err))
		}
	}, nil
}

func (l *RedisLocker) keepAlive(mutex *redsync.Mutex, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.opts.Expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if ok, err := mutex.Extend(); err != nil || !ok {
				l.logger.Error("ledger lock lease lost", slog.String("key", l.key), slog.Any("error", err))
				return
			}
		}
	}
}
