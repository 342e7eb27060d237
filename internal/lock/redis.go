package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block a document.
	DefaultTTL = 2 * time.Minute

	// DefaultPollInterval is the wait between acquisition attempts.
	DefaultPollInterval = 100 * time.Millisecond

	keyPrefix      = "asksudo:lock:"
	releaseTimeout = 5 * time.Second
)

var _ Locker = (*Redis)(nil)

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript refreshes the TTL only when the key still carries our token.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisConfig tunes a Redis locker.
type RedisConfig struct {
	// TTL is the lock lifetime; a held lock is refreshed every TTL/3.
	TTL time.Duration

	// PollInterval is the wait between SET NX attempts while contended.
	PollInterval time.Duration

	// Logger receives refresh and release failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Redis is a Locker shared across processes. Each acquisition stores a
// unique token so only the holder can release or refresh it.
type Redis struct {
	client   redis.UniversalClient
	cfg      RedisConfig
	instance string
	seq      atomic.Uint64
}

// NewRedis returns a Redis locker on client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Redis{client: client, cfg: cfg, instance: instanceID()}
}

// instanceID identifies this process as hostname:pid:random.
func instanceID() string {
	hostname, _ := os.Hostname()
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(b))
}

// Lock implements Locker. It polls SET NX PX until the key is free or ctx is
// done, then refreshes the TTL in the background until released.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := fmt.Sprintf("%s:%d", l.instance, l.seq.Add(1))

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err()
			if err != nil && !errors.Is(err, redis.Nil) {
				l.cfg.Logger.Warn("lock: release failed; key will expire", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *Redis) keepAlive(redisKey, token string, stop <-chan struct{}) {
	t := time.NewTicker(l.cfg.TTL / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.cfg.TTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				l.cfg.Logger.Warn("lock: refresh failed", "key", redisKey, "error", err)
				continue
			}
			if n == 0 {
				l.cfg.Logger.Warn("lock: lost before release", "key", redisKey)
				return
			}
		}
	}
}

// Ping checks the Redis connection.
func (l *Redis) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("lock: redis ping: %w", err)
	}
	return nil
}
