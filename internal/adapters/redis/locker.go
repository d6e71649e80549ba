package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it still holds our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a SET NX PX mutex shared by every instance. A holder extends the TTL every
// third of it until release, so the TTL only bounds how long a crashed holder blocks
// numbering.
type Locker struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
	renew  time.Duration
	retry  time.Duration
	log    *slog.Logger
}

// NewLocker creates a locker whose keys are scoped by issuer.
func NewLocker(client *goredis.Client, issuerTaxID string, ttl time.Duration, log *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Locker{
		client: client,
		prefix: "afip:lock:" + issuerTaxID + ":",
		ttl:    ttl,
		renew:  ttl / 3,
		retry:  50 * time.Millisecond,
		log:    log,
	}
}

// Lock blocks until key is acquired or ctx ends. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		}
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			stop := l.keepAlive(fullKey, token)
			var once sync.Once
			return func() {
				once.Do(func() {
					stop()
					l.release(fullKey, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepAlive extends key while it holds token. The returned func stops it and waits.
func (l *Locker) keepAlive(key, token string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(l.renew)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), l.renew)
			n, err := renewScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				l.log.Warn("Failed to extend numbering lock", "lock", key, "error", err)
			case n == 0:
				l.log.Error("Numbering lock lost while held", "lock", key)
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (l *Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.log.Warn("Failed to release numbering lock, it will expire on its own",
			"lock", key,
			"error", err,
		)
	}
}
