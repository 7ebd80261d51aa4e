package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const deliveryLockPrefix = "escrow:webhook:lock:"

// releaseScript deletes the key only while it still holds the caller's token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// ErrLockNotHeld is returned by Release when the lock expired or was taken over.
var ErrLockNotHeld = errors.New("delivery lock not held")

// DeliveryLock serializes concurrent deliveries of the same provider event
type DeliveryLock struct {
	client   redis.Cmdable
	logger   *slog.Logger
	ttl      time.Duration
	newToken func() string
}

func NewDeliveryLock(logger *slog.Logger, client redis.Cmdable, ttl time.Duration) *DeliveryLock {
	return &DeliveryLock{
		client:   client,
		logger:   logger,
		ttl:      ttl,
		newToken: uuid.NewString,
	}
}

func lockKey(event, reference string) string {
	return deliveryLockPrefix + event + ":" + reference
}

// Acquire takes the lock for (event, reference). It returns an empty token
// and no error when another worker holds it.
func (l *DeliveryLock) Acquire(ctx context.Context, event, reference string) (string, error) {
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, lockKey(event, reference), token, l.ttl).Result()
	if err != nil {
		l.logger.Error("Failed to acquire delivery lock",
			"event", event,
			"reference", reference,
			"error", err)
		return "", fmt.Errorf("failed to acquire delivery lock: %w", err)
	}
	if !ok {
		return "", nil
	}

	return token, nil
}

func (l *DeliveryLock) Release(ctx context.Context, event, reference, token string) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{lockKey(event, reference)}, token).Int64()
	if err != nil {
		l.logger.Error("Failed to release delivery lock",
			"event", event,
			"reference", reference,
			"error", err)
		return fmt.Errorf("failed to release delivery lock: %w", err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}

	return nil
}
