package dmqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecipientLimiter caps how many DMs one recipient gets per window.
type RecipientLimiter interface {
	Allow(ctx context.Context, recipientID string) (bool, error)
	Record(ctx context.Context, recipientID string) error
}

// RedisRecipientLimiter counts successful sends per recipient in a key that
// expires one window after the first send.
type RedisRecipientLimiter struct {
	Client redis.Cmdable
	Limit  int
	Window time.Duration
}

func NewRedisRecipientLimiter(client redis.Cmdable, limit int) *RedisRecipientLimiter {
	if limit <= 0 {
		limit = 50
	}
	return &RedisRecipientLimiter{Client: client, Limit: limit, Window: time.Hour}
}

func recipientKey(recipientID string) string {
	return fmt.Sprintf("dmqueue:recipient:%s", recipientID)
}

func (l *RedisRecipientLimiter) Allow(ctx context.Context, recipientID string) (bool, error) {
	n, err := l.Client.Get(ctx, recipientKey(recipientID)).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return n < l.Limit, nil
}

// Record counts one send. The first send of a window starts the key's TTL.
func (l *RedisRecipientLimiter) Record(ctx context.Context, recipientID string) error {
	key := recipientKey(recipientID)
	n, err := l.Client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return l.Client.Expire(ctx, key, l.Window).Err()
	}
	// a crash between INCR and EXPIRE would leave a key that never resets
	ttl, err := l.Client.TTL(ctx, key).Result()
	if err != nil {
		return err
	}
	if ttl < 0 {
		return l.Client.Expire(ctx, key, l.Window).Err()
	}
	return nil
}
