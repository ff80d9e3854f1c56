package presence

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis shares session counts between instances. Keys: <prefix>:presence:<roomId>
// is a hash of userId -> open sessions.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(roomId string) string {
	return fmt.Sprintf("%s:presence:%s", r.prefix, roomId)
}

func (r *Redis) Enter(ctx context.Context, roomId, userId string) (bool, error) {
	n, err := r.client.HIncrBy(ctx, r.key(roomId), userId, 1).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence enter")
	}
	return n == 1, nil
}

func (r *Redis) Leave(ctx context.Context, roomId, userId string) (bool, error) {
	n, err := r.client.HIncrBy(ctx, r.key(roomId), userId, -1).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence leave")
	}
	if n > 0 {
		return false, nil
	}
	if err := r.client.HDel(ctx, r.key(roomId), userId).Err(); err != nil {
		return false, errors.Wrap(err, "presence leave")
	}
	return n == 0, nil
}

func (r *Redis) Viewing(ctx context.Context, roomId, userId string) (bool, error) {
	n, err := r.client.HGet(ctx, r.key(roomId), userId).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "presence lookup")
	}
	return n > 0, nil
}
