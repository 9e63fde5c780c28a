package messaging

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

func init() {
	registerProducer("redis", func() Producer { return &RedisProducer{} })
}

// RedisProducer publishes to a redis pub/sub channel.
type RedisProducer struct {
	redisClient redis.UniversalClient

	channel string
}

// NewRedisProducer wraps an existing client. Connect does not need to be
// called.
func NewRedisProducer(client redis.UniversalClient, channel string) *RedisProducer {
	return &RedisProducer{redisClient: client, channel: channel}
}

func (redisMQ *RedisProducer) String() string {
	return "redis"
}

func (redisMQ *RedisProducer) Channel() string {
	return redisMQ.channel
}

func (redisMQ *RedisProducer) Connect(ctx context.Context, clientName string, args map[string]any) error {
	address, err := requireString(args, "redis", "Address")
	if err != nil {
		return err
	}

	if redisMQ.channel, err = requireString(args, "redis", "Channel"); err != nil {
		return err
	}

	password, _ := entryString(args, "Password")

	db, err := entryInt(args, "DB", 0)
	if err != nil {
		return fmt.Errorf("redis connect db atoi: %w", err)
	}

	options := &redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}

	if clientName != "" {
		options.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
			return cn.ClientSetName(ctx, clientName).Err()
		}
	}

	redisMQ.redisClient = redis.NewClient(options)

	if err := redisMQ.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connect ping: %w", err)
	}

	return nil
}

func (redisMQ *RedisProducer) Publish(ctx context.Context, _ string, data []byte) error {
	return redisMQ.redisClient.Publish(
		ctx,
		redisMQ.channel,
		data,
	).Err()
}

func (redisMQ *RedisProducer) Close() error {
	if redisMQ.redisClient == nil {
		return nil
	}

	return redisMQ.redisClient.Close()
}
