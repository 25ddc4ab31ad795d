package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Client = goredis.Client

// Nil is returned by reads on a missing key.
const Nil = goredis.Nil

type ConnectionInfo struct {
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
	// PoolSize of 0 keeps the go-redis default of 10 per CPU.
	PoolSize int
}

func NewRedisConnection(info ConnectionInfo) (*Client, error) {
	if info.Timeout <= 0 {
		info.Timeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:            info.Addr,
		Password:        info.Password,
		DB:              info.DB,
		MaxRetries:      info.MaxRetries,
		DialTimeout:     info.DialTimeout,
		ReadTimeout:     info.Timeout,
		WriteTimeout:    info.Timeout,
		PoolSize:        info.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), info.Timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", info.Addr, err)
	}

	return rdb, nil
}

// CompareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var CompareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func Close(c *Client) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		zap.L().Warn("redis close failed", zap.Error(err))
	}
}
