package config

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedisWithRetry pings the configured Redis until it answers or ctx is done.
// It returns the client and a lock client sharing it.
func ConnectRedisWithRetry(ctx context.Context, settings RedisSettings, logg *logrus.Logger) (*redis.Client, *redislock.Client, error) {
	if !settings.Enabled() {
		return nil, nil, errors.New("REDIS_ADDRESS not set")
	}
	poolSize := settings.PoolSize
	if poolSize <= 0 {
		poolSize = 100
	}

	var rdb *redis.Client
	err := connectWithRetry(ctx, logg, "redis:"+settings.Address, func(ctx context.Context) error {
		c := redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
			PoolSize: poolSize,
		})
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return err
		}
		rdb = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return rdb, redislock.New(rdb), nil
}

// GetRedisObject decodes key into dest. A nil client or a missing key reports false.
func GetRedisObject(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func SetRedisObject(ctx context.Context, rdb *redis.Client, key string, obj any, exp time.Duration) error {
	if rdb == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, objInByte, exp).Err()
}

func RemoveRedisKey(ctx context.Context, rdb *redis.Client, keys ...string) error {
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	return rdb.Del(ctx, keys...).Err()
}
