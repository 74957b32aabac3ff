package registry

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "shop-bridge:"

// Redis хранит состояния в Redis, чтобы несколько экземпляров видели одни и те же ожидания.
// TTL не ставится: поведение совпадает с хранилищем в памяти.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(k Key) string { return r.prefix + k.String() }

func (r *Redis) Set(ctx context.Context, key Key, value string) error {
	return r.rdb.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Get(ctx context.Context, key Key) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Has(ctx context.Context, key Key) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

// Take использует GETDEL, Redis выполняет его атомарно.
func (r *Redis) Take(ctx context.Context, key Key) (string, bool, error) {
	v, err := r.rdb.GetDel(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
