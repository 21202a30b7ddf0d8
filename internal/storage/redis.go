package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "shopwatch/pkg/logx"
)

const defaultRedisKey = "shopwatch:subscribers"

// redisStore keeps the set in one list key. An empty set is stored as a list
// holding a single sentinel so "saved empty" differs from "never saved".
type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

const redisEmptySentinel = "\x00"

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.RedisKey)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Load(ctx context.Context) ([]string, bool, error) {
	typ, err := s.client.Type(ctx, s.key).Result()
	if err != nil {
		return nil, false, err
	}
	switch typ {
	case "none":
		if err := s.Save(ctx, nil); err != nil {
			return nil, false, err
		}
		return []string{}, false, nil
	case "list":
	default:
		return nil, true, fmt.Errorf("%w: key %s has type %s", ErrCorrupt, s.key, typ)
	}

	vals, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, true, err
	}
	ids := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == redisEmptySentinel {
			continue
		}
		ids = append(ids, v)
	}
	return ids, true, nil
}

func (s *redisStore) Save(ctx context.Context, ids []string) error {
	vals := make([]any, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, id)
	}
	if len(vals) == 0 {
		vals = append(vals, redisEmptySentinel)
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key)
		p.RPush(ctx, s.key, vals...)
		return nil
	})
	return err
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
