package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"voiceia/internal/ports"
)

const redisKeyPrefix = "voiceia:state:"

// RedisStore persists client state as one JSON value in Redis. It lets
// several client installs share history through a common server.
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

var _ ports.Persister = (*RedisStore)(nil)

// NewRedisStore parses url (redis://host:port/db) and returns a store.
func NewRedisStore(url, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opts), namespace: namespace}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Load(ctx context.Context) (ports.PersistedState, error) {
	data, err := s.rdb.Get(ctx, stateKey(s.namespace)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ports.PersistedState{}, nil
		}
		return ports.PersistedState{}, err
	}
	var state ports.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return ports.PersistedState{}, fmt.Errorf("decode state %q: %w", s.namespace, err)
	}
	return state, nil
}

func (s *RedisStore) Save(ctx context.Context, state ports.PersistedState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(s.namespace), payload, 0).Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func stateKey(namespace string) string {
	return redisKeyPrefix + namespace
}
