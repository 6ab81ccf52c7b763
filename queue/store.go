package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/syndtr/goleveldb/leveldb"
)

// Store is the durable key-value area where deferred actions are kept.
// Values are JSON-encoded arrays of actions.
//
// Implementations must be thread-safe!
type Store interface {
	// Get returns the value for the key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores the value, replacing any previous one.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// ---- leveldb ----

type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) the LevelDB database in the given directory.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.db.Get([]byte("q:"+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *LevelDBStore) Set(_ context.Context, key string, value []byte) error {
	return s.db.Put([]byte("q:"+key), value, nil)
}

func (s *LevelDBStore) Delete(_ context.Context, key string) error {
	return s.db.Delete([]byte("q:"+key), nil)
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// ---- redis ----

// RedisStore keeps the lists in Redis, so several proxy instances can share them.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to the given redis:// URL.
// Keys are namespaced with the prefix, e.g. `v1:offline:`.
func NewRedisStore(ctx context.Context, url, keyPrefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get value: %w", err)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.keyPrefix+key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Unlink(ctx, s.keyPrefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ---- memory ----

type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[key]
	return b, ok, nil
}

func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.m[key] = stored
	return nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
