package cart

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by stores when no cart is saved under an id.
var ErrNotFound = errors.New("cart not found")

// Store reads and writes carts.
type Store interface {
	Load(ctx context.Context, id string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps each cart as a JSON value with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore builds a store on an existing client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "cart:"}
}

// NewRedisClient parses a redis:// URL the same way for the server and CLI.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	return redis.NewClient(opts), nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Cart, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load cart %s", id)
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrapf(err, "decode cart %s", id)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	return errors.Wrapf(s.client.Set(ctx, s.key(c.ID), raw, s.ttl).Err(), "save cart %s", c.ID)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return errors.Wrapf(s.client.Del(ctx, s.key(id)).Err(), "delete cart %s", id)
}

// MemoryStore is a process-local Store. Carts are stored encoded so callers
// never share item slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Cart, error) {
	s.mu.RLock()
	raw, ok := s.carts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrapf(err, "decode cart %s", id)
	}
	return &c, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	s.mu.Lock()
	s.carts[c.ID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.carts, id)
	s.mu.Unlock()
	return nil
}
