package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds the single dataset the service currently answers about.
type Store interface {
	Save(ctx context.Context, frame *Frame) error
	// Load returns ErrNoDataset when nothing was uploaded yet.
	Load(ctx context.Context) (*Frame, error)
	Close() error
}

// StoreType selects a Store driver.
type StoreType string

// StoreOption configures the Store created by NewStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisKey    string
	redisTTL    time.Duration
}

type memoryStore struct {
	mu    sync.RWMutex
	frame *Frame
}

type redisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"

	defaultRedisKey = "datachat:dataset"
	defaultRedisTTL = 24 * time.Hour
)

var (
	// ErrNoDataset is returned by Store.Load before the first upload.
	ErrNoDataset = errors.New("no dataset uploaded")
	// ErrInvalidStoreType is returned by NewStore for unknown drivers.
	ErrInvalidStoreType = errors.New("invalid store type")
	// ErrInvalidStoreConfig is returned by NewStore when a driver misses a required option.
	ErrInvalidStoreConfig = errors.New("invalid store config")
)

// WithRedisClient sets the client of the redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisKey sets the key the redis driver stores the dataset under.
func WithRedisKey(key string) StoreOption {
	return func(c *storeConfig) {
		c.redisKey = key
	}
}

// WithRedisTTL sets how long an idle dataset is kept by the redis driver.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// NewStore creates a Store of the given type. The redis driver requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return &memoryStore{}, nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidStoreConfig
		}
		key := cfg.redisKey
		if key == "" {
			key = defaultRedisKey
		}
		ttl := cfg.redisTTL
		if ttl <= 0 {
			ttl = defaultRedisTTL
		}
		return &redisStore{client: cfg.redisClient, key: key, ttl: ttl}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidStoreType, storeType)
	}
}

func (s *memoryStore) Save(_ context.Context, frame *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = frame
	return nil
}

func (s *memoryStore) Load(context.Context) (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.frame == nil {
		return nil, ErrNoDataset
	}
	return s.frame, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = nil
	return nil
}

func (s *redisStore) Save(ctx context.Context, frame *Frame) error {
	val, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return s.client.Set(ctx, s.key, val, s.ttl).Err()
}

func (s *redisStore) Load(ctx context.Context) (*Frame, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoDataset
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(val, &frame); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, s.key, s.ttl).Err()

	return &frame, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
