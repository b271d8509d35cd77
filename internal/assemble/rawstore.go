package assemble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRawNotFound is returned when a raw_ref has expired or never existed.
var ErrRawNotFound = errors.New("raw payload not found")

// RawStore retains original payload bytes behind opaque raw_ref handles.
// Retention is bounded: payloads are evicted after a configured TTL, so
// raw_ref dereferencing is best effort after assembly.
type RawStore interface {
	Put(ctx context.Context, payload []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// RedisRawStore keeps payloads in Redis with a TTL so the retention
// policy survives process restarts and is shared across replicas.
type RedisRawStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRawStore(client *redis.Client, ttl time.Duration) *RedisRawStore {
	return &RedisRawStore{client: client, ttl: ttl}
}

func (s *RedisRawStore) Put(ctx context.Context, payload []byte) (string, error) {
	ref := "raw_" + uuid.NewString()
	if err := s.client.Set(ctx, key(ref), payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *RedisRawStore) Get(ctx context.Context, ref string) ([]byte, error) {
	b, err := s.client.Get(ctx, key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRawNotFound
	}
	return b, err
}

func key(ref string) string { return "lawagent:raw:" + ref }

// MemoryRawStore is the in-process variant for tests and single-node dev
// runs. Expired entries are dropped lazily on read.
type MemoryRawStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]rawEntry
}

type rawEntry struct {
	payload []byte
	addedAt time.Time
}

func NewMemoryRawStore(ttl time.Duration) *MemoryRawStore {
	return &MemoryRawStore{ttl: ttl, now: time.Now, data: map[string]rawEntry{}}
}

func (s *MemoryRawStore) Put(_ context.Context, payload []byte) (string, error) {
	ref := "raw_" + uuid.NewString()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.data[ref] = rawEntry{payload: cp, addedAt: s.now()}
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryRawStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[ref]
	if !ok {
		return nil, ErrRawNotFound
	}
	if s.ttl > 0 && s.now().Sub(e.addedAt) > s.ttl {
		delete(s.data, ref)
		return nil, ErrRawNotFound
	}
	return e.payload, nil
}
