package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spartis/scanviewer/internal/models"
)

// DefaultProgressTTL bounds how long a report is kept after its last update.
const DefaultProgressTTL = time.Hour

// ProgressStore holds the latest report per job so any server instance can
// answer progress queries.
type ProgressStore interface {
	Set(ctx context.Context, jobID string, report models.ProgressReport) error
	// Get returns ok=false for unknown or expired jobs.
	Get(ctx context.Context, jobID string) (report models.ProgressReport, ok bool, err error)
	Delete(ctx context.Context, jobID string) error
}

type memoryEntry struct {
	report  models.ProgressReport
	updated time.Time
}

// MemoryStore is a process-local ProgressStore.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty store. A ttl of zero keeps entries until
// deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Set(ctx context.Context, jobID string, report models.ProgressReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[jobID] = memoryEntry{report: report, updated: s.now()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (models.ProgressReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[jobID]
	if !ok || s.expired(e) {
		return models.ProgressReport{}, false, nil
	}
	return e.report, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, jobID)
	return nil
}

// Cleanup drops expired entries.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return s.ttl > 0 && s.now().Sub(e.updated) > s.ttl
}

// RedisStore keeps reports as JSON strings under "<prefix><jobID>" with an
// expiry refreshed on every update.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOptions configure NewRedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return NewRedisStoreFromClient(rdb, opts.KeyPrefix, opts.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "progress:"
	}
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Set(ctx context.Context, jobID string, report models.ProgressReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+jobID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", jobID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, jobID string) (models.ProgressReport, bool, error) {
	var report models.ProgressReport
	data, err := s.rdb.Get(ctx, s.prefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return report, false, nil
	}
	if err != nil {
		return report, false, fmt.Errorf("redis get %s: %w", jobID, err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, false, fmt.Errorf("decode progress for %s: %w", jobID, err)
	}
	return report, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, jobID string) error {
	return s.rdb.Del(ctx, s.prefix+jobID).Err()
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
