// Package docstore holds the proof-of-ticket artifacts. It is a separate
// resource outside the ledger's transactional boundary: writes are
// best-effort with their own retry, and a failure here never rolls back a
// committed ownership transfer.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"resale-market/utils"
)

var ErrDocumentNotFound = errors.New("document: not found")

// Store is the injected document store handle.
type Store interface {
	// Store writes an opaque payload and returns its reference.
	Store(ctx context.Context, data []byte) (string, error)

	// Fetch returns the payload for a reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// RedisStore keeps documents as plain Redis values under document:<ref>.
// Calls go through a circuit breaker so a dead store fails fast instead of
// stalling purchase completions.
type RedisStore struct {
	redis   *redis.Client
	breaker *utils.CircuitBreaker
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{
		redis:   redisClient,
		breaker: utils.NewCircuitBreaker("docstore"),
	}
}

func (s *RedisStore) Store(ctx context.Context, data []byte) (string, error) {
	ref, err := utils.GenerateCode(16)
	if err != nil {
		return "", err
	}

	err = s.breaker.Execute(ctx, func() error {
		return s.redis.Set(ctx, documentKey(ref), data, 0).Err()
	})
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return ref, nil
}

func (s *RedisStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.breaker.Execute(ctx, func() error {
		var getErr error
		data, getErr = s.redis.Get(ctx, documentKey(ref)).Bytes()
		return getErr
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return data, nil
}

func documentKey(ref string) string {
	return fmt.Sprintf("document:%s", ref)
}

// MemoryStore backs tests and the local development driver.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Store(ctx context.Context, data []byte) (string, error) {
	ref, err := utils.GenerateCode(16)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *MemoryStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[ref]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len reports the number of stored documents. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
