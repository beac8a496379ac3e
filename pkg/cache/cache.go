// Package cache stores validated response envelopes keyed by query
// fingerprint. Only the delegate path writes here, and only for queries the
// router classified as cacheable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/zen-systems/cmdgate/pkg/schema"
)

// Fingerprint derives the cache key for a query: lowercase, whitespace
// collapsed, then SHA-256. Exact-match only; no semantic similarity.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Entry is one cached envelope with its lifetime bounds.
type Entry struct {
	Key       string
	Envelope  schema.ResponseEnvelope
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is the cache backend. A miss is (nil, false, nil); errors are
// reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, env *schema.ResponseEnvelope) error
	Close() error
}

// MemoryStore is the in-process cache backend. Expired entries are dropped
// lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration

	now func() time.Time // test hook
}

// NewMemoryStore creates an in-memory store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.Expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return entry, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, env *schema.ResponseEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := *env
	stored.CacheHit = false
	s.entries[key] = &Entry{
		Key:       key,
		Envelope:  stored,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
