// Package guard holds the concurrency guards in front of session creation:
// the idempotency-key guard and the per-order exclusive gate.
package guard

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"paygate/internal/payment/domain"
)

// Fingerprint is the canonical form of a ready request.
func Fingerprint(merchantID, orderID string, totalAmount int64) string {
	return merchantID + ":" + orderID + ":" + strconv.FormatInt(totalAmount, 10)
}

// Store maps idempotency keys to request fingerprints. PutIfAbsent must be
// atomic: when the key is taken it returns the stored value and false.
type Store interface {
	PutIfAbsent(ctx context.Context, key, value string) (existing string, stored bool, err error)
}

// IdempotencyGuard rejects a reused idempotency key carrying a different request.
type IdempotencyGuard struct {
	store Store
}

// NewIdempotencyGuard creates a guard over store.
func NewIdempotencyGuard(store Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: store}
}

// Check records fingerprint under key on first use. A repeat with the same
// fingerprint passes, a repeat with another one fails with IDEMPOTENCY_CONFLICT.
func (g *IdempotencyGuard) Check(ctx context.Context, key, fingerprint string) error {
	existing, stored, err := g.store.PutIfAbsent(ctx, key, fingerprint)
	if err != nil {
		return fmt.Errorf("checking idempotency key: %w", err)
	}
	if stored || existing == fingerprint {
		return nil
	}
	return domain.ErrIdempotencyConflict
}

// MemoryStore is a process-local Store with a retention window.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryStore creates a store that forgets keys after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key, value string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		return e.value, false, nil
	}
	s.entries[key] = memoryEntry{value: value, expires: now.Add(s.ttl)}
	return value, true, nil
}

// Sweep drops expired keys.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}
