// Package vault holds raw card credentials between card submission and
// payment confirmation. Entries live for a bounded retention window.
package vault

import (
	"context"
	"errors"
	"sync"
	"time"

	"paygate/internal/payment/domain"
)

// DefaultRetention is how long credentials may stay in the vault.
const DefaultRetention = 30 * time.Minute

// ErrCredentialsNotFound is returned when no live credentials exist for a key.
var ErrCredentialsNotFound = errors.New("card credentials not found")

// CardVault stores credentials by payment key.
type CardVault interface {
	Store(ctx context.Context, paymentKey string, creds domain.CardCredentials) error
	Retrieve(ctx context.Context, paymentKey string) (domain.CardCredentials, error)
	Delete(ctx context.Context, paymentKey string) error
	// Purge removes every entry past retention and reports how many went.
	Purge(ctx context.Context) (int, error)
}

// MemoryVault keeps credentials in process memory.
type MemoryVault struct {
	mu        sync.Mutex
	retention time.Duration
	now       func() time.Time
	entries   map[string]memoryEntry
}

type memoryEntry struct {
	creds     domain.CardCredentials
	expiresAt time.Time
}

// NewMemoryVault creates a vault with the given retention.
func NewMemoryVault(retention time.Duration) *MemoryVault {
	return &MemoryVault{
		retention: retention,
		now:       time.Now,
		entries:   make(map[string]memoryEntry),
	}
}

func (v *MemoryVault) Store(_ context.Context, paymentKey string, creds domain.CardCredentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[paymentKey] = memoryEntry{creds: creds, expiresAt: v.now().Add(v.retention)}
	return nil
}

func (v *MemoryVault) Retrieve(_ context.Context, paymentKey string) (domain.CardCredentials, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[paymentKey]
	if !ok {
		return domain.CardCredentials{}, ErrCredentialsNotFound
	}
	if !v.now().Before(e.expiresAt) {
		delete(v.entries, paymentKey)
		return domain.CardCredentials{}, ErrCredentialsNotFound
	}
	return e.creds, nil
}

func (v *MemoryVault) Delete(_ context.Context, paymentKey string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, paymentKey)
	return nil
}

func (v *MemoryVault) Purge(_ context.Context) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	n := 0
	for k, e := range v.entries {
		if !now.Before(e.expiresAt) {
			delete(v.entries, k)
			n++
		}
	}
	return n, nil
}
