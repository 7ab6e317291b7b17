package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultGateTTL bounds how long a crashed holder can block an order.
const DefaultGateTTL = 5 * time.Second

// GateKey names the lock for one merchant order.
func GateKey(merchantID, orderID string) string {
	return "payment:gate:" + merchantID + ":" + orderID
}

// Lease is a held gate. Only the owner may release it.
type Lease struct {
	Key   string
	Owner string
}

// Gate serializes session creation per merchant order. TryEnter does not
// wait: false means another request holds the gate and the caller should retry.
type Gate interface {
	TryEnter(ctx context.Context, merchantID, orderID string) (Lease, bool, error)
	Exit(ctx context.Context, lease Lease) error
}

// owners hands out tokens unique to this process and call.
type owners struct {
	instance string
	seq      atomic.Uint64
}

func newOwners() *owners {
	return &owners{instance: uuid.NewString()}
}

func (o *owners) next() string {
	return fmt.Sprintf("%s:%d", o.instance, o.seq.Add(1))
}

// MemoryGate is a process-local Gate.
type MemoryGate struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	owners  *owners
	holders map[string]holder
}

type holder struct {
	owner   string
	expires time.Time
}

// NewMemoryGate creates a gate whose leases lapse after ttl.
func NewMemoryGate(ttl time.Duration) *MemoryGate {
	return &MemoryGate{
		ttl:     ttl,
		now:     time.Now,
		owners:  newOwners(),
		holders: make(map[string]holder),
	}
}

func (g *MemoryGate) TryEnter(_ context.Context, merchantID, orderID string) (Lease, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := GateKey(merchantID, orderID)
	now := g.now()
	if h, ok := g.holders[key]; ok && now.Before(h.expires) {
		return Lease{}, false, nil
	}
	lease := Lease{Key: key, Owner: g.owners.next()}
	g.holders[key] = holder{owner: lease.Owner, expires: now.Add(g.ttl)}
	return lease, true, nil
}

func (g *MemoryGate) Exit(_ context.Context, lease Lease) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if h, ok := g.holders[lease.Key]; ok && h.owner == lease.Owner {
		delete(g.holders, lease.Key)
	}
	return nil
}
