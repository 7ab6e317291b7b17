// Package payment authorizes card payments: it opens checkout sessions for
// merchant orders and runs submitted cards through validation, fraud checks,
// installments, promotions and authentication routing.
package payment

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"paygate/internal/payment/domain"
)

// SessionRepository persists payment sessions. At most one non-expired
// session may exist per merchant order: Create fails with
// domain.ErrSessionDuplicate when another one is already stored.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.PaymentSession) error
	Update(ctx context.Context, session *domain.PaymentSession) error
	// FindOngoingByOrder returns the non-expired session for an order, or nil.
	FindOngoingByOrder(ctx context.Context, merchantID, orderID string) (*domain.PaymentSession, error)
	// FindOngoingByKey returns domain.ErrSessionNotFound when no non-expired session has the key.
	FindOngoingByKey(ctx context.Context, paymentKey string) (*domain.PaymentSession, error)
	// ListExpirable returns non-expired sessions whose ExpiresAt is before cutoff.
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentSession, error)
}

// PaymentRepository persists payments with optimistic versioning. Save
// inserts a payment with Version 0 and updates otherwise, failing with
// domain.ErrVersionConflict when the stored version moved on. A successful
// Save bumps Version.
type PaymentRepository interface {
	Save(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, id string) (*domain.Payment, error)
	// FindByPaymentKey returns domain.ErrPaymentNotFound when absent.
	FindByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error)
}

// BinLookup resolves the BIN of a card number.
type BinLookup interface {
	Lookup(ctx context.Context, cardNumber string) (domain.Bin, error)
}

// PromotionRepository lists the promotions offered for a payment method.
type PromotionRepository interface {
	FindActive(ctx context.Context, method domain.MethodType, at time.Time) ([]*domain.Promotion, error)
}

// KeyGenerator issues payment keys.
type KeyGenerator interface {
	NewKey() string
}

// ULIDGenerator issues monotonic ULIDs.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewULIDGenerator creates a ULID key generator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDGenerator) NewKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// UUIDGenerator issues time-ordered UUIDv7 keys.
type UUIDGenerator struct{}

func (UUIDGenerator) NewKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
