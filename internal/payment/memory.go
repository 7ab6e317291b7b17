package payment

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"paygate/internal/payment/domain"
)

// MemorySessionRepository is an in-process SessionRepository.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.PaymentSession
}

// NewMemorySessionRepository creates an empty repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]domain.PaymentSession)}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; ok {
		return domain.ErrSessionDuplicate
	}
	if r.ongoing(session.MerchantID, session.OrderID) != nil {
		return domain.ErrSessionDuplicate
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemorySessionRepository) Update(_ context.Context, session *domain.PaymentSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemorySessionRepository) FindOngoingByOrder(_ context.Context, merchantID, orderID string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s := r.ongoing(merchantID, orderID); s != nil {
		c := cloneSession(s)
		return &c, nil
	}
	return nil, nil
}

func (r *MemorySessionRepository) FindOngoingByKey(_ context.Context, paymentKey string) (*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[paymentKey]
	if !ok || s.Expired {
		return nil, domain.ErrSessionNotFound
	}
	c := cloneSession(&s)
	return &c, nil
}

func (r *MemorySessionRepository) ListExpirable(_ context.Context, cutoff time.Time, limit int) ([]*domain.PaymentSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.PaymentSession
	for _, s := range r.sessions {
		if !s.Expired && s.ExpiresAt.Before(cutoff) {
			c := cloneSession(&s)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemorySessionRepository) ongoing(merchantID, orderID string) *domain.PaymentSession {
	for _, s := range r.sessions {
		if !s.Expired && s.MerchantID == merchantID && s.OrderID == orderID {
			return &s
		}
	}
	return nil
}

func cloneSession(s *domain.PaymentSession) domain.PaymentSession {
	c := *s
	c.OrderLines = slices.Clone(s.OrderLines)
	return c
}

// MemoryPaymentRepository is an in-process PaymentRepository.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	byKey    map[string]string
}

// NewMemoryPaymentRepository creates an empty repository.
func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		payments: make(map[string]domain.Payment),
		byKey:    make(map[string]string),
	}
}

func (r *MemoryPaymentRepository) Save(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment.Version == 0 {
		if _, ok := r.byKey[payment.PaymentKey]; ok {
			return domain.ErrPaymentAlreadySubmitted
		}
		payment.Version = 1
		r.payments[payment.ID] = clonePayment(payment)
		r.byKey[payment.PaymentKey] = payment.ID
		return nil
	}

	stored, ok := r.payments[payment.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if stored.Version != payment.Version {
		return domain.ErrVersionConflict
	}
	payment.Version++
	r.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r *MemoryPaymentRepository) FindByID(_ context.Context, id string) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	c := clonePayment(&p)
	return &c, nil
}

func (r *MemoryPaymentRepository) FindByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	r.mu.RLock()
	id, ok := r.byKey[paymentKey]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return r.FindByID(ctx, id)
}

func clonePayment(p *domain.Payment) domain.Payment {
	c := *p
	c.EffectivePromotions = slices.Clone(p.EffectivePromotions)
	if p.CardDetails != nil {
		details := *p.CardDetails
		if details.Result != nil {
			result := *details.Result
			details.Result = &result
		}
		c.CardDetails = &details
	}
	if p.Rejection != nil {
		rejection := *p.Rejection
		c.Rejection = &rejection
	}
	return c
}

// StaticBinLookup resolves BINs from an in-memory table by longest prefix.
type StaticBinLookup struct {
	bins []domain.Bin
}

// NewStaticBinLookup creates a lookup over bins.
func NewStaticBinLookup(bins ...domain.Bin) *StaticBinLookup {
	sorted := slices.Clone(bins)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Number) > len(sorted[j].Number) })
	return &StaticBinLookup{bins: sorted}
}

func (l *StaticBinLookup) Lookup(_ context.Context, cardNumber string) (domain.Bin, error) {
	digits := domain.DigitsOnly(cardNumber)
	for _, b := range l.bins {
		if b.Number != "" && strings.HasPrefix(digits, b.Number) {
			return b, nil
		}
	}
	return domain.Bin{}, domain.ErrBinNotFound
}

// StaticPromotionRepository serves promotions from memory.
type StaticPromotionRepository struct {
	promotions []*domain.Promotion
}

// NewStaticPromotionRepository creates a repository over promotions.
func NewStaticPromotionRepository(promotions ...*domain.Promotion) *StaticPromotionRepository {
	return &StaticPromotionRepository{promotions: promotions}
}

func (r *StaticPromotionRepository) FindActive(_ context.Context, method domain.MethodType, at time.Time) ([]*domain.Promotion, error) {
	var out []*domain.Promotion
	for _, p := range r.promotions {
		if p.MethodType == method && p.ActiveAt(at) {
			out = append(out, p)
		}
	}
	return out, nil
}
