package merchant

import (
	"context"
	"sync"

	"paygate/internal/payment/domain"
)

// DefaultLimit is the running limit given to merchants without their own.
const DefaultLimit int64 = 100_000_000

// MemoryLimitService keeps merchant consumption in process memory.
// Consume and Restore are keyed by payment so repeats have no effect.
type MemoryLimitService struct {
	mu       sync.Mutex
	limits   map[string]int64
	consumed map[string]int64
	payments map[string]int64
	fallback int64
}

// NewMemoryLimitService creates a limit service where every merchant starts
// with fallback unless SetLimit overrides it.
func NewMemoryLimitService(fallback int64) *MemoryLimitService {
	return &MemoryLimitService{
		limits:   make(map[string]int64),
		consumed: make(map[string]int64),
		payments: make(map[string]int64),
		fallback: fallback,
	}
}

// SetLimit sets a merchant's running limit.
func (s *MemoryLimitService) SetLimit(merchantID string, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[merchantID] = limit
}

func (s *MemoryLimitService) Check(_ context.Context, merchantID string, _ domain.MethodType, amount int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[merchantID]+amount <= s.limitOf(merchantID), nil
}

func (s *MemoryLimitService) Consume(_ context.Context, merchantID, paymentID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := merchantID + ":" + paymentID
	if _, ok := s.payments[key]; ok {
		return nil
	}
	s.payments[key] = amount
	s.consumed[merchantID] += amount
	return nil
}

func (s *MemoryLimitService) Restore(_ context.Context, merchantID, paymentID string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := merchantID + ":" + paymentID
	amount, ok := s.payments[key]
	if !ok {
		return nil
	}
	delete(s.payments, key)
	s.consumed[merchantID] -= amount
	return nil
}

// Consumed returns the amount a merchant has used.
func (s *MemoryLimitService) Consumed(merchantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[merchantID]
}

func (s *MemoryLimitService) limitOf(merchantID string) int64 {
	if limit, ok := s.limits[merchantID]; ok {
		return limit
	}
	return s.fallback
}

// StaticContractService serves contracts from memory.
type StaticContractService struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
}

// NewStaticContractService creates a service preloaded with contracts.
func NewStaticContractService(contracts ...*Contract) *StaticContractService {
	s := &StaticContractService{contracts: make(map[string]*Contract)}
	for _, c := range contracts {
		s.contracts[c.MerchantID] = c
	}
	return s
}

// Put adds or replaces a contract.
func (s *StaticContractService) Put(c *Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.MerchantID] = c
}

func (s *StaticContractService) GetContract(_ context.Context, merchantID string) (*Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[merchantID]
	if !ok {
		return nil, domain.ErrMerchantNotFound
	}
	return c, nil
}
