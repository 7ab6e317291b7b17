// Package installment works out which installment plans a card payment may use.
package installment

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"paygate/internal/payment/domain"
	"paygate/internal/payment/merchant"
)

// IssuerPolicy is a card issuer's installment offer.
type IssuerPolicy struct {
	IssuerCode           string `json:"issuer_code"`
	AvailableMonths      []int  `json:"available_months"`
	InterestFreeMonths   []int  `json:"interest_free_months"`
	MinInstallmentAmount int64  `json:"min_installment_amount"`
}

// Options are the installment plans open to a payment.
type Options struct {
	Supported          bool  `json:"supported"`
	AvailableMonths    []int `json:"available_months"`
	InterestFreeMonths []int `json:"interest_free_months"`
}

// Unavailable means no installment plan applies.
var Unavailable = Options{}

// Select turns a requested month count into an installment choice.
// Zero months is a lump-sum payment and is always allowed.
func (o Options) Select(months int) (domain.Installment, error) {
	if months == 0 {
		return domain.Installment{}, nil
	}
	if !o.Supported || !slices.Contains(o.AvailableMonths, months) {
		return domain.Installment{}, fmt.Errorf("%d months: %w", months, domain.ErrInstallmentUnavailable)
	}
	return domain.Installment{
		Months:       months,
		InterestFree: slices.Contains(o.InterestFreeMonths, months),
	}, nil
}

// Calculator intersects merchant and issuer installment policies.
type Calculator struct{}

// NewCalculator creates a calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate returns the plans both the merchant and the issuer allow.
func (c *Calculator) Calculate(merchantPolicy merchant.InstallmentPolicy, issuerPolicy IssuerPolicy, cardType domain.CardType, amount int64) Options {
	if cardType != domain.CardTypeCredit {
		return Unavailable
	}
	if !merchantPolicy.SupportsInstallment {
		return Unavailable
	}
	if amount < max(merchantPolicy.MinInstallmentAmount, issuerPolicy.MinInstallmentAmount) {
		return Unavailable
	}

	available := intersect(merchantPolicy.AvailableMonths, issuerPolicy.AvailableMonths)
	if len(available) == 0 {
		return Unavailable
	}
	return Options{
		Supported:          true,
		AvailableMonths:    available,
		InterestFreeMonths: intersect(issuerPolicy.InterestFreeMonths, available),
	}
}

// intersect returns the sorted, de-duplicated values present in both slices.
func intersect(a, b []int) []int {
	var out []int
	for _, v := range a {
		if slices.Contains(b, v) && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// PolicyRepository finds an issuer's installment policy.
type PolicyRepository interface {
	FindByIssuerCode(ctx context.Context, issuerCode string) (IssuerPolicy, error)
}

// StaticPolicyRepository serves issuer policies from memory. Issuers without
// an entry get the fallback policy under their own code.
type StaticPolicyRepository struct {
	mu       sync.RWMutex
	policies map[string]IssuerPolicy
	fallback IssuerPolicy
}

// NewStaticPolicyRepository creates a repository with a fallback policy.
func NewStaticPolicyRepository(fallback IssuerPolicy, policies ...IssuerPolicy) *StaticPolicyRepository {
	r := &StaticPolicyRepository{policies: make(map[string]IssuerPolicy), fallback: fallback}
	for _, p := range policies {
		r.policies[p.IssuerCode] = p
	}
	return r
}

// Put adds or replaces an issuer policy.
func (r *StaticPolicyRepository) Put(p IssuerPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.IssuerCode] = p
}

func (r *StaticPolicyRepository) FindByIssuerCode(_ context.Context, issuerCode string) (IssuerPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[issuerCode]; ok {
		return p, nil
	}
	p := r.fallback
	p.IssuerCode = issuerCode
	return p, nil
}
