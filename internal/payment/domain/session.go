// Package domain holds the payment authorization model: cards, sessions,
// payments and promotions, together with the error taxonomy.
package domain

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"paygate/internal/common/money"
)

// MethodType is a payment method.
type MethodType string

const (
	MethodCard MethodType = "CARD"
)

// Policy holds platform-wide payment constants.
type Policy struct {
	MinPaymentAmount     int64
	DefaultExpireMinutes int
}

// DefaultPolicy returns the platform defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinPaymentAmount:     1000,
		DefaultExpireMinutes: 15,
	}
}

// SessionTTL is the lifetime of a new session.
func (p Policy) SessionTTL() time.Duration {
	return time.Duration(p.DefaultExpireMinutes) * time.Minute
}

// PromotionCapacity is the largest total discount allowed on originalAmount.
func (p Policy) PromotionCapacity(originalAmount int64) int64 {
	return originalAmount - p.MinPaymentAmount
}

// OrderLine is one purchased item.
type OrderLine struct {
	Name       string `json:"name" validate:"required,max=255"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	UnitAmount int64  `json:"unit_amount" validate:"gte=0"`
	ImageURL   string `json:"image_url,omitempty" validate:"omitempty,url"`
}

// RedirectURLs are the merchant pages the buyer returns to.
type RedirectURLs struct {
	Success string `json:"success" validate:"required,url"`
	Fail    string `json:"fail" validate:"required,url"`
}

var validate = validator.New()

// ValidateOrderLines checks that lines is non-empty and every line is well formed.
func ValidateOrderLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one order line is required", ErrInvalidOrderLines)
	}
	for i := range lines {
		if err := validate.Struct(lines[i]); err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrInvalidOrderLines, i, err)
		}
	}
	return nil
}

// PaymentSession is the checkout window opened for one merchant order.
// ID is the payment key handed to the buyer.
type PaymentSession struct {
	ID           string       `json:"payment_key"`
	MerchantID   string       `json:"merchant_id"`
	OrderID      string       `json:"order_id"`
	OrderLines   []OrderLine  `json:"order_lines"`
	Amount       money.Amount `json:"amount"`
	ExpiresAt    time.Time    `json:"expires_at"`
	RedirectURLs RedirectURLs `json:"redirect_urls"`
	Expired      bool         `json:"expired"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewPaymentSession opens a session expiring after the policy TTL.
func NewPaymentSession(key, merchantID, orderID string, lines []OrderLine, amount money.Amount, urls RedirectURLs, policy Policy, now time.Time) (*PaymentSession, error) {
	if key == "" || merchantID == "" || orderID == "" {
		return nil, fmt.Errorf("%w: payment key, merchant id and order id are required", ErrInvalidRequest)
	}
	if err := amount.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !amount.AtLeast(policy.MinPaymentAmount) {
		return nil, fmt.Errorf("%w: total %d is below minimum %d", ErrInvalidAmount, amount.Total, policy.MinPaymentAmount)
	}
	if err := ValidateOrderLines(lines); err != nil {
		return nil, err
	}

	now = now.UTC()
	return &PaymentSession{
		ID:           key,
		MerchantID:   merchantID,
		OrderID:      orderID,
		OrderLines:   append([]OrderLine(nil), lines...),
		Amount:       amount,
		ExpiresAt:    now.Add(policy.SessionTTL()),
		RedirectURLs: urls,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// PaymentKey returns the session key.
func (s *PaymentSession) PaymentKey() string { return s.ID }

// HasReachedExpiration reports whether now is past ExpiresAt.
func (s *PaymentSession) HasReachedExpiration(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Expire marks the session expired.
func (s *PaymentSession) Expire(now time.Time) {
	s.Expired = true
	s.UpdatedAt = now.UTC()
}

// IsIdenticalPayment reports whether a prepare request repeats this session.
func (s *PaymentSession) IsIdenticalPayment(merchantID, orderID string, amount money.Amount) bool {
	return s.MerchantID == merchantID && s.OrderID == orderID && s.Amount.Equal(amount)
}

// SuccessURL is where the buyer lands after a payment that needs no authentication.
func (s *PaymentSession) SuccessURL() string { return s.RedirectURLs.Success }
