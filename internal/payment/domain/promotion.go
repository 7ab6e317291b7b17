package domain

import (
	"fmt"
	"time"

	"paygate/internal/common/money"
)

// PromotionProvider identifies who funds a promotion.
type PromotionProvider string

const (
	ProviderCardIssuer PromotionProvider = "CARD_ISSUER"
	ProviderPlatform   PromotionProvider = "PLATFORM"
)

// DiscountType is how a promotion's value is applied.
type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

// Promotion is a catalog discount. DiscountValue is an amount for FIXED
// and a percent for PERCENTAGE. Nil predicate fields match anything.
type Promotion struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Provider          PromotionProvider `json:"provider"`
	MethodType        MethodType        `json:"method_type"`
	DiscountType      DiscountType      `json:"discount_type"`
	DiscountValue     int64             `json:"discount_value"`
	MaxDiscountAmount *int64            `json:"max_discount_amount,omitempty"`

	CardBrand  *CardBrand `json:"card_brand,omitempty"`
	CardType   *CardType  `json:"card_type,omitempty"`
	IssuerCode *string    `json:"issuer_code,omitempty"`
	MinAmount  *int64     `json:"min_amount,omitempty"`

	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}

// Validate checks the catalog rules for a promotion.
func (p *Promotion) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPromotion)
	}
	switch p.Provider {
	case ProviderCardIssuer, ProviderPlatform:
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidPromotion, p.Provider)
	}
	switch p.DiscountType {
	case DiscountFixed:
		if p.MaxDiscountAmount != nil && p.DiscountValue > *p.MaxDiscountAmount {
			return fmt.Errorf("%w: fixed discount %d exceeds max %d", ErrInvalidPromotion, p.DiscountValue, *p.MaxDiscountAmount)
		}
	case DiscountPercentage:
		if p.DiscountValue > 100 {
			return fmt.Errorf("%w: percentage %d exceeds 100", ErrInvalidPromotion, p.DiscountValue)
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidPromotion, p.DiscountType)
	}
	if p.DiscountValue < 0 {
		return fmt.Errorf("%w: discount value must not be negative", ErrInvalidPromotion)
	}
	if p.CardBrand == nil && p.CardType == nil && p.IssuerCode == nil && p.MinAmount == nil {
		return fmt.Errorf("%w: at least one matching condition is required", ErrInvalidPromotion)
	}
	if p.ValidUntil.Before(p.ValidFrom) {
		return fmt.Errorf("%w: validity window is inverted", ErrInvalidPromotion)
	}
	return nil
}

// Matches reports whether the promotion applies to card and amount.
func (p *Promotion) Matches(card Card, amount int64) bool {
	if card.IsZero() {
		return false
	}
	if p.CardBrand != nil && card.Brand() != *p.CardBrand {
		return false
	}
	if p.CardType != nil && card.CardType() != *p.CardType {
		return false
	}
	if p.IssuerCode != nil && card.IssuerCode() != *p.IssuerCode {
		return false
	}
	if p.MinAmount != nil && amount < *p.MinAmount {
		return false
	}
	return true
}

// ActiveAt reports whether t falls in the validity window, bounds included.
func (p *Promotion) ActiveAt(t time.Time) bool {
	return !t.Before(p.ValidFrom) && !t.After(p.ValidUntil)
}

// CalculateDiscount returns the discount for amount, capped by MaxDiscountAmount.
func (p *Promotion) CalculateDiscount(amount int64) int64 {
	var discount int64
	switch p.DiscountType {
	case DiscountFixed:
		discount = p.DiscountValue
	case DiscountPercentage:
		discount = money.Percent(amount, p.DiscountValue)
	}
	if p.MaxDiscountAmount != nil && discount > *p.MaxDiscountAmount {
		discount = *p.MaxDiscountAmount
	}
	return discount
}

// IssuerDriven reports whether the card issuer funds the promotion.
func (p *Promotion) IssuerDriven() bool {
	return p.Provider == ProviderCardIssuer
}

// EffectivePromotion is a promotion applied to a payment.
type EffectivePromotion struct {
	Name     string            `json:"name"`
	Provider PromotionProvider `json:"provider"`
	Amount   int64             `json:"amount"`
}
