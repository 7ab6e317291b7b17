package domain

import (
	"errors"
	"fmt"
	"time"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusInitialized            Status = "INITIALIZED"
	StatusAuthenticationRequired Status = "AUTHENTICATION_REQUIRED"
	StatusPendingConfirm         Status = "PENDING_CONFIRM"
	StatusPaymentProcessing      Status = "PAYMENT_PROCESSING"
	StatusCompleted              Status = "COMPLETED"
	StatusFailed                 Status = "FAILED"
	StatusCancelled              Status = "CANCELLED"
)

var allowedTransitions = map[Status][]Status{
	StatusInitialized:            {StatusAuthenticationRequired, StatusPendingConfirm, StatusFailed},
	StatusAuthenticationRequired: {StatusPendingConfirm, StatusFailed},
	StatusPendingConfirm:         {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing:      {StatusCompleted, StatusFailed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo returns next if the move is allowed.
func (s Status) TransitionTo(next Status) (Status, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

var (
	errDetailsMissing = errors.New("card payment details are not set")
	errDetailsSet     = errors.New("card payment details are already set")
)

// Installment is the chosen installment plan. Zero months means a lump sum.
type Installment struct {
	Months       int  `json:"months"`
	InterestFree bool `json:"interest_free"`
}

// PaymentResult is the outcome recorded on a payment.
type PaymentResult struct {
	ApprovalNumber string     `json:"approval_number,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// CardPaymentDetails is the card-specific part of a payment.
type CardPaymentDetails struct {
	Card        Card           `json:"card"`
	Installment Installment    `json:"installment"`
	Result      *PaymentResult `json:"result,omitempty"`
}

// Payment is the aggregate tracking one authorization attempt for a payment key.
// Version is bumped by the store on every successful write.
type Payment struct {
	ID                  string               `json:"id"`
	PaymentKey          string               `json:"payment_key"`
	MerchantID          string               `json:"merchant_id"`
	MethodType          MethodType           `json:"method_type"`
	Status              Status               `json:"status"`
	Version             int64                `json:"version"`
	OriginalAmount      int64                `json:"original_amount"`
	EffectivePromotions []EffectivePromotion `json:"effective_promotions"`
	CardDetails         *CardPaymentDetails  `json:"card_details,omitempty"`

	// Rejection holds the failure of a payment rejected before card details existed.
	Rejection *PaymentResult `json:"rejection,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPayment initializes a payment for a session.
func NewPayment(id, paymentKey, merchantID string, method MethodType, originalAmount int64) (*Payment, error) {
	if id == "" || paymentKey == "" || merchantID == "" {
		return nil, fmt.Errorf("%w: id, payment key and merchant id are required", ErrInvalidRequest)
	}
	if method != MethodCard {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPaymentMethod, method)
	}
	if originalAmount <= 0 {
		return nil, fmt.Errorf("%w: original amount must be positive", ErrInvalidAmount)
	}

	now := time.Now().UTC()
	return &Payment{
		ID:                  id,
		PaymentKey:          paymentKey,
		MerchantID:          merchantID,
		MethodType:          method,
		Status:              StatusInitialized,
		OriginalAmount:      originalAmount,
		EffectivePromotions: []EffectivePromotion{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// FinalAmount is the amount charged after promotions.
func (p *Payment) FinalAmount() int64 {
	final := p.OriginalAmount
	for _, promo := range p.EffectivePromotions {
		final -= promo.Amount
	}
	return final
}

// DiscountTotal is the sum of applied promotions.
func (p *Payment) DiscountTotal() int64 {
	return p.OriginalAmount - p.FinalAmount()
}

// ApplyPromotions records the selected promotions, discounted against the
// original amount. The final amount may not drop below the policy minimum.
func (p *Payment) ApplyPromotions(selected []*Promotion, policy Policy) error {
	if len(selected) == 0 {
		return nil
	}
	applied := make([]EffectivePromotion, 0, len(selected))
	var total int64
	for _, promo := range selected {
		amount := promo.CalculateDiscount(p.OriginalAmount)
		if amount <= 0 {
			continue
		}
		total += amount
		applied = append(applied, EffectivePromotion{
			Name:     promo.Name,
			Provider: promo.Provider,
			Amount:   amount,
		})
	}
	if p.FinalAmount()-total < policy.MinPaymentAmount {
		return fmt.Errorf("%w: final amount %d below %d", ErrPromotionExceedsAmount, p.FinalAmount()-total, policy.MinPaymentAmount)
	}
	p.EffectivePromotions = append(p.EffectivePromotions, applied...)
	p.touch()
	return nil
}

// Submit attaches card details. It may happen only once.
func (p *Payment) Submit(details CardPaymentDetails) error {
	if p.CardDetails != nil {
		return fmt.Errorf("%w: %v", ErrIllegalTransition, errDetailsSet)
	}
	p.CardDetails = &details
	p.touch()
	return nil
}

// RequestAuthentication moves a submitted payment to AUTHENTICATION_REQUIRED.
func (p *Payment) RequestAuthentication() error {
	if err := p.requireDetails(); err != nil {
		return err
	}
	return p.transition(StatusAuthenticationRequired)
}

// CompleteAuthentication records a successful step-up authentication.
func (p *Payment) CompleteAuthentication() error {
	if err := p.requireDetails(); err != nil {
		return err
	}
	if p.Status != StatusAuthenticationRequired {
		return fmt.Errorf("%w: authentication can only complete from %s, not %s", ErrIllegalTransition, StatusAuthenticationRequired, p.Status)
	}
	return p.transition(StatusPendingConfirm)
}

// CompleteWithoutAuthentication skips authentication for an exempt payment.
func (p *Payment) CompleteWithoutAuthentication() error {
	if err := p.requireDetails(); err != nil {
		return err
	}
	if p.Status != StatusInitialized {
		return fmt.Errorf("%w: authentication can only be skipped from %s, not %s", ErrIllegalTransition, StatusInitialized, p.Status)
	}
	return p.transition(StatusPendingConfirm)
}

// Fail records a failure on a submitted payment.
func (p *Payment) Fail(errorCode, reason string) error {
	if err := p.requireDetails(); err != nil {
		return err
	}
	if err := p.transition(StatusFailed); err != nil {
		return err
	}
	p.CardDetails.Result = &PaymentResult{ErrorCode: errorCode, FailureReason: reason}
	return nil
}

// Reject fails a payment that never got card details, keeping the attempt auditable.
func (p *Payment) Reject(errorCode, reason string) error {
	if p.CardDetails != nil {
		return p.Fail(errorCode, reason)
	}
	if err := p.transition(StatusFailed); err != nil {
		return err
	}
	p.Rejection = &PaymentResult{ErrorCode: errorCode, FailureReason: reason}
	return nil
}

// StartProcessing hands a confirmed payment to the acquirer.
func (p *Payment) StartProcessing() error {
	return p.transition(StatusPaymentProcessing)
}

// Complete records the acquirer approval.
func (p *Payment) Complete(approvalNumber string) error {
	if err := p.requireDetails(); err != nil {
		return err
	}
	if err := p.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.CardDetails.Result = &PaymentResult{ApprovalNumber: approvalNumber, ApprovedAt: &now}
	return nil
}

// Cancel abandons a payment awaiting confirmation.
func (p *Payment) Cancel() error {
	return p.transition(StatusCancelled)
}

// Failure returns the recorded failure, if any.
func (p *Payment) Failure() *PaymentResult {
	if p.Status != StatusFailed {
		return nil
	}
	if p.CardDetails != nil && p.CardDetails.Result != nil {
		return p.CardDetails.Result
	}
	return p.Rejection
}

func (p *Payment) requireDetails() error {
	if p.CardDetails == nil {
		return fmt.Errorf("%w: %v", ErrIllegalTransition, errDetailsMissing)
	}
	return nil
}

func (p *Payment) transition(next Status) error {
	status, err := p.Status.TransitionTo(next)
	if err != nil {
		return err
	}
	p.Status = status
	p.touch()
	return nil
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}
