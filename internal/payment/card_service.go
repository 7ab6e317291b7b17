package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"paygate/internal/common/events"
	"paygate/internal/payment/authentication"
	"paygate/internal/payment/domain"
	"paygate/internal/payment/fraud"
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
	"paygate/internal/payment/promotion"
	"paygate/internal/vault"
)

// SubmitStatus is the outcome of a card submission.
type SubmitStatus string

const (
	SubmitAuthenticationRequired SubmitStatus = "AUTHENTICATION_REQUIRED"
	SubmitPendingConfirm         SubmitStatus = "PENDING_CONFIRM"
)

// SubmitCardPaymentCommand carries the card a buyer entered for a session.
// InstallmentMonths zero means a lump-sum payment.
type SubmitCardPaymentCommand struct {
	PaymentKey        string `json:"payment_key" validate:"required"`
	CardNumber        string `json:"card_number" validate:"required"`
	ExpiryMonth       int    `json:"expiry_month" validate:"required"`
	ExpiryYear        int    `json:"expiry_year" validate:"required"`
	CVC               string `json:"cvc" validate:"required,numeric,min=3,max=4"`
	HolderName        string `json:"holder_name,omitempty" validate:"max=100"`
	InstallmentMonths int    `json:"installment_months" validate:"gte=0,lte=36"`
}

// SubmitResult tells the caller where the buyer goes next.
type SubmitResult struct {
	PaymentKey     string                   `json:"payment_key"`
	Status         SubmitStatus             `json:"status"`
	Authentication *authentication.Redirect `json:"authentication,omitempty"`
	RedirectURL    string                   `json:"redirect_url,omitempty"`
}

// CardPaymentDeps are the collaborators of CardPaymentService.
type CardPaymentDeps struct {
	Sessions       *SessionService
	Payments       PaymentRepository
	Bins           BinLookup
	Contracts      merchant.ContractService
	Validator      *merchant.ContractValidator
	Limits         merchant.LimitService
	Fraud          *fraud.Engine
	Installments   *installment.Calculator
	IssuerPolicies installment.PolicyRepository
	Promotions     PromotionRepository
	Optimizer      promotion.Optimizer
	Vault          vault.CardVault
	Authentication *authentication.Router
	Publisher      events.EventPublisher
	Policy         domain.Policy
	// FingerprintKey keys card fingerprints; empty falls back to plain SHA-256
	FingerprintKey []byte
}

// CardPaymentService runs submitted cards through authorization.
type CardPaymentService struct {
	CardPaymentDeps
	now    func() time.Time
	logger *slog.Logger
}

// NewCardPaymentService creates a card payment service.
func NewCardPaymentService(deps CardPaymentDeps, logger *slog.Logger) *CardPaymentService {
	return &CardPaymentService{
		CardPaymentDeps: deps,
		now:             time.Now,
		logger:          logger,
	}
}

// Submit authorizes a card against the session behind cmd.PaymentKey. A
// payment key accepts one submission. Failures while checking the card,
// the merchant, fraud, installments or promotions are recorded on the
// payment as FAILED before they are returned.
func (s *CardPaymentService) Submit(ctx context.Context, cmd SubmitCardPaymentCommand) (*SubmitResult, error) {
	session, err := s.Sessions.GetOngoingSession(ctx, cmd.PaymentKey)
	if err != nil {
		return nil, err
	}

	_, err = s.Payments.FindByPaymentKey(ctx, cmd.PaymentKey)
	if err == nil {
		return nil, domain.ErrPaymentAlreadySubmitted
	}
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return nil, fmt.Errorf("finding payment: %w", err)
	}

	payment, err := domain.NewPayment(ulid.Make().String(), session.ID, session.MerchantID, domain.MethodCard, session.Amount.Total)
	if err != nil {
		return nil, err
	}
	if err := s.Payments.Save(ctx, payment); err != nil {
		return nil, err
	}

	bin, err := s.Bins.Lookup(ctx, cmd.CardNumber)
	if err != nil {
		return nil, fmt.Errorf("looking up card bin: %w", err)
	}

	details, err := s.authorize(ctx, payment, bin, cmd)
	if err != nil {
		s.reject(ctx, payment, err)
		return nil, err
	}

	err = s.Vault.Store(ctx, payment.PaymentKey, domain.CardCredentials{
		CardNumber:  domain.DigitsOnly(cmd.CardNumber),
		ExpiryMonth: cmd.ExpiryMonth,
		ExpiryYear:  details.Card.ExpiryYear(),
		CVC:         cmd.CVC,
		HolderName:  details.Card.HolderName(),
	})
	if err != nil {
		return nil, fmt.Errorf("vaulting card credentials: %w", err)
	}

	decision := s.Authentication.Decide(details.Card, payment.OriginalAmount, payment.MerchantID)
	result, err := s.submit(ctx, payment, details, decision, session.SuccessURL())
	if err != nil {
		if derr := s.Vault.Delete(ctx, payment.PaymentKey); derr != nil {
			s.logger.Error("failed to drop vaulted credentials", "payment_key", payment.PaymentKey, "error", derr)
		}
		return nil, err
	}

	if err := s.Limits.Consume(ctx, payment.MerchantID, payment.ID, payment.FinalAmount()); err != nil {
		s.logger.Error("failed to consume merchant limit",
			"payment_id", payment.ID,
			"merchant_id", payment.MerchantID,
			"error", err,
		)
	}

	return result, nil
}

// authorize runs the checks whose failures are recorded on the payment.
func (s *CardPaymentService) authorize(ctx context.Context, payment *domain.Payment, bin domain.Bin, cmd SubmitCardPaymentCommand) (domain.CardPaymentDetails, error) {
	now := s.now()

	card, err := domain.NewCard(cmd.CardNumber, cmd.ExpiryMonth, cmd.ExpiryYear, cmd.HolderName, bin, now,
		domain.WithFingerprintKey(s.FingerprintKey))
	if err != nil {
		return domain.CardPaymentDetails{}, err
	}

	contract, err := s.Contracts.GetContract(ctx, payment.MerchantID)
	if err != nil {
		return domain.CardPaymentDetails{}, err
	}
	if err := s.Validator.Validate(ctx, contract, payment.MethodType, payment.OriginalAmount); err != nil {
		return domain.CardPaymentDetails{}, err
	}

	if err := s.Fraud.Check(ctx, payment.MerchantID, card, payment.OriginalAmount); err != nil {
		return domain.CardPaymentDetails{}, err
	}

	issuerPolicy, err := s.IssuerPolicies.FindByIssuerCode(ctx, card.IssuerCode())
	if err != nil {
		return domain.CardPaymentDetails{}, fmt.Errorf("finding issuer installment policy: %w", err)
	}
	options := s.Installments.Calculate(contract.InstallmentPolicy, issuerPolicy, card.CardType(), payment.OriginalAmount)
	plan, err := options.Select(cmd.InstallmentMonths)
	if err != nil {
		return domain.CardPaymentDetails{}, err
	}

	if err := s.applyPromotions(ctx, payment, card, now); err != nil {
		return domain.CardPaymentDetails{}, err
	}

	return domain.CardPaymentDetails{Card: card, Installment: plan}, nil
}

func (s *CardPaymentService) applyPromotions(ctx context.Context, payment *domain.Payment, card domain.Card, now time.Time) error {
	offered, err := s.Promotions.FindActive(ctx, payment.MethodType, now)
	if err != nil {
		return fmt.Errorf("finding promotions: %w", err)
	}

	candidates := make([]*domain.Promotion, 0, len(offered))
	for _, p := range offered {
		if p.ActiveAt(now) && p.Matches(card, payment.OriginalAmount) {
			candidates = append(candidates, p)
		}
	}

	capacity := s.Policy.PromotionCapacity(payment.OriginalAmount)
	selected := s.Optimizer.Optimize(candidates, payment.OriginalAmount, capacity)
	return payment.ApplyPromotions(selected, s.Policy)
}

func (s *CardPaymentService) submit(ctx context.Context, payment *domain.Payment, details domain.CardPaymentDetails, decision authentication.Decision, successURL string) (*SubmitResult, error) {
	if err := payment.Submit(details); err != nil {
		return nil, err
	}

	result := &SubmitResult{PaymentKey: payment.PaymentKey}
	eventType := events.EventPaymentPendingConfirm
	if decision.Required {
		if err := payment.RequestAuthentication(); err != nil {
			return nil, err
		}
		result.Status = SubmitAuthenticationRequired
		result.Authentication = decision.Redirect
		eventType = events.EventPaymentAuthenticationRequired
	} else {
		if err := payment.CompleteWithoutAuthentication(); err != nil {
			return nil, err
		}
		result.Status = SubmitPendingConfirm
		result.RedirectURL = successURL
	}

	if err := s.Payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}

	s.publish(ctx, eventType, payment)
	s.logger.Info("card payment submitted",
		"payment_id", payment.ID,
		"payment_key", payment.PaymentKey,
		"merchant_id", payment.MerchantID,
		"status", payment.Status,
		"card", details.Card.MaskedNumber(),
		"installment_months", details.Installment.Months,
		"original_amount", payment.OriginalAmount,
		"final_amount", payment.FinalAmount(),
	)

	return result, nil
}

// reject records cause on the payment. The cause is what the caller sees,
// so a failure to record it is only logged.
func (s *CardPaymentService) reject(ctx context.Context, payment *domain.Payment, cause error) {
	code := domain.ErrorCode(cause)
	if err := payment.Reject(code, cause.Error()); err != nil {
		s.logger.Error("failed to reject payment", "payment_id", payment.ID, "error", err)
		return
	}
	if err := s.Payments.Save(ctx, payment); err != nil {
		s.logger.Error("failed to save rejected payment", "payment_id", payment.ID, "error", err)
		return
	}

	s.publish(ctx, events.EventPaymentFailed, payment)
	s.logger.Warn("card payment rejected",
		"payment_id", payment.ID,
		"payment_key", payment.PaymentKey,
		"merchant_id", payment.MerchantID,
		"error_code", code,
		"reason", cause.Error(),
	)
}

// Cancel abandons a payment awaiting confirmation. Its vaulted credentials
// are dropped and the merchant limit it consumed is given back.
func (s *CardPaymentService) Cancel(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	payment, err := s.Payments.FindByPaymentKey(ctx, paymentKey)
	if err != nil {
		return nil, err
	}
	if err := payment.Cancel(); err != nil {
		return nil, err
	}
	if err := s.Payments.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("saving payment: %w", err)
	}

	if err := s.Vault.Delete(ctx, paymentKey); err != nil {
		s.logger.Error("failed to drop vaulted credentials", "payment_key", paymentKey, "error", err)
	}
	if err := s.Limits.Restore(ctx, payment.MerchantID, payment.ID, payment.FinalAmount()); err != nil {
		s.logger.Error("failed to restore merchant limit",
			"payment_id", payment.ID,
			"merchant_id", payment.MerchantID,
			"error", err,
		)
	}

	s.publish(ctx, events.EventPaymentCancelled, payment)
	s.logger.Info("card payment cancelled",
		"payment_id", payment.ID,
		"payment_key", payment.PaymentKey,
	)
	return payment, nil
}

// ReleaseExpired closes the unconfirmed payment of an expiring session so
// the merchant limit it consumed is given back. Payments past confirmation
// keep their usage. It is safe to run again for the same session.
func (s *CardPaymentService) ReleaseExpired(ctx context.Context, session *domain.PaymentSession) error {
	payment, err := s.Payments.FindByPaymentKey(ctx, session.ID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding payment: %w", err)
	}

	code := domain.ErrorCode(domain.ErrSessionExpired)
	reason := domain.ErrSessionExpired.Error()
	var eventType string
	switch payment.Status {
	case domain.StatusInitialized:
		err = payment.Reject(code, reason)
		eventType = events.EventPaymentFailed
	case domain.StatusAuthenticationRequired:
		err = payment.Fail(code, reason)
		eventType = events.EventPaymentFailed
	case domain.StatusPendingConfirm:
		err = payment.Cancel()
		eventType = events.EventPaymentCancelled
	case domain.StatusFailed, domain.StatusCancelled:
		// closed by an earlier run whose restore may not have landed
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if eventType != "" {
		if err := s.Payments.Save(ctx, payment); err != nil {
			return fmt.Errorf("saving payment: %w", err)
		}
	}

	if err := s.Limits.Restore(ctx, payment.MerchantID, payment.ID, payment.FinalAmount()); err != nil {
		return fmt.Errorf("restoring merchant limit: %w", err)
	}
	if err := s.Vault.Delete(ctx, payment.PaymentKey); err != nil {
		s.logger.Error("failed to drop vaulted credentials", "payment_key", payment.PaymentKey, "error", err)
	}

	if eventType != "" {
		s.publish(ctx, eventType, payment)
		s.logger.Info("abandoned card payment released",
			"payment_id", payment.ID,
			"payment_key", payment.PaymentKey,
			"merchant_id", payment.MerchantID,
			"status", payment.Status,
		)
	}
	return nil
}

// GetPayment returns the payment submitted for a payment key.
func (s *CardPaymentService) GetPayment(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	return s.Payments.FindByPaymentKey(ctx, paymentKey)
}

func (s *CardPaymentService) publish(ctx context.Context, eventType string, payment *domain.Payment) {
	publishEvent(ctx, s.Publisher, s.logger, eventType, payment.MerchantID, events.AggregatePayment, payment.ID, paymentStatusData(payment))
}
