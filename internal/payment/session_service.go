package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paygate/internal/common/events"
	"paygate/internal/common/money"
	"paygate/internal/guard"
	"paygate/internal/payment/domain"
)

// SessionService manages the payment-session lifecycle.
type SessionService struct {
	sessions  SessionRepository
	gate      guard.Gate
	keys      KeyGenerator
	publisher events.EventPublisher
	policy    domain.Policy
	onExpire  []func(context.Context, *domain.PaymentSession) error
	now       func() time.Time
	logger    *slog.Logger
}

// NewSessionService creates a session service.
func NewSessionService(sessions SessionRepository, gate guard.Gate, keys KeyGenerator, publisher events.EventPublisher, policy domain.Policy, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions:  sessions,
		gate:      gate,
		keys:      keys,
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
		logger:    logger,
	}
}

// OnExpire registers fn to run before a session is marked expired. An
// error from fn leaves the session ongoing so a later run retries it.
func (s *SessionService) OnExpire(fn func(context.Context, *domain.PaymentSession) error) {
	s.onExpire = append(s.onExpire, fn)
}

// PrepareSessionCommand opens or replays the session for a merchant order.
// Supply and VAT may be left zero to derive them from the total.
type PrepareSessionCommand struct {
	MerchantID   string              `json:"merchant_id" validate:"required,max=64"`
	OrderID      string              `json:"order_id" validate:"required,max=64"`
	OrderLines   []domain.OrderLine  `json:"order_lines" validate:"required,min=1,dive"`
	Amount       money.Amount        `json:"amount"`
	RedirectURLs domain.RedirectURLs `json:"redirect_urls"`
}

func (c PrepareSessionCommand) amount() (money.Amount, error) {
	if c.Amount.Supply == 0 && c.Amount.VAT == 0 {
		return money.SplitVAT(c.Amount.Total)
	}
	return c.Amount, nil
}

// Prepare returns the ongoing session for the order, creating one when none
// exists. A repeat with the same amount replays the session. A different
// amount fails with SESSION_CONFLICT, and a lapsed session is expired and
// fails with SESSION_EXPIRED so the caller can prepare again.
func (s *SessionService) Prepare(ctx context.Context, cmd PrepareSessionCommand) (*domain.PaymentSession, error) {
	amount, err := cmd.amount()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}

	lease, ok, err := s.gate.TryEnter(ctx, cmd.MerchantID, cmd.OrderID)
	if err != nil {
		return nil, fmt.Errorf("entering payment gate: %w", err)
	}
	if !ok {
		return nil, domain.ErrGateBusy
	}
	defer func() {
		if err := s.gate.Exit(context.WithoutCancel(ctx), lease); err != nil {
			s.logger.Warn("failed to release payment gate",
				"merchant_id", cmd.MerchantID,
				"order_id", cmd.OrderID,
				"error", err,
			)
		}
	}()

	existing, err := s.sessions.FindOngoingByOrder(ctx, cmd.MerchantID, cmd.OrderID)
	if err != nil {
		return nil, fmt.Errorf("finding ongoing session: %w", err)
	}
	if existing == nil {
		return s.create(ctx, cmd, amount)
	}
	return s.replay(ctx, existing, cmd, amount)
}

func (s *SessionService) create(ctx context.Context, cmd PrepareSessionCommand, amount money.Amount) (*domain.PaymentSession, error) {
	session, err := domain.NewPaymentSession(
		s.keys.NewKey(),
		cmd.MerchantID,
		cmd.OrderID,
		cmd.OrderLines,
		amount,
		cmd.RedirectURLs,
		s.policy,
		s.now(),
	)
	if err != nil {
		return nil, err
	}

	err = s.sessions.Create(ctx, session)
	if errors.Is(err, domain.ErrSessionDuplicate) {
		// Another request won the insert after the gate lapsed.
		existing, ferr := s.sessions.FindOngoingByOrder(ctx, cmd.MerchantID, cmd.OrderID)
		if ferr != nil || existing == nil {
			return nil, err
		}
		return s.replay(ctx, existing, cmd, amount)
	}
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.publish(ctx, events.EventSessionPrepared, session, events.SessionPreparedData{
		PaymentKey: session.ID,
		OrderID:    session.OrderID,
		Amount:     session.Amount.Total,
		ExpiresAt:  session.ExpiresAt,
	})

	s.logger.Info("payment session prepared",
		"payment_key", session.ID,
		"merchant_id", session.MerchantID,
		"order_id", session.OrderID,
		"amount", session.Amount.Total,
		"expires_at", session.ExpiresAt,
	)

	return session, nil
}

func (s *SessionService) replay(ctx context.Context, existing *domain.PaymentSession, cmd PrepareSessionCommand, amount money.Amount) (*domain.PaymentSession, error) {
	now := s.now()
	if existing.HasReachedExpiration(now) {
		if err := s.expire(ctx, existing, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrSessionExpired
	}

	if !existing.IsIdenticalPayment(cmd.MerchantID, cmd.OrderID, amount) {
		s.logger.Warn("payment session conflict",
			"payment_key", existing.ID,
			"merchant_id", cmd.MerchantID,
			"order_id", cmd.OrderID,
			"ongoing_amount", existing.Amount.Total,
			"requested_amount", amount.Total,
		)
		return nil, domain.ErrSessionConflict
	}

	return existing, nil
}

// GetOngoingSession returns the live session for a payment key.
func (s *SessionService) GetOngoingSession(ctx context.Context, paymentKey string) (*domain.PaymentSession, error) {
	session, err := s.sessions.FindOngoingByKey(ctx, paymentKey)
	if err != nil {
		return nil, err
	}
	if session.HasReachedExpiration(s.now()) {
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

// ExpireStaleSessions marks up to limit lapsed sessions expired so their
// orders can open new ones.
func (s *SessionService) ExpireStaleSessions(ctx context.Context, limit int) (int, error) {
	now := s.now()
	stale, err := s.sessions.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing stale sessions: %w", err)
	}

	expired := 0
	for _, session := range stale {
		if err := s.expire(ctx, session, now); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *SessionService) expire(ctx context.Context, session *domain.PaymentSession, now time.Time) error {
	for _, fn := range s.onExpire {
		if err := fn(ctx, session); err != nil {
			return fmt.Errorf("releasing session %s: %w", session.ID, err)
		}
	}

	session.Expire(now)
	if err := s.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("expiring session: %w", err)
	}

	s.publish(ctx, events.EventSessionExpired, session, events.SessionExpiredData{
		PaymentKey: session.ID,
		OrderID:    session.OrderID,
	})

	s.logger.Info("payment session expired",
		"payment_key", session.ID,
		"merchant_id", session.MerchantID,
		"order_id", session.OrderID,
	)
	return nil
}

func (s *SessionService) publish(ctx context.Context, eventType string, session *domain.PaymentSession, data any) {
	publishEvent(ctx, s.publisher, s.logger, eventType, session.MerchantID, events.AggregateSession, session.ID, data)
}
