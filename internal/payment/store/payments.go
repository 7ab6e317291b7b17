package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paygate/internal/common/database"
	"paygate/internal/payment/domain"
)

// PaymentStore provides payment data access with optimistic versioning
type PaymentStore struct {
	db *database.DB
}

// NewPaymentStore creates a new payment store
func NewPaymentStore(db *database.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `
	id, payment_key, merchant_id, method_type, status, version,
	original_amount, effective_promotions, card_details, rejection,
	created_at, updated_at
`

// Save inserts a payment with Version 0 and otherwise updates it if the
// stored version still matches. Version is bumped on success.
func (s *PaymentStore) Save(ctx context.Context, payment *domain.Payment) error {
	promotions, details, rejection, err := encodePayment(payment)
	if err != nil {
		return err
	}

	if payment.Version == 0 {
		return s.insert(ctx, payment, promotions, details, rejection)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = $3,
			version = version + 1,
			effective_promotions = $4,
			card_details = $5,
			rejection = $6,
			updated_at = $7
		WHERE id = $1 AND version = $2
	`,
		payment.ID,
		payment.Version,
		payment.Status,
		promotions,
		details,
		rejection,
		payment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`, payment.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking payment: %w", err)
		}
		if !exists {
			return domain.ErrPaymentNotFound
		}
		return fmt.Errorf("payment %s at version %d: %w", payment.ID, payment.Version, domain.ErrVersionConflict)
	}

	payment.Version++
	return nil
}

func (s *PaymentStore) insert(ctx context.Context, payment *domain.Payment, promotions, details, rejection []byte) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.Exec(ctx, query,
		payment.ID,
		payment.PaymentKey,
		payment.MerchantID,
		payment.MethodType,
		payment.Status,
		payment.OriginalAmount,
		promotions,
		details,
		rejection,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("payment key %s: %w", payment.PaymentKey, domain.ErrPaymentAlreadySubmitted)
		}
		return fmt.Errorf("inserting payment: %w", err)
	}

	payment.Version = 1
	return nil
}

// FindByID retrieves a payment by ID
func (s *PaymentStore) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(s.db.QueryRow(ctx, query, id))
}

// FindByPaymentKey retrieves the payment submitted for a payment key
func (s *PaymentStore) FindByPaymentKey(ctx context.Context, paymentKey string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_key = $1`
	return scanPayment(s.db.QueryRow(ctx, query, paymentKey))
}

func encodePayment(p *domain.Payment) (promotions, details, rejection []byte, err error) {
	effective := p.EffectivePromotions
	if effective == nil {
		effective = []domain.EffectivePromotion{}
	}
	if promotions, err = json.Marshal(effective); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding promotions: %w", err)
	}
	if p.CardDetails != nil {
		if details, err = json.Marshal(p.CardDetails); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding card details: %w", err)
		}
	}
	if p.Rejection != nil {
		if rejection, err = json.Marshal(p.Rejection); err != nil {
			return nil, nil, nil, fmt.Errorf("encoding rejection: %w", err)
		}
	}
	return promotions, details, rejection, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p                             domain.Payment
		promotions, details, rejected []byte
	)
	err := row.Scan(
		&p.ID, &p.PaymentKey, &p.MerchantID, &p.MethodType, &p.Status, &p.Version,
		&p.OriginalAmount, &promotions, &details, &rejected,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}

	if err := json.Unmarshal(promotions, &p.EffectivePromotions); err != nil {
		return nil, fmt.Errorf("decoding promotions: %w", err)
	}
	if details != nil {
		p.CardDetails = &domain.CardPaymentDetails{}
		if err := json.Unmarshal(details, p.CardDetails); err != nil {
			return nil, fmt.Errorf("decoding card details: %w", err)
		}
	}
	if rejected != nil {
		p.Rejection = &domain.PaymentResult{}
		if err := json.Unmarshal(rejected, p.Rejection); err != nil {
			return nil, fmt.Errorf("decoding rejection: %w", err)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
