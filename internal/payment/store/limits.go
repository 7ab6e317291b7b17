package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paygate/internal/common/database"
	"paygate/internal/payment/domain"
)

// LimitStore tracks merchant limit usage. Each payment is recorded once so
// a retried consume or restore does not move the running total twice.
type LimitStore struct {
	db           *database.DB
	defaultLimit int64
}

// NewLimitStore creates a limit store. Merchants without a stored limit get defaultLimit.
func NewLimitStore(db *database.DB, defaultLimit int64) *LimitStore {
	return &LimitStore{db: db, defaultLimit: defaultLimit}
}

// Check reports whether amount still fits in the merchant's limit
func (s *LimitStore) Check(ctx context.Context, merchantID string, _ domain.MethodType, amount int64) (bool, error) {
	var limit, consumed int64
	err := s.db.QueryRow(ctx, `
		SELECT limit_amount, consumed_amount FROM merchant_limits WHERE merchant_id = $1
	`, merchantID).Scan(&limit, &consumed)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("loading merchant limit: %w", err)
		}
		limit, consumed = s.defaultLimit, 0
	}
	return consumed+amount <= limit, nil
}

// Consume records amount against the merchant's limit for a payment
func (s *LimitStore) Consume(ctx context.Context, merchantID, paymentID string, amount int64) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO merchant_limit_usages (merchant_id, payment_id, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (merchant_id, payment_id) DO NOTHING
		`, merchantID, paymentID, amount)
		if err != nil {
			return fmt.Errorf("recording limit usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO merchant_limits (merchant_id, limit_amount, consumed_amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (merchant_id) DO UPDATE
			SET consumed_amount = merchant_limits.consumed_amount + EXCLUDED.consumed_amount
		`, merchantID, s.defaultLimit, amount)
		if err != nil {
			return fmt.Errorf("consuming merchant limit: %w", err)
		}
		return nil
	})
}

// Restore gives back what a payment consumed
func (s *LimitStore) Restore(ctx context.Context, merchantID, paymentID string, _ int64) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var amount int64
		err := tx.QueryRow(ctx, `
			DELETE FROM merchant_limit_usages
			WHERE merchant_id = $1 AND payment_id = $2
			RETURNING amount
		`, merchantID, paymentID).Scan(&amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("removing limit usage: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE merchant_limits
			SET consumed_amount = consumed_amount - $2
			WHERE merchant_id = $1
		`, merchantID, amount)
		if err != nil {
			return fmt.Errorf("restoring merchant limit: %w", err)
		}
		return nil
	})
}

// SetLimit sets a merchant's limit, keeping its running total
func (s *LimitStore) SetLimit(ctx context.Context, merchantID string, limit int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO merchant_limits (merchant_id, limit_amount)
		VALUES ($1, $2)
		ON CONFLICT (merchant_id) DO UPDATE SET limit_amount = EXCLUDED.limit_amount
	`, merchantID, limit)
	if err != nil {
		return fmt.Errorf("setting merchant limit: %w", err)
	}
	return nil
}
