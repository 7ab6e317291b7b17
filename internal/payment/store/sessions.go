// Package store persists payment sessions, payments and the payment catalog
// in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"paygate/internal/common/database"
	"paygate/internal/payment/domain"
)

// SessionStore provides payment session data access
type SessionStore struct {
	db *database.DB
}

// NewSessionStore creates a new session store
func NewSessionStore(db *database.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `
	payment_key, merchant_id, order_id, order_lines,
	total_amount, supply_amount, vat_amount, success_url, fail_url,
	expires_at, expired, created_at, updated_at
`

// Create inserts a session. The partial unique index on ongoing orders
// turns a concurrent insert into domain.ErrSessionDuplicate.
func (s *SessionStore) Create(ctx context.Context, session *domain.PaymentSession) error {
	lines, err := json.Marshal(session.OrderLines)
	if err != nil {
		return fmt.Errorf("encoding order lines: %w", err)
	}

	query := `
		INSERT INTO payment_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.Exec(ctx, query,
		session.ID,
		session.MerchantID,
		session.OrderID,
		lines,
		session.Amount.Total,
		session.Amount.Supply,
		session.Amount.VAT,
		session.RedirectURLs.Success,
		session.RedirectURLs.Fail,
		session.ExpiresAt,
		session.Expired,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("order %s/%s: %w", session.MerchantID, session.OrderID, domain.ErrSessionDuplicate)
		}
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Update writes the mutable fields of a session
func (s *SessionStore) Update(ctx context.Context, session *domain.PaymentSession) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_sessions
		SET expired = $2, expires_at = $3, updated_at = $4
		WHERE payment_key = $1
	`, session.ID, session.Expired, session.ExpiresAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// FindOngoingByOrder returns the non-expired session of an order, or nil
func (s *SessionStore) FindOngoingByOrder(ctx context.Context, merchantID, orderID string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE merchant_id = $1 AND order_id = $2 AND NOT expired
	`
	session, err := scanSession(s.db.QueryRow(ctx, query, merchantID, orderID))
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	return session, err
}

// FindOngoingByKey returns the non-expired session with a payment key
func (s *SessionStore) FindOngoingByKey(ctx context.Context, paymentKey string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE payment_key = $1 AND NOT expired
	`
	return scanSession(s.db.QueryRow(ctx, query, paymentKey))
}

// ListExpirable lists non-expired sessions that lapsed before cutoff, oldest first
func (s *SessionStore) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM payment_sessions
		WHERE NOT expired AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expirable sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.PaymentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*domain.PaymentSession, error) {
	var (
		session domain.PaymentSession
		lines   []byte
	)
	err := row.Scan(
		&session.ID, &session.MerchantID, &session.OrderID, &lines,
		&session.Amount.Total, &session.Amount.Supply, &session.Amount.VAT,
		&session.RedirectURLs.Success, &session.RedirectURLs.Fail,
		&session.ExpiresAt, &session.Expired, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal(lines, &session.OrderLines); err != nil {
		return nil, fmt.Errorf("decoding order lines: %w", err)
	}
	session.ExpiresAt = session.ExpiresAt.UTC()
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return &session, nil
}
