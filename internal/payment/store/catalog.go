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
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
)

// CatalogStore reads the reference data a payment is checked against:
// card BINs, promotions, merchant contracts and issuer installment policies.
type CatalogStore struct {
	db             *database.DB
	issuerFallback installment.IssuerPolicy
}

// NewCatalogStore creates a catalog store. Issuers without a stored
// installment policy get issuerFallback.
func NewCatalogStore(db *database.DB, issuerFallback installment.IssuerPolicy) *CatalogStore {
	return &CatalogStore{db: db, issuerFallback: issuerFallback}
}

// Lookup resolves the longest stored BIN prefixing cardNumber
func (s *CatalogStore) Lookup(ctx context.Context, cardNumber string) (domain.Bin, error) {
	digits := domain.DigitsOnly(cardNumber)
	if digits == "" {
		return domain.Bin{}, domain.ErrBinNotFound
	}

	var b domain.Bin
	err := s.db.QueryRow(ctx, `
		SELECT bin_number, brand, issuer_code, acquirer_code, card_type,
			   owner_type, issued_country, product_code
		FROM card_bins
		WHERE starts_with($1, bin_number)
		ORDER BY length(bin_number) DESC
		LIMIT 1
	`, digits).Scan(
		&b.Number, &b.Brand, &b.IssuerCode, &b.AcquirerCode, &b.CardType,
		&b.OwnerType, &b.IssuedCountry, &b.ProductCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bin{}, domain.ErrBinNotFound
		}
		return domain.Bin{}, fmt.Errorf("looking up bin: %w", err)
	}
	return b, nil
}

// FindActive lists the promotions for a method whose window covers at
func (s *CatalogStore) FindActive(ctx context.Context, method domain.MethodType, at time.Time) ([]*domain.Promotion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, provider, method_type, discount_type, discount_value,
			   max_discount_amount, card_brand, card_type, issuer_code, min_amount,
			   valid_from, valid_until
		FROM promotions
		WHERE method_type = $1 AND valid_from <= $2 AND valid_until >= $2
		ORDER BY id
	`, method, at)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	defer rows.Close()

	var promotions []*domain.Promotion
	for rows.Next() {
		var p domain.Promotion
		err := rows.Scan(
			&p.ID, &p.Name, &p.Provider, &p.MethodType, &p.DiscountType, &p.DiscountValue,
			&p.MaxDiscountAmount, &p.CardBrand, &p.CardType, &p.IssuerCode, &p.MinAmount,
			&p.ValidFrom, &p.ValidUntil,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning promotion: %w", err)
		}
		promotions = append(promotions, &p)
	}
	return promotions, rows.Err()
}

// SavePromotion validates and upserts a promotion
func (s *CatalogStore) SavePromotion(ctx context.Context, p *domain.Promotion) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO promotions (
			id, name, provider, method_type, discount_type, discount_value,
			max_discount_amount, card_brand, card_type, issuer_code, min_amount,
			valid_from, valid_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			provider = EXCLUDED.provider,
			method_type = EXCLUDED.method_type,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			max_discount_amount = EXCLUDED.max_discount_amount,
			card_brand = EXCLUDED.card_brand,
			card_type = EXCLUDED.card_type,
			issuer_code = EXCLUDED.issuer_code,
			min_amount = EXCLUDED.min_amount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until
	`,
		p.ID, p.Name, p.Provider, p.MethodType, p.DiscountType, p.DiscountValue,
		p.MaxDiscountAmount, p.CardBrand, p.CardType, p.IssuerCode, p.MinAmount,
		p.ValidFrom, p.ValidUntil,
	)
	if err != nil {
		return fmt.Errorf("saving promotion: %w", err)
	}
	return nil
}

// GetContract loads a merchant contract
func (s *CatalogStore) GetContract(ctx context.Context, merchantID string) (*merchant.Contract, error) {
	var (
		c        merchant.Contract
		policies []byte
		months   []int32
	)
	err := s.db.QueryRow(ctx, `
		SELECT merchant_id, status, contract_end_date, mcc, method_policies,
			   supports_installment, min_installment_amount, installment_months
		FROM merchant_contracts
		WHERE merchant_id = $1
	`, merchantID).Scan(
		&c.MerchantID, &c.Status, &c.ContractEndDate, &c.MCC, &policies,
		&c.InstallmentPolicy.SupportsInstallment, &c.InstallmentPolicy.MinInstallmentAmount, &months,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("merchant %s: %w", merchantID, domain.ErrMerchantNotFound)
		}
		return nil, fmt.Errorf("loading contract: %w", err)
	}

	if err := json.Unmarshal(policies, &c.MethodPolicies); err != nil {
		return nil, fmt.Errorf("decoding method policies: %w", err)
	}
	c.InstallmentPolicy.MerchantID = c.MerchantID
	c.InstallmentPolicy.AvailableMonths = ints(months)
	return &c, nil
}

// SaveContract upserts a merchant contract
func (s *CatalogStore) SaveContract(ctx context.Context, c *merchant.Contract) error {
	policies, err := json.Marshal(c.MethodPolicies)
	if err != nil {
		return fmt.Errorf("encoding method policies: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO merchant_contracts (
			merchant_id, status, contract_end_date, mcc, method_policies,
			supports_installment, min_installment_amount, installment_months
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (merchant_id) DO UPDATE SET
			status = EXCLUDED.status,
			contract_end_date = EXCLUDED.contract_end_date,
			mcc = EXCLUDED.mcc,
			method_policies = EXCLUDED.method_policies,
			supports_installment = EXCLUDED.supports_installment,
			min_installment_amount = EXCLUDED.min_installment_amount,
			installment_months = EXCLUDED.installment_months
	`,
		c.MerchantID, c.Status, c.ContractEndDate, c.MCC, policies,
		c.InstallmentPolicy.SupportsInstallment, c.InstallmentPolicy.MinInstallmentAmount,
		int32s(c.InstallmentPolicy.AvailableMonths),
	)
	if err != nil {
		return fmt.Errorf("saving contract: %w", err)
	}
	return nil
}

// FindByIssuerCode loads an issuer's installment policy, falling back to
// the default policy for unknown issuers
func (s *CatalogStore) FindByIssuerCode(ctx context.Context, issuerCode string) (installment.IssuerPolicy, error) {
	var (
		p                    installment.IssuerPolicy
		months, interestFree []int32
	)
	err := s.db.QueryRow(ctx, `
		SELECT issuer_code, available_months, interest_free_months, min_installment_amount
		FROM issuer_installment_policies
		WHERE issuer_code = $1
	`, issuerCode).Scan(&p.IssuerCode, &months, &interestFree, &p.MinInstallmentAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			fallback := s.issuerFallback
			fallback.IssuerCode = issuerCode
			return fallback, nil
		}
		return installment.IssuerPolicy{}, fmt.Errorf("loading issuer policy: %w", err)
	}
	p.AvailableMonths = ints(months)
	p.InterestFreeMonths = ints(interestFree)
	return p, nil
}

func ints(values []int32) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}

func int32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}
