// Package merchant validates a merchant's contract before a payment proceeds.
package merchant

import (
	"context"
	"time"

	"paygate/internal/payment/domain"
)

// Status is the contract standing of a merchant.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusSuspended  Status = "SUSPENDED"
	StatusTerminated Status = "TERMINATED"
)

// MethodPolicy governs one payment method for a merchant.
type MethodPolicy struct {
	Enabled   bool   `json:"enabled"`
	MinAmount *int64 `json:"min_amount,omitempty"`
	MaxAmount *int64 `json:"max_amount,omitempty"`
}

// InstallmentPolicy is the merchant side of installment eligibility.
type InstallmentPolicy struct {
	MerchantID           string `json:"merchant_id"`
	SupportsInstallment  bool   `json:"supports_installment"`
	MinInstallmentAmount int64  `json:"min_installment_amount"`
	AvailableMonths      []int  `json:"available_months"`
}

// Contract is a merchant's agreement with the platform.
// A nil ContractEndDate means the contract has no end.
type Contract struct {
	MerchantID        string                             `json:"merchant_id"`
	Status            Status                             `json:"status"`
	ContractEndDate   *time.Time                         `json:"contract_end_date,omitempty"`
	MCC               string                             `json:"mcc"`
	MethodPolicies    map[domain.MethodType]MethodPolicy `json:"method_policies"`
	InstallmentPolicy InstallmentPolicy                  `json:"installment_policy"`
}

// ContractService loads merchant contracts.
type ContractService interface {
	GetContract(ctx context.Context, merchantID string) (*Contract, error)
}

// LimitService tracks how much of its payment limit a merchant has used.
type LimitService interface {
	Check(ctx context.Context, merchantID string, method domain.MethodType, amount int64) (bool, error)
	Consume(ctx context.Context, merchantID, paymentID string, amount int64) error
	Restore(ctx context.Context, merchantID, paymentID string, amount int64) error
}
