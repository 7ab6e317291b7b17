package merchant

import (
	"context"
	"fmt"
	"time"

	"paygate/internal/payment/domain"
)

// ContractValidator runs the contract checks in a fixed order; the first
// failure wins.
type ContractValidator struct {
	limits LimitService
	policy domain.Policy
	now    func() time.Time
}

// NewContractValidator creates a validator using the platform policy.
func NewContractValidator(limits LimitService, policy domain.Policy) *ContractValidator {
	return &ContractValidator{
		limits: limits,
		policy: policy,
		now:    time.Now,
	}
}

// WithClock overrides the clock used for contract expiry.
func (v *ContractValidator) WithClock(now func() time.Time) *ContractValidator {
	v.now = now
	return v
}

// Validate checks status, end date, method policy, minimum amount and the
// merchant's running limit.
func (v *ContractValidator) Validate(ctx context.Context, contract *Contract, method domain.MethodType, amount int64) error {
	if err := checkStatus(contract); err != nil {
		return err
	}
	if err := v.checkNotExpired(contract); err != nil {
		return err
	}
	policy, err := checkMethodAllowed(contract, method)
	if err != nil {
		return err
	}
	if err := v.checkAmount(contract, policy, amount); err != nil {
		return err
	}

	ok, err := v.limits.Check(ctx, contract.MerchantID, method, amount)
	if err != nil {
		return fmt.Errorf("checking merchant limit: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: merchant %s", domain.ErrMerchantLimitExceeded, contract.MerchantID)
	}
	return nil
}

func checkStatus(contract *Contract) error {
	switch contract.Status {
	case StatusActive:
		return nil
	case StatusSuspended:
		return fmt.Errorf("%w: merchant %s", domain.ErrMerchantSuspended, contract.MerchantID)
	case StatusTerminated:
		return fmt.Errorf("%w: merchant %s", domain.ErrMerchantTerminated, contract.MerchantID)
	default:
		return fmt.Errorf("%w: merchant %s has status %q", domain.ErrMerchantSuspended, contract.MerchantID, contract.Status)
	}
}

func (v *ContractValidator) checkNotExpired(contract *Contract) error {
	if contract.ContractEndDate == nil {
		return nil
	}
	if dateOf(*contract.ContractEndDate).Before(dateOf(v.now())) {
		return fmt.Errorf("%w: merchant %s ended %s", domain.ErrContractExpired, contract.MerchantID, contract.ContractEndDate.Format(time.DateOnly))
	}
	return nil
}

func checkMethodAllowed(contract *Contract, method domain.MethodType) (MethodPolicy, error) {
	policy, ok := contract.MethodPolicies[method]
	if !ok || !policy.Enabled {
		return MethodPolicy{}, fmt.Errorf("%w: merchant %s, method %s", domain.ErrPaymentMethodNotAllowed, contract.MerchantID, method)
	}
	return policy, nil
}

// Merchants may raise the platform floor, never lower it.
func (v *ContractValidator) checkAmount(contract *Contract, policy MethodPolicy, amount int64) error {
	minimum := v.policy.MinPaymentAmount
	if policy.MinAmount != nil && *policy.MinAmount > minimum {
		minimum = *policy.MinAmount
	}
	if amount < minimum {
		return fmt.Errorf("%w: %d < %d", domain.ErrAmountBelowMinimum, amount, minimum)
	}
	if policy.MaxAmount != nil && amount > *policy.MaxAmount {
		return fmt.Errorf("%w: %d exceeds per-payment maximum %d for merchant %s", domain.ErrMerchantLimitExceeded, amount, *policy.MaxAmount, contract.MerchantID)
	}
	return nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
