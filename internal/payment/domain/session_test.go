package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/common/money"
)

func testLines() []OrderLine {
	return []OrderLine{{Name: "T-shirt", Quantity: 2, UnitAmount: 5500}}
}

func testURLs() RedirectURLs {
	return RedirectURLs{Success: "https://shop.example.com/ok", Fail: "https://shop.example.com/fail"}
}

func TestNewPaymentSession(t *testing.T) {
	amount, err := money.SplitVAT(11000)
	require.NoError(t, err)

	s, err := NewPaymentSession("01HZKEY", "merchant-1", "order-1", testLines(), amount, testURLs(), DefaultPolicy(), cardNow)
	require.NoError(t, err)

	assert.Equal(t, "01HZKEY", s.PaymentKey())
	assert.Equal(t, cardNow.Add(15*time.Minute), s.ExpiresAt)
	assert.False(t, s.Expired)
	assert.Equal(t, "https://shop.example.com/ok", s.SuccessURL())
}

func TestNewPaymentSessionRejectsSmallAmount(t *testing.T) {
	amount, err := money.SplitVAT(999)
	require.NoError(t, err)

	_, err = NewPaymentSession("k", "m", "o", testLines(), amount, testURLs(), DefaultPolicy(), cardNow)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewPaymentSessionRejectsUnbalancedAmount(t *testing.T) {
	amount := money.Amount{Total: 11000, Supply: 10000, VAT: 999}
	_, err := NewPaymentSession("k", "m", "o", testLines(), amount, testURLs(), DefaultPolicy(), cardNow)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidateOrderLines(t *testing.T) {
	assert.ErrorIs(t, ValidateOrderLines(nil), ErrInvalidOrderLines)
	assert.ErrorIs(t, ValidateOrderLines([]OrderLine{{Name: "x", Quantity: 0}}), ErrInvalidOrderLines)
	assert.ErrorIs(t, ValidateOrderLines([]OrderLine{{Name: "", Quantity: 1}}), ErrInvalidOrderLines)
	assert.ErrorIs(t, ValidateOrderLines([]OrderLine{{Name: "x", Quantity: 1, UnitAmount: -1}}), ErrInvalidOrderLines)
	assert.NoError(t, ValidateOrderLines(testLines()))
}

func TestSessionExpiryAndIdentity(t *testing.T) {
	amount, err := money.SplitVAT(11000)
	require.NoError(t, err)
	s, err := NewPaymentSession("k", "m", "o", testLines(), amount, testURLs(), DefaultPolicy(), cardNow)
	require.NoError(t, err)

	assert.False(t, s.HasReachedExpiration(s.ExpiresAt))
	assert.True(t, s.HasReachedExpiration(s.ExpiresAt.Add(time.Nanosecond)))

	assert.True(t, s.IsIdenticalPayment("m", "o", amount))
	other, err := money.SplitVAT(12000)
	require.NoError(t, err)
	assert.False(t, s.IsIdenticalPayment("m", "o", other))
	assert.False(t, s.IsIdenticalPayment("m", "o2", amount))

	s.Expire(cardNow)
	assert.True(t, s.Expired)
}
