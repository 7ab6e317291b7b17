package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPayment("01HZPAYMENT", "01HZKEY", "merchant-1", MethodCard, 50000)
	require.NoError(t, err)
	return p
}

func testDetails(t *testing.T) CardPaymentDetails {
	t.Helper()
	card, err := NewCard("4111111111111111", 12, 30, "", visaBin(), cardNow)
	require.NoError(t, err)
	return CardPaymentDetails{Card: card}
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusInitialized:            {StatusAuthenticationRequired, StatusPendingConfirm, StatusFailed},
		StatusAuthenticationRequired: {StatusPendingConfirm, StatusFailed},
		StatusPendingConfirm:         {StatusPaymentProcessing, StatusCancelled},
		StatusPaymentProcessing:      {StatusCompleted, StatusFailed},
	}
	all := []Status{
		StatusInitialized, StatusAuthenticationRequired, StatusPendingConfirm,
		StatusPaymentProcessing, StatusCompleted, StatusFailed, StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			got, err := from.TransitionTo(to)
			if want {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", from, to)
				assert.Equal(t, from, got)
			}
		}
	}

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPendingConfirm.IsTerminal())
}

func TestPaymentWithoutAuthentication(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Submit(testDetails(t)))
	require.NoError(t, p.CompleteWithoutAuthentication())
	assert.Equal(t, StatusPendingConfirm, p.Status)

	err := p.CompleteWithoutAuthentication()
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCompleteWithoutAuthenticationRequiresInitialized(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Submit(testDetails(t)))
	require.NoError(t, p.RequestAuthentication())

	err := p.CompleteWithoutAuthentication()
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusAuthenticationRequired, p.Status)

	require.NoError(t, p.CompleteAuthentication())
	assert.Equal(t, StatusPendingConfirm, p.Status)
}

func TestCompleteAuthenticationRequiresAuthenticationRequired(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Submit(testDetails(t)))
	assert.ErrorIs(t, p.CompleteAuthentication(), ErrIllegalTransition)
}

func TestFailRequiresSubmit(t *testing.T) {
	p := newTestPayment(t)
	err := p.Fail("ERROR", "no card yet")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusInitialized, p.Status)

	require.NoError(t, p.Submit(testDetails(t)))
	require.NoError(t, p.Fail("VALIDATION_ERROR", "card check failed"))
	assert.Equal(t, StatusFailed, p.Status)
	require.NotNil(t, p.Failure())
	assert.Equal(t, "VALIDATION_ERROR", p.Failure().ErrorCode)
	assert.Equal(t, "card check failed", p.Failure().FailureReason)
}

func TestSubmitOnlyOnce(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Submit(testDetails(t)))
	assert.ErrorIs(t, p.Submit(testDetails(t)), ErrIllegalTransition)
}

func TestStepsRequireDetails(t *testing.T) {
	p := newTestPayment(t)
	assert.ErrorIs(t, p.RequestAuthentication(), ErrIllegalTransition)
	assert.ErrorIs(t, p.CompleteWithoutAuthentication(), ErrIllegalTransition)
	assert.ErrorIs(t, p.CompleteAuthentication(), ErrIllegalTransition)
}

func TestRejectWithoutDetails(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Reject("CARD_INVALID_CHECKSUM", "card number checksum is invalid"))
	assert.Equal(t, StatusFailed, p.Status)
	assert.Nil(t, p.CardDetails)
	require.NotNil(t, p.Failure())
	assert.Equal(t, "CARD_INVALID_CHECKSUM", p.Failure().ErrorCode)

	assert.ErrorIs(t, p.Reject("X", "again"), ErrIllegalTransition)
}

func TestFullLifecycle(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Submit(testDetails(t)))
	require.NoError(t, p.CompleteWithoutAuthentication())
	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.Complete("APPROVAL-1"))

	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, "APPROVAL-1", p.CardDetails.Result.ApprovalNumber)
	assert.NotNil(t, p.CardDetails.Result.ApprovedAt)
	assert.Nil(t, p.Failure())
	assert.ErrorIs(t, p.Cancel(), ErrIllegalTransition)
}

func TestApplyPromotions(t *testing.T) {
	p := newTestPayment(t)
	policy := DefaultPolicy()
	brand := BrandVisa

	promos := []*Promotion{
		{Name: "issuer 3000", Provider: ProviderCardIssuer, DiscountType: DiscountFixed, DiscountValue: 3000, CardBrand: &brand},
		{Name: "platform 10%", Provider: ProviderPlatform, DiscountType: DiscountPercentage, DiscountValue: 10, CardBrand: &brand},
	}
	require.NoError(t, p.ApplyPromotions(promos, policy))

	assert.Len(t, p.EffectivePromotions, 2)
	assert.Equal(t, int64(8000), p.DiscountTotal())
	assert.Equal(t, int64(42000), p.FinalAmount())
}

func TestApplyPromotionsKeepsMinimum(t *testing.T) {
	p := newTestPayment(t)
	brand := BrandVisa
	promos := []*Promotion{
		{Name: "too much", Provider: ProviderPlatform, DiscountType: DiscountFixed, DiscountValue: 49500, CardBrand: &brand},
	}

	err := p.ApplyPromotions(promos, DefaultPolicy())
	assert.ErrorIs(t, err, ErrPromotionExceedsAmount)
	assert.Empty(t, p.EffectivePromotions)
	assert.Equal(t, int64(50000), p.FinalAmount())
}

func TestNewPaymentValidation(t *testing.T) {
	_, err := NewPayment("id", "key", "m", MethodType("BANK"), 1000)
	assert.ErrorIs(t, err, ErrUnsupportedPaymentMethod)

	_, err = NewPayment("id", "key", "m", MethodCard, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewPayment("", "key", "m", MethodCard, 1000)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
