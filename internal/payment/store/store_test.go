package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/common/database"
	"paygate/internal/common/money"
	"paygate/internal/payment"
	"paygate/internal/payment/domain"
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
	"paygate/migrations"
)

var (
	_ payment.SessionRepository    = (*SessionStore)(nil)
	_ payment.PaymentRepository    = (*PaymentStore)(nil)
	_ payment.BinLookup            = (*CatalogStore)(nil)
	_ payment.PromotionRepository  = (*CatalogStore)(nil)
	_ merchant.ContractService     = (*CatalogStore)(nil)
	_ installment.PolicyRepository = (*CatalogStore)(nil)
	_ merchant.LimitService        = (*LimitStore)(nil)
)

// testDB connects to PAYGATE_TEST_DATABASE_URL and migrates it, skipping
// the test when the variable is unset.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("PAYGATE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYGATE_TEST_DATABASE_URL not set")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(migrations.FS, ".", url, database.Up, logger))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := database.New(ctx, database.Config{
		URL:             url,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: time.Minute,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func newSession(t *testing.T, orderID string) *domain.PaymentSession {
	t.Helper()
	amount, err := money.SplitVAT(50000)
	require.NoError(t, err)
	session, err := domain.NewPaymentSession(
		ulid.Make().String(), "merchant-store-test", orderID,
		[]domain.OrderLine{{Name: "Latte", Quantity: 2, UnitAmount: 25000}},
		amount,
		domain.RedirectURLs{Success: "https://shop.example.com/ok", Fail: "https://shop.example.com/fail"},
		domain.DefaultPolicy(),
		time.Now(),
	)
	require.NoError(t, err)
	return session
}

func TestSessionStore(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	sessions := NewSessionStore(db)
	orderID := ulid.Make().String()

	session := newSession(t, orderID)
	require.NoError(t, sessions.Create(ctx, session))

	err := sessions.Create(ctx, newSession(t, orderID))
	assert.ErrorIs(t, err, domain.ErrSessionDuplicate)

	found, err := sessions.FindOngoingByOrder(ctx, session.MerchantID, orderID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, session.ID, found.ID)
	assert.Equal(t, session.OrderLines, found.OrderLines)
	assert.Equal(t, session.Amount, found.Amount)

	session.Expire(time.Now())
	require.NoError(t, sessions.Update(ctx, session))

	found, err = sessions.FindOngoingByOrder(ctx, session.MerchantID, orderID)
	require.NoError(t, err)
	assert.Nil(t, found)
	_, err = sessions.FindOngoingByKey(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, sessions.Create(ctx, newSession(t, orderID)), "an expired session frees its order")
}

func TestPaymentStoreVersioning(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	session := newSession(t, ulid.Make().String())
	require.NoError(t, NewSessionStore(db).Create(ctx, session))
	payments := NewPaymentStore(db)

	p, err := domain.NewPayment(ulid.Make().String(), session.ID, session.MerchantID, domain.MethodCard, 50000)
	require.NoError(t, err)
	require.NoError(t, payments.Save(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	dup, err := domain.NewPayment(ulid.Make().String(), session.ID, session.MerchantID, domain.MethodCard, 50000)
	require.NoError(t, err)
	assert.ErrorIs(t, payments.Save(ctx, dup), domain.ErrPaymentAlreadySubmitted)

	stale, err := payments.FindByPaymentKey(ctx, session.ID)
	require.NoError(t, err)

	require.NoError(t, p.Reject("CARD_EXPIRED", "card is expired"))
	require.NoError(t, payments.Save(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	require.NoError(t, stale.Reject("FRAUD_DETECTED", "fraud"))
	assert.ErrorIs(t, payments.Save(ctx, stale), domain.ErrVersionConflict)

	loaded, err := payments.FindByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	require.NotNil(t, loaded.Failure())
	assert.Equal(t, "CARD_EXPIRED", loaded.Failure().ErrorCode)

	_, err = payments.FindByPaymentKey(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestCatalogStoreSeedData(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	catalog := NewCatalogStore(db, installment.IssuerPolicy{AvailableMonths: []int{2, 3}})

	bin, err := catalog.Lookup(ctx, "4111-1111-1111-1111")
	require.NoError(t, err)
	assert.Equal(t, domain.BrandVisa, bin.Brand)
	assert.Equal(t, "KR", bin.IssuedCountry)

	_, err = catalog.Lookup(ctx, "9999999999999999")
	assert.ErrorIs(t, err, domain.ErrBinNotFound)

	contract, err := catalog.GetContract(ctx, "merchant-demo")
	require.NoError(t, err)
	assert.True(t, contract.MethodPolicies[domain.MethodCard].Enabled)
	assert.Equal(t, []int{2, 3, 6, 12}, contract.InstallmentPolicy.AvailableMonths)

	_, err = catalog.GetContract(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMerchantNotFound)

	policy, err := catalog.FindByIssuerCode(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", policy.IssuerCode)
	assert.Equal(t, []int{2, 3}, policy.AvailableMonths)

	promotions, err := catalog.FindActive(ctx, domain.MethodCard, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(promotions), 2)
}

func TestLimitStoreIsIdempotentPerPayment(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	limits := NewLimitStore(db, 100000)
	merchantID := "merchant-" + ulid.Make().String()

	require.NoError(t, limits.Consume(ctx, merchantID, "p1", 60000))
	require.NoError(t, limits.Consume(ctx, merchantID, "p1", 60000))

	ok, err := limits.Check(ctx, merchantID, domain.MethodCard, 40000)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = limits.Check(ctx, merchantID, domain.MethodCard, 40001)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, limits.Restore(ctx, merchantID, "p1", 60000))
	require.NoError(t, limits.Restore(ctx, merchantID, "p1", 60000))
	ok, err = limits.Check(ctx, merchantID, domain.MethodCard, 100000)
	require.NoError(t, err)
	assert.True(t, ok)
}
