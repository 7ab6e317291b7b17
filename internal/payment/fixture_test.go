package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paygate/internal/common/events"
	"paygate/internal/common/money"
	"paygate/internal/guard"
	"paygate/internal/payment/authentication"
	"paygate/internal/payment/domain"
	"paygate/internal/payment/fraud"
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
	"paygate/internal/payment/promotion"
	"paygate/internal/vault"
)

const (
	merchantID = "merchant-1"

	cardDomestic = "4111111111111111"
	cardForeign  = "5555555555554444"
	cardDebit    = "4000056655665556"
	cardBlocked  = "378282246310005"
	cardBadLuhn  = "4111111111111112"
)

var testNow = time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func eventOfType(eventType string) interface{} {
	return mock.MatchedBy(func(e *events.Event) bool { return e.Type == eventType })
}

type fixture struct {
	clock      time.Time
	sessions   *MemorySessionRepository
	payments   *MemoryPaymentRepository
	gate       *guard.MemoryGate
	limits     *merchant.MemoryLimitService
	contracts  *merchant.StaticContractService
	vault      *vault.MemoryVault
	publisher  *mockPublisher
	promotions *StaticPromotionRepository

	sessionService *SessionService
	cardService    *CardPaymentService
}

func testBins() []domain.Bin {
	return []domain.Bin{
		{Number: "411111", Brand: domain.BrandVisa, IssuerCode: "SHINHAN", AcquirerCode: "KB", CardType: domain.CardTypeCredit, OwnerType: domain.OwnerPersonal, IssuedCountry: "KR"},
		{Number: "555555", Brand: domain.BrandMastercard, IssuerCode: "CITI", AcquirerCode: "KB", CardType: domain.CardTypeCredit, OwnerType: domain.OwnerPersonal, IssuedCountry: "US"},
		{Number: "400005", Brand: domain.BrandVisa, IssuerCode: "HANA", AcquirerCode: "KB", CardType: domain.CardTypeDebit, OwnerType: domain.OwnerPersonal, IssuedCountry: "KR"},
		{Number: "378282", Brand: domain.BrandAmex, IssuerCode: "AMEX", AcquirerCode: "AMEX", CardType: domain.CardTypeCredit, OwnerType: domain.OwnerPersonal, IssuedCountry: "CN"},
	}
}

func testContract() *merchant.Contract {
	return &merchant.Contract{
		MerchantID: merchantID,
		Status:     merchant.StatusActive,
		MCC:        "5411",
		MethodPolicies: map[domain.MethodType]merchant.MethodPolicy{
			domain.MethodCard: {Enabled: true},
		},
		InstallmentPolicy: merchant.InstallmentPolicy{
			MerchantID:           merchantID,
			SupportsInstallment:  true,
			MinInstallmentAmount: 50000,
			AvailableMonths:      []int{2, 3, 6, 12},
		},
	}
}

func newFixture(t *testing.T, promotions ...*domain.Promotion) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := domain.DefaultPolicy()

	f := &fixture{
		clock:      testNow,
		sessions:   NewMemorySessionRepository(),
		payments:   NewMemoryPaymentRepository(),
		gate:       guard.NewMemoryGate(guard.DefaultGateTTL),
		limits:     merchant.NewMemoryLimitService(merchant.DefaultLimit),
		contracts:  merchant.NewStaticContractService(testContract()),
		vault:      vault.NewMemoryVault(vault.DefaultRetention),
		publisher:  &mockPublisher{},
		promotions: NewStaticPromotionRepository(promotions...),
	}
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)
	now := func() time.Time { return f.clock }

	f.sessionService = NewSessionService(f.sessions, f.gate, NewULIDGenerator(), f.publisher, policy, logger)
	f.sessionService.now = now

	fraudPolicy := fraud.StaticPolicy{Countries: []string{"KR", "US", "JP"}, MaxPerMinute: 5}
	f.cardService = NewCardPaymentService(CardPaymentDeps{
		Sessions:       f.sessionService,
		Payments:       f.payments,
		Bins:           NewStaticBinLookup(testBins()...),
		Contracts:      f.contracts,
		Validator:      merchant.NewContractValidator(f.limits, policy).WithClock(now),
		Limits:         f.limits,
		Fraud:          fraud.NewEngine(logger, fraud.NewCountryRule(fraudPolicy), fraud.NewVelocityRule(fraudPolicy, nil)),
		Installments:   installment.NewCalculator(),
		IssuerPolicies: installment.NewStaticPolicyRepository(installment.IssuerPolicy{AvailableMonths: []int{2, 3, 6, 12}, InterestFreeMonths: []int{2, 3}}),
		Promotions:     f.promotions,
		Optimizer:      promotion.NewKnapsackOptimizer(),
		Vault:          f.vault,
		Authentication: authentication.NewRouter(authentication.StaticPolicy{Threshold: 300000, Exemptions: []string{"KR"}}),
		Publisher:      f.publisher,
		Policy:         policy,
	}, logger)
	f.cardService.now = now
	f.sessionService.OnExpire(f.cardService.ReleaseExpired)

	return f
}

func prepareCommand(orderID string, total int64) PrepareSessionCommand {
	return PrepareSessionCommand{
		MerchantID: merchantID,
		OrderID:    orderID,
		OrderLines: []domain.OrderLine{{Name: "Americano", Quantity: 1, UnitAmount: total}},
		Amount:     money.Amount{Total: total},
		RedirectURLs: domain.RedirectURLs{
			Success: "https://shop.example.com/success",
			Fail:    "https://shop.example.com/fail",
		},
	}
}

func (f *fixture) prepare(t *testing.T, orderID string, total int64) *domain.PaymentSession {
	t.Helper()
	session, err := f.sessionService.Prepare(context.Background(), prepareCommand(orderID, total))
	require.NoError(t, err)
	return session
}

func submitCommand(paymentKey, cardNumber string, installmentMonths int) SubmitCardPaymentCommand {
	return SubmitCardPaymentCommand{
		PaymentKey:        paymentKey,
		CardNumber:        cardNumber,
		ExpiryMonth:       12,
		ExpiryYear:        2030,
		CVC:               "123",
		HolderName:        "HONG GILDONG",
		InstallmentMonths: installmentMonths,
	}
}
