package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/common/events"
	"paygate/internal/guard"
	"paygate/internal/payment"
	"paygate/internal/payment/authentication"
	"paygate/internal/payment/domain"
	"paygate/internal/payment/fraud"
	"paygate/internal/payment/installment"
	"paygate/internal/payment/merchant"
	"paygate/internal/payment/promotion"
	"paygate/internal/vault"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := domain.DefaultPolicy()
	limits := merchant.NewMemoryLimitService(merchant.DefaultLimit)

	sessions := payment.NewSessionService(
		payment.NewMemorySessionRepository(),
		guard.NewMemoryGate(guard.DefaultGateTTL),
		payment.NewULIDGenerator(),
		events.NopPublisher{},
		policy,
		logger,
	)
	countries := fraud.StaticPolicy{Countries: []string{"KR", "US"}}
	cards := payment.NewCardPaymentService(payment.CardPaymentDeps{
		Sessions: sessions,
		Payments: payment.NewMemoryPaymentRepository(),
		Bins: payment.NewStaticBinLookup(
			domain.Bin{Number: "411111", Brand: domain.BrandVisa, IssuerCode: "SHINHAN", CardType: domain.CardTypeCredit, OwnerType: domain.OwnerPersonal, IssuedCountry: "KR"},
			domain.Bin{Number: "555555", Brand: domain.BrandMastercard, IssuerCode: "CITI", CardType: domain.CardTypeCredit, OwnerType: domain.OwnerPersonal, IssuedCountry: "US"},
		),
		Contracts: merchant.NewStaticContractService(&merchant.Contract{
			MerchantID:     "merchant-1",
			Status:         merchant.StatusActive,
			MethodPolicies: map[domain.MethodType]merchant.MethodPolicy{domain.MethodCard: {Enabled: true}},
		}),
		Validator:      merchant.NewContractValidator(limits, policy),
		Limits:         limits,
		Fraud:          fraud.NewEngine(logger, fraud.NewCountryRule(countries)),
		Installments:   installment.NewCalculator(),
		IssuerPolicies: installment.NewStaticPolicyRepository(installment.IssuerPolicy{}),
		Promotions:     payment.NewStaticPromotionRepository(),
		Optimizer:      promotion.NewKnapsackOptimizer(),
		Vault:          vault.NewMemoryVault(vault.DefaultRetention),
		Authentication: authentication.NewRouter(authentication.StaticPolicy{Threshold: 300000, Exemptions: []string{"KR"}}),
		Publisher:      events.NopPublisher{},
		Policy:         policy,
	}, logger)

	handler := NewHandler(sessions, cards, guard.NewIdempotencyGuard(guard.NewMemoryStore(time.Hour)), "https://pay.example.com/", logger)
	srv := httptest.NewServer(handler.Routes())
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, srv *httptest.Server, method, path string, headers map[string]string, body any) (int, envelope, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env, resp.Header
}

func readyBody(orderID string, total int64) map[string]any {
	return map[string]any{
		"merchant_id":  "merchant-1",
		"order_id":     orderID,
		"order_lines":  []map[string]any{{"name": "Mug", "quantity": 1, "unit_amount": total}},
		"total_amount": total,
		"redirect_urls": map[string]string{
			"success": "https://shop.example.com/ok",
			"fail":    "https://shop.example.com/fail",
		},
	}
}

func ready(t *testing.T, srv *httptest.Server, key, orderID string, total int64) (int, envelope) {
	t.Helper()
	status, env, _ := do(t, srv, http.MethodPost, "/ready", map[string]string{IdempotencyKeyHeader: key}, readyBody(orderID, total))
	return status, env
}

func cardBody(number string) map[string]any {
	return map[string]any{
		"card_number":  number,
		"expiry_month": 12,
		"expiry_year":  2099,
		"cvc":          "123",
	}
}

func TestReady(t *testing.T) {
	srv := newTestServer(t)

	status, env := ready(t, srv, "key-1", "order-1", 11000)
	require.Equal(t, http.StatusOK, status)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.NotEmpty(t, resp.PaymentKey)
	assert.Equal(t, "https://pay.example.com/checkout/"+resp.PaymentKey, resp.CheckoutURL)
	assert.False(t, resp.ExpiresAt.IsZero())

	status, env = ready(t, srv, "key-1", "order-1", 11000)
	require.Equal(t, http.StatusOK, status)
	var replay ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &replay))
	assert.Equal(t, resp.PaymentKey, replay.PaymentKey)
}

func TestReadyErrors(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusOK, first(ready(t, srv, "key-1", "order-1", 11000)))

	t.Run("missing idempotency key", func(t *testing.T) {
		status, env, _ := do(t, srv, http.MethodPost, "/ready", nil, readyBody("order-2", 5000))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "BAD_REQUEST", env.Error.Code)
	})

	t.Run("idempotency key reused for another request", func(t *testing.T) {
		status, env := ready(t, srv, "key-1", "order-1", 12000)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "IDEMPOTENCY_CONFLICT", env.Error.Code)
	})

	t.Run("same order with another amount", func(t *testing.T) {
		status, env := ready(t, srv, "key-2", "order-1", 12000)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "SESSION_CONFLICT", env.Error.Code)
	})

	t.Run("below minimum", func(t *testing.T) {
		status, env := ready(t, srv, "key-3", "order-3", 500)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_AMOUNT", env.Error.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		body := readyBody("order-4", 5000)
		delete(body, "order_id")
		status, env, _ := do(t, srv, http.MethodPost, "/ready", map[string]string{IdempotencyKeyHeader: "key-4"}, body)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_REQUEST_FIELD", env.Error.Code)
		assert.Contains(t, env.Error.Details, "ReadyRequest.OrderID")
	})
}

func first(status int, _ envelope) int { return status }

func prepared(t *testing.T, srv *httptest.Server, orderID string, total int64) string {
	t.Helper()
	status, env := ready(t, srv, "key-"+orderID, orderID, total)
	require.Equal(t, http.StatusOK, status)
	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.PaymentKey
}

func TestSubmitCard(t *testing.T) {
	srv := newTestServer(t)
	key := prepared(t, srv, "order-1", 50000)

	status, env, _ := do(t, srv, http.MethodPost, "/"+key+"/card", nil, cardBody("4111111111111111"))
	require.Equal(t, http.StatusOK, status)

	var result payment.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, payment.SubmitPendingConfirm, result.Status)
	assert.Equal(t, "https://shop.example.com/ok", result.RedirectURL)

	status, env, _ = do(t, srv, http.MethodGet, "/"+key, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var p PaymentResponse
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, domain.StatusPendingConfirm, p.Status)
	assert.Equal(t, "4111-****-****-1111", p.MaskedCardNumber)
	assert.Equal(t, int64(50000), p.FinalAmount)

	status, env, _ = do(t, srv, http.MethodPost, "/"+key+"/card", nil, cardBody("4111111111111111"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "PAYMENT_ALREADY_SUBMITTED", env.Error.Code)

	status, env, _ = do(t, srv, http.MethodPost, "/"+key+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, domain.StatusCancelled, p.Status)
}

func TestSubmitCardAuthenticationRedirect(t *testing.T) {
	srv := newTestServer(t)
	key := prepared(t, srv, "order-1", 50000)

	status, env, _ := do(t, srv, http.MethodPost, "/"+key+"/card", nil, cardBody("5555555555554444"))
	require.Equal(t, http.StatusOK, status)

	var result payment.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, payment.SubmitAuthenticationRequired, result.Status)
	require.NotNil(t, result.Authentication)
	assert.Equal(t, authentication.TypeThreeDS, result.Authentication.Type)

	status, env, _ = do(t, srv, http.MethodPost, "/"+key+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ILLEGAL_TRANSITION", env.Error.Code)
}

func TestSubmitCardErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		key    func() string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "unknown session",
			key:    func() string { return "unknown" },
			body:   cardBody("4111111111111111"),
			status: http.StatusNotFound,
			code:   "SESSION_NOT_FOUND",
		},
		{
			name:   "bad checksum",
			key:    func() string { return prepared(t, srv, "order-luhn", 50000) },
			body:   cardBody("4111111111111112"),
			status: http.StatusUnprocessableEntity,
			code:   "CARD_INVALID_CHECKSUM",
		},
		{
			name: "missing cvc",
			key:  func() string { return prepared(t, srv, "order-cvc", 50000) },
			body: map[string]any{
				"card_number":  "4111111111111111",
				"expiry_month": 12,
				"expiry_year":  2099,
			},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST_FIELD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env, _ := do(t, srv, http.MethodPost, fmt.Sprintf("/%s/card", tt.key()), nil, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := newTestServer(t)
	status, env, _ := do(t, srv, http.MethodGet, "/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "PAYMENT_NOT_FOUND", env.Error.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrGateBusy, http.StatusLocked},
		{domain.ErrSessionExpired, http.StatusGone},
		{fmt.Errorf("wrapped: %w", domain.ErrContractExpired), http.StatusUnprocessableEntity},
		{domain.NewFraudError(fraud.ReasonCountryNotAllowed), http.StatusUnprocessableEntity},
		{domain.ErrVersionConflict, http.StatusConflict},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusOf(tt.err), tt.err.Error())
	}
}

func TestGateBusySetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ready", strings.NewReader("{}"))
	h := &Handler{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	h.writeError(rec, req, domain.ErrGateBusy)

	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "PAYMENT_IN_PROGRESS")
}
