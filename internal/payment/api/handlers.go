package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/common/api"
	"paygate/internal/common/middleware"
	"paygate/internal/common/money"
	"paygate/internal/guard"
	"paygate/internal/payment"
	"paygate/internal/payment/domain"
)

// IdempotencyKeyHeader carries the client's idempotency key on ready requests
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler handles payment HTTP requests
type Handler struct {
	sessions        *payment.SessionService
	cards           *payment.CardPaymentService
	idempotency     *guard.IdempotencyGuard
	checkoutBaseURL string
	logger          *slog.Logger
}

// NewHandler creates a new payment handler
func NewHandler(
	sessions *payment.SessionService,
	cards *payment.CardPaymentService,
	idempotency *guard.IdempotencyGuard,
	checkoutBaseURL string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions:        sessions,
		cards:           cards,
		idempotency:     idempotency,
		checkoutBaseURL: strings.TrimRight(checkoutBaseURL, "/"),
		logger:          logger,
	}
}

// Routes returns the payment routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(middleware.RequireHeader(IdempotencyKeyHeader, api.ErrCodeBadRequest)).Post("/ready", h.Ready)

	r.Route("/{paymentKey}", func(r chi.Router) {
		r.Get("/", h.GetPayment)
		r.Post("/card", h.SubmitCard)
		r.Post("/cancel", h.Cancel)
	})

	return r
}

// ReadyRequest opens a checkout session for a merchant order.
// Supply and VAT may be omitted to derive them from the total.
type ReadyRequest struct {
	MerchantID   string              `json:"merchant_id" validate:"required,max=64"`
	OrderID      string              `json:"order_id" validate:"required,max=64"`
	OrderLines   []domain.OrderLine  `json:"order_lines" validate:"required,min=1,dive"`
	TotalAmount  int64               `json:"total_amount" validate:"gt=0"`
	SupplyAmount int64               `json:"supply_amount" validate:"gte=0"`
	VATAmount    int64               `json:"vat_amount" validate:"gte=0"`
	RedirectURLs domain.RedirectURLs `json:"redirect_urls"`
}

// ReadyResponse tells the merchant where to send the buyer
type ReadyResponse struct {
	PaymentKey  string    `json:"payment_key"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Ready handles POST /ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	var req ReadyRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	// Keys are scoped per merchant so two merchants cannot collide.
	key := req.MerchantID + ":" + r.Header.Get(IdempotencyKeyHeader)
	if err := h.idempotency.Check(r.Context(), key, guard.Fingerprint(req.MerchantID, req.OrderID, req.TotalAmount)); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.sessions.Prepare(r.Context(), payment.PrepareSessionCommand{
		MerchantID: req.MerchantID,
		OrderID:    req.OrderID,
		OrderLines: req.OrderLines,
		Amount: money.Amount{
			Total:  req.TotalAmount,
			Supply: req.SupplyAmount,
			VAT:    req.VATAmount,
		},
		RedirectURLs: req.RedirectURLs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, ReadyResponse{
		PaymentKey:  session.ID,
		CheckoutURL: h.checkoutBaseURL + "/checkout/" + session.ID,
		ExpiresAt:   session.ExpiresAt,
	})
}

// CardRequest is the card a buyer entered on the checkout page
type CardRequest struct {
	CardNumber        string `json:"card_number" validate:"required,max=32"`
	ExpiryMonth       int    `json:"expiry_month" validate:"required,gte=1,lte=12"`
	ExpiryYear        int    `json:"expiry_year" validate:"required"`
	CVC               string `json:"cvc" validate:"required,numeric,min=3,max=4"`
	HolderName        string `json:"holder_name" validate:"max=100"`
	InstallmentMonths int    `json:"installment_months" validate:"gte=0,lte=36"`
}

// SubmitCard handles POST /{paymentKey}/card
func (h *Handler) SubmitCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	result, err := h.cards.Submit(r.Context(), payment.SubmitCardPaymentCommand{
		PaymentKey:        chi.URLParam(r, "paymentKey"),
		CardNumber:        req.CardNumber,
		ExpiryMonth:       req.ExpiryMonth,
		ExpiryYear:        req.ExpiryYear,
		CVC:               req.CVC,
		HolderName:        req.HolderName,
		InstallmentMonths: req.InstallmentMonths,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

// Cancel handles POST /{paymentKey}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	p, err := h.cards.Cancel(r.Context(), chi.URLParam(r, "paymentKey"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, toPaymentResponse(p))
}

// GetPayment handles GET /{paymentKey}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.cards.GetPayment(r.Context(), chi.URLParam(r, "paymentKey"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, toPaymentResponse(p))
}

// PaymentResponse is the client view of a payment
type PaymentResponse struct {
	PaymentKey          string                      `json:"payment_key"`
	Status              domain.Status               `json:"status"`
	OriginalAmount      int64                       `json:"original_amount"`
	FinalAmount         int64                       `json:"final_amount"`
	EffectivePromotions []domain.EffectivePromotion `json:"effective_promotions"`
	MaskedCardNumber    string                      `json:"masked_card_number,omitempty"`
	CardBrand           domain.CardBrand            `json:"card_brand,omitempty"`
	Installment         *domain.Installment         `json:"installment,omitempty"`
	Failure             *domain.PaymentResult       `json:"failure,omitempty"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	resp := PaymentResponse{
		PaymentKey:          p.PaymentKey,
		Status:              p.Status,
		OriginalAmount:      p.OriginalAmount,
		FinalAmount:         p.FinalAmount(),
		EffectivePromotions: p.EffectivePromotions,
		Failure:             p.Failure(),
		UpdatedAt:           p.UpdatedAt,
	}
	if p.CardDetails != nil {
		installment := p.CardDetails.Installment
		resp.MaskedCardNumber = p.CardDetails.Card.MaskedNumber()
		resp.CardBrand = p.CardDetails.Card.Brand()
		resp.Installment = &installment
	}
	return resp
}

// statusOf maps a payment error to its HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrGateBusy):
		return http.StatusLocked
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrSessionConflict),
		errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrDuplicatePaymentRequest),
		errors.Is(err, domain.ErrPaymentAlreadySubmitted),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidOrderLines),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMerchantValidation),
		errors.Is(err, domain.ErrMerchantNotFound),
		errors.Is(err, domain.ErrCardValidation),
		errors.Is(err, domain.ErrBinNotFound),
		errors.Is(err, domain.ErrFraudDetected),
		errors.Is(err, domain.ErrInstallmentUnavailable),
		errors.Is(err, domain.ErrPromotionExceedsAmount),
		errors.Is(err, domain.ErrUnsupportedPaymentMethod):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("payment request failed",
			"path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
		api.InternalError(w, "internal error")
		return
	}
	if status == http.StatusLocked {
		w.Header().Set("Retry-After", "1")
	}
	api.WriteError(w, status, domain.ErrorCode(err), err.Error())
}
