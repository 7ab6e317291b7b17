package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	MerchantID    string          `json:"merchant_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType string, merchantID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		MerchantID:    merchantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation sets the correlation ID of the request that caused the event
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Aggregate types
const (
	AggregateSession = "payment_session"
	AggregatePayment = "payment"
)

// Event types
const (
	EventSessionPrepared = "payment.session.prepared"
	EventSessionExpired  = "payment.session.expired"

	EventPaymentAuthenticationRequired = "payment.authentication_required"
	EventPaymentPendingConfirm         = "payment.pending_confirm"
	EventPaymentFailed                 = "payment.failed"
	EventPaymentCancelled              = "payment.cancelled"
)

// SessionPreparedData is the data for payment.session.prepared events
type SessionPreparedData struct {
	PaymentKey string    `json:"payment_key"`
	OrderID    string    `json:"order_id"`
	Amount     int64     `json:"amount"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionExpiredData is the data for payment.session.expired events
type SessionExpiredData struct {
	PaymentKey string `json:"payment_key"`
	OrderID    string `json:"order_id"`
}

// PaymentStatusData is the data for payment status events
type PaymentStatusData struct {
	PaymentID      string `json:"payment_id"`
	PaymentKey     string `json:"payment_key"`
	Status         string `json:"status"`
	OriginalAmount int64  `json:"original_amount"`
	FinalAmount    int64  `json:"final_amount"`
	MaskedCard     string `json:"masked_card,omitempty"`
	Installment    int    `json:"installment_months,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

// NopPublisher drops every event
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *Event) error { return nil }
