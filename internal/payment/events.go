package payment

import (
	"context"
	"log/slog"

	"paygate/internal/common/events"
	"paygate/internal/common/middleware"
	"paygate/internal/payment/domain"
)

// Events are best effort: a failed publish never fails the payment.
func publishEvent(ctx context.Context, publisher events.EventPublisher, logger *slog.Logger, eventType, merchantID, aggregateType, aggregateID string, data any) {
	event, err := events.NewEvent(eventType, merchantID, aggregateType, aggregateID, data)
	if err != nil {
		logger.Error("failed to build event", "type", eventType, "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))

	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("failed to publish event",
			"type", eventType,
			"aggregate_id", aggregateID,
			"error", err,
		)
	}
}

func paymentStatusData(p *domain.Payment) events.PaymentStatusData {
	data := events.PaymentStatusData{
		PaymentID:      p.ID,
		PaymentKey:     p.PaymentKey,
		Status:         string(p.Status),
		OriginalAmount: p.OriginalAmount,
		FinalAmount:    p.FinalAmount(),
	}
	if p.CardDetails != nil {
		data.MaskedCard = p.CardDetails.Card.MaskedNumber()
		data.Installment = p.CardDetails.Installment.Months
	}
	if failure := p.Failure(); failure != nil {
		data.ErrorCode = failure.ErrorCode
		data.FailureReason = failure.FailureReason
	}
	return data
}
