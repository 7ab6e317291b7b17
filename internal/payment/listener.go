package payment

import (
	"context"
	"fmt"
	"log/slog"

	"paygate/internal/common/events"
	"paygate/internal/vault"
)

// VaultCleanupHandler drops vaulted credentials once a payment can no
// longer be confirmed. Other event types are acknowledged untouched.
func VaultCleanupHandler(v vault.CardVault, logger *slog.Logger) func(ctx context.Context, event *events.Event) error {
	return func(ctx context.Context, event *events.Event) error {
		var paymentKey string
		switch event.Type {
		case events.EventPaymentFailed, events.EventPaymentCancelled:
			var data events.PaymentStatusData
			if err := event.DecodeData(&data); err != nil {
				return fmt.Errorf("decoding %s: %w", event.Type, err)
			}
			paymentKey = data.PaymentKey
		case events.EventSessionExpired:
			var data events.SessionExpiredData
			if err := event.DecodeData(&data); err != nil {
				return fmt.Errorf("decoding %s: %w", event.Type, err)
			}
			paymentKey = data.PaymentKey
		default:
			return nil
		}

		if err := v.Delete(ctx, paymentKey); err != nil {
			return err
		}
		logger.Debug("vaulted card released", "payment_key", paymentKey, "event_type", event.Type)
		return nil
	}
}
