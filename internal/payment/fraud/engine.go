// Package fraud runs fraud rules against a card payment.
package fraud

import (
	"context"
	"log/slog"

	"paygate/internal/payment/domain"
)

// Rule checks one fraud signal. It returns a *domain.FraudError on a hit.
type Rule interface {
	Name() string
	Check(ctx context.Context, merchantID string, card domain.Card, amount int64) error
}

// Engine runs every registered rule in order and reports the first error.
// Later rules still run after a hit so each one sees every payment.
type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine creates an engine over rules, kept in registration order.
func NewEngine(logger *slog.Logger, rules ...Rule) *Engine {
	return &Engine{
		rules:  rules,
		logger: logger,
	}
}

// Check runs all rules.
func (e *Engine) Check(ctx context.Context, merchantID string, card domain.Card, amount int64) error {
	var first error
	for _, rule := range e.rules {
		err := rule.Check(ctx, merchantID, card, amount)
		if err == nil {
			continue
		}
		e.logger.Warn("fraud rule hit",
			"rule", rule.Name(),
			"merchant_id", merchantID,
			"card", card.MaskedNumber(),
			"error", err,
		)
		if first == nil {
			first = err
		}
	}
	return first
}
