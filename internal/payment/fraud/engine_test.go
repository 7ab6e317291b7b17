package fraud

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate/internal/payment/domain"
)

var now = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cardFrom(t *testing.T, country string) domain.Card {
	t.Helper()
	card, err := domain.NewCard("4111111111111111", 12, 30, "", domain.Bin{
		Brand:         domain.BrandVisa,
		CardType:      domain.CardTypeCredit,
		IssuedCountry: country,
	}, now)
	require.NoError(t, err)
	return card
}

type recordingRule struct {
	name  string
	err   error
	calls *[]string
}

func (r recordingRule) Name() string { return r.name }

func (r recordingRule) Check(context.Context, string, domain.Card, int64) error {
	*r.calls = append(*r.calls, r.name)
	return r.err
}

func TestEngineRunsEveryRuleAndReturnsFirstError(t *testing.T) {
	var calls []string
	first := domain.NewFraudError("FIRST")
	engine := NewEngine(discardLogger(),
		recordingRule{name: "a", calls: &calls},
		recordingRule{name: "b", err: first, calls: &calls},
		recordingRule{name: "c", err: domain.NewFraudError("SECOND"), calls: &calls},
		recordingRule{name: "d", calls: &calls},
	)

	err := engine.Check(context.Background(), "m", cardFrom(t, "KR"), 10000)

	assert.Equal(t, []string{"a", "b", "c", "d"}, calls)
	assert.Same(t, first, err)
	assert.ErrorIs(t, err, domain.ErrFraudDetected)
}

func TestEngineWithoutRules(t *testing.T) {
	assert.NoError(t, NewEngine(discardLogger()).Check(context.Background(), "m", cardFrom(t, "US"), 1))
}

func TestCountryRule(t *testing.T) {
	rule := NewCountryRule(StaticPolicy{Countries: []string{"KR", "JP"}})

	assert.NoError(t, rule.Check(context.Background(), "m", cardFrom(t, "KR"), 1000))
	assert.NoError(t, rule.Check(context.Background(), "m", cardFrom(t, "JP"), 1000))

	err := rule.Check(context.Background(), "m", cardFrom(t, "US"), 1000)
	var fraudErr *domain.FraudError
	require.True(t, errors.As(err, &fraudErr))
	assert.Equal(t, ReasonCountryNotAllowed, fraudErr.Reason)
}

func TestVelocityRuleWithoutCounterPasses(t *testing.T) {
	rule := NewVelocityRule(StaticPolicy{MaxPerMinute: 1}, nil)
	for i := 0; i < 10; i++ {
		assert.NoError(t, rule.Check(context.Background(), "m", cardFrom(t, "KR"), 1000))
	}
}

func TestVelocityRuleWithCounter(t *testing.T) {
	clock := now
	rule := NewVelocityRule(StaticPolicy{MaxPerMinute: 2}, NewWindowCounter(time.Minute))
	rule.now = func() time.Time { return clock }
	card := cardFrom(t, "KR")

	assert.NoError(t, rule.Check(context.Background(), "m", card, 1000))
	assert.NoError(t, rule.Check(context.Background(), "m", card, 1000))

	err := rule.Check(context.Background(), "m", card, 1000)
	var fraudErr *domain.FraudError
	require.True(t, errors.As(err, &fraudErr))
	assert.Equal(t, ReasonVelocityExceeded, fraudErr.Reason)

	clock = clock.Add(2 * time.Minute)
	assert.NoError(t, rule.Check(context.Background(), "m", card, 1000))
}

func TestVelocityRuleCountsCardsSharingAMaskSeparately(t *testing.T) {
	bin := domain.Bin{Brand: domain.BrandVisa, IssuedCountry: "KR"}
	first, err := domain.NewCard("4111111111111111", 12, 2030, "", bin, now)
	require.NoError(t, err)
	second, err := domain.NewCard("4111222222201111", 12, 2030, "", bin, now)
	require.NoError(t, err)
	require.Equal(t, first.MaskedNumber(), second.MaskedNumber())

	rule := NewVelocityRule(StaticPolicy{MaxPerMinute: 1}, NewWindowCounter(time.Minute))
	rule.now = func() time.Time { return now }

	assert.NoError(t, rule.Check(context.Background(), "m", first, 1000))
	assert.NoError(t, rule.Check(context.Background(), "m", second, 1000))
	assert.ErrorIs(t, rule.Check(context.Background(), "m", first, 1000), domain.ErrFraudDetected)
}

func TestWindowCounterDropsIdleCards(t *testing.T) {
	counter := NewWindowCounter(time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		key   string
		at    time.Time
		count int
		keys  []string
	}{
		{name: "first card", key: "a", at: now, count: 1, keys: []string{"a"}},
		{name: "second card inside window", key: "b", at: now.Add(30 * time.Second), count: 1, keys: []string{"a", "b"}},
		{name: "first card aged out", key: "c", at: now.Add(70 * time.Second), count: 1, keys: []string{"b", "c"}},
		{name: "idle card returns fresh", key: "a", at: now.Add(3 * time.Minute), count: 1, keys: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := counter.Record(ctx, tt.key, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.count, count)

			keys := make([]string, 0, len(counter.attempts))
			for k := range counter.attempts {
				keys = append(keys, k)
			}
			assert.ElementsMatch(t, tt.keys, keys)
		})
	}
}
