package fraud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paygate/internal/payment/domain"
)

// Reasons reported by the built-in rules.
const (
	ReasonCountryNotAllowed = "COUNTRY_NOT_ALLOWED"
	ReasonVelocityExceeded  = "VELOCITY_LIMIT_EXCEEDED"
)

// AllowedCountryProvider lists the issuing countries accepted.
type AllowedCountryProvider interface {
	AllowedCountries() []string
}

// VelocityLimitProvider supplies the per-card transaction rate limit.
type VelocityLimitProvider interface {
	MaxTransactionsPerMinute() int
}

// CountryRule rejects cards issued outside the allowed countries.
type CountryRule struct {
	provider AllowedCountryProvider
}

// NewCountryRule creates a country allow-list rule.
func NewCountryRule(provider AllowedCountryProvider) *CountryRule {
	return &CountryRule{provider: provider}
}

func (r *CountryRule) Name() string { return "country_allow_list" }

func (r *CountryRule) Check(_ context.Context, _ string, card domain.Card, _ int64) error {
	country := card.IssuedCountry()
	for _, allowed := range r.provider.AllowedCountries() {
		if allowed == country {
			return nil
		}
	}
	return domain.NewFraudError(ReasonCountryNotAllowed)
}

// VelocityCounter records an attempt for a card and returns how many
// attempts the card made in the trailing window, this one included.
type VelocityCounter interface {
	Record(ctx context.Context, cardKey string, at time.Time) (int, error)
}

// VelocityRule limits how often one card may pay per minute. Without a
// counter the rule passes every payment.
type VelocityRule struct {
	limits  VelocityLimitProvider
	counter VelocityCounter
	now     func() time.Time
}

// NewVelocityRule creates a velocity rule. counter may be nil.
func NewVelocityRule(limits VelocityLimitProvider, counter VelocityCounter) *VelocityRule {
	return &VelocityRule{limits: limits, counter: counter, now: time.Now}
}

func (r *VelocityRule) Name() string { return "velocity" }

func (r *VelocityRule) Check(ctx context.Context, _ string, card domain.Card, _ int64) error {
	if r.counter == nil {
		return nil
	}
	limit := r.limits.MaxTransactionsPerMinute()
	if limit <= 0 {
		return nil
	}
	count, err := r.counter.Record(ctx, cardKey(card), r.now())
	if err != nil {
		return fmt.Errorf("recording card velocity: %w", err)
	}
	if count > limit {
		return domain.NewFraudError(ReasonVelocityExceeded)
	}
	return nil
}

// Cards sharing a mask are told apart by the fingerprint of the full number.
func cardKey(card domain.Card) string {
	return card.Fingerprint()
}

// WindowCounter is an in-memory sliding one-minute window. Cards with no
// attempt inside the window are dropped at most once per window.
type WindowCounter struct {
	mu        sync.Mutex
	window    time.Duration
	attempts  map[string][]time.Time
	lastSweep time.Time
}

// NewWindowCounter creates a counter over the trailing window.
func NewWindowCounter(window time.Duration) *WindowCounter {
	return &WindowCounter{window: window, attempts: make(map[string][]time.Time)}
}

func (c *WindowCounter) Record(_ context.Context, key string, at time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := at.Add(-c.window)
	if at.Sub(c.lastSweep) >= c.window {
		c.sweep(cutoff)
		c.lastSweep = at
	}

	kept := c.attempts[key][:0]
	for _, t := range c.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, at)
	c.attempts[key] = kept
	return len(kept), nil
}

func (c *WindowCounter) sweep(cutoff time.Time) {
	for key, times := range c.attempts {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(c.attempts, key)
		}
	}
}

// StaticPolicy serves fixed fraud settings, usually from configuration.
type StaticPolicy struct {
	Countries    []string
	MaxPerMinute int
}

func (p StaticPolicy) AllowedCountries() []string    { return p.Countries }
func (p StaticPolicy) MaxTransactionsPerMinute() int { return p.MaxPerMinute }
