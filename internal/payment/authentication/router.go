// Package authentication decides whether a card payment needs cardholder
// authentication and where to send the cardholder for it.
package authentication

import (
	"slices"
	"strconv"

	"paygate/internal/payment/domain"
)

// Type is the authentication scheme.
type Type string

const (
	TypeISP     Type = "ISP"
	TypeThreeDS Type = "THREE_DS"
)

// Method is how the cardholder reaches the authentication page.
type Method string

const (
	MethodRedirect Method = "REDIRECT"
)

// Default authentication endpoints.
const (
	DefaultISPURL     = "https://isp.example.com/auth"
	DefaultThreeDSURL = "https://3ds.example.com/auth"
)

// Redirect tells the caller where to send the cardholder.
type Redirect struct {
	Type   Type              `json:"type"`
	Method Method            `json:"method"`
	URL    string            `json:"url"`
	Data   map[string]string `json:"data"`
}

// Decision is the router outcome. Redirect is set only when Required.
type Decision struct {
	Required bool
	Redirect *Redirect
}

// NotRequired is the decision for payments that skip authentication.
var NotRequired = Decision{}

// PolicyProvider supplies the authentication thresholds.
type PolicyProvider interface {
	HighAmountThreshold() int64
	ExemptionCountries() []string
}

// Router picks the authentication path for a card payment.
type Router struct {
	policy     PolicyProvider
	ispURL     string
	threeDSURL string
}

// Option configures a Router.
type Option func(*Router)

// WithURLs overrides the authentication endpoints.
func WithURLs(ispURL, threeDSURL string) Option {
	return func(r *Router) {
		if ispURL != "" {
			r.ispURL = ispURL
		}
		if threeDSURL != "" {
			r.threeDSURL = threeDSURL
		}
	}
}

// NewRouter creates a router.
func NewRouter(policy PolicyProvider, opts ...Option) *Router {
	r := &Router{
		policy:     policy,
		ispURL:     DefaultISPURL,
		threeDSURL: DefaultThreeDSURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decide requires authentication for foreign cards and for high amounts.
// Domestic cards go through ISP, foreign cards through 3DS.
func (r *Router) Decide(card domain.Card, amount int64, merchantID string) Decision {
	domestic := slices.Contains(r.policy.ExemptionCountries(), card.IssuedCountry())
	if domestic && amount < r.policy.HighAmountThreshold() {
		return NotRequired
	}

	redirect := &Redirect{
		Type:   TypeThreeDS,
		Method: MethodRedirect,
		URL:    r.threeDSURL,
		Data: map[string]string{
			"merchantId": merchantID,
			"amount":     strconv.FormatInt(amount, 10),
		},
	}
	if domestic {
		redirect.Type = TypeISP
		redirect.URL = r.ispURL
	}
	return Decision{Required: true, Redirect: redirect}
}

// StaticPolicy serves fixed authentication settings.
type StaticPolicy struct {
	Threshold  int64
	Exemptions []string
}

func (p StaticPolicy) HighAmountThreshold() int64   { return p.Threshold }
func (p StaticPolicy) ExemptionCountries() []string { return p.Exemptions }
