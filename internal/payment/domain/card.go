package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CardBrand is the card network.
type CardBrand string

const (
	BrandVisa       CardBrand = "VISA"
	BrandMastercard CardBrand = "MASTERCARD"
	BrandAmex       CardBrand = "AMEX"
	BrandJCB        CardBrand = "JCB"
	BrandUnionPay   CardBrand = "UNIONPAY"
	BrandBC         CardBrand = "BC"
	BrandLocal      CardBrand = "LOCAL"
)

// CardType is the funding type of a card.
type CardType string

const (
	CardTypeCredit  CardType = "CREDIT"
	CardTypeDebit   CardType = "DEBIT"
	CardTypePrepaid CardType = "PREPAID"
)

// OwnerType distinguishes personal and corporate cards.
type OwnerType string

const (
	OwnerPersonal  OwnerType = "PERSONAL"
	OwnerCorporate OwnerType = "CORPORATE"
)

const (
	minCardLength = 13
	maxCardLength = 19
	visibleDigits = 4
	maskBlockSize = 4
)

// Bin is the issuer data resolved from a card number prefix.
type Bin struct {
	Number        string    `json:"number"`
	Brand         CardBrand `json:"brand"`
	IssuerCode    string    `json:"issuer_code"`
	AcquirerCode  string    `json:"acquirer_code"`
	CardType      CardType  `json:"card_type"`
	OwnerType     OwnerType `json:"owner_type"`
	IssuedCountry string    `json:"issued_country"`
	ProductCode   string    `json:"product_code"`
}

// Card is a validated card. It never holds the full number.
type Card struct {
	maskedNumber string
	fingerprint  string
	expiryMonth  int
	expiryYear   int
	holderName   string
	bin          Bin
}

// CardOption configures NewCard.
type CardOption func(*cardOptions)

type cardOptions struct {
	fingerprintKey []byte
}

// WithFingerprintKey keys the card fingerprint with an HMAC secret so it
// cannot be brute-forced from the BIN and last four digits.
func WithFingerprintKey(key []byte) CardOption {
	return func(o *cardOptions) { o.fingerprintKey = key }
}

// NewCard validates the raw card data and returns an immutable Card.
// Checks run in order: length, checksum, expiry format, expiry date.
func NewCard(number string, expiryMonth, expiryYear int, holderName string, bin Bin, now time.Time, opts ...CardOption) (Card, error) {
	digits := DigitsOnly(number)
	if len(digits) < minCardLength || len(digits) > maxCardLength {
		return Card{}, fmt.Errorf("%w: got %d digits", ErrInvalidLength, len(digits))
	}
	if !Luhn(digits) {
		return Card{}, ErrInvalidChecksum
	}
	if expiryMonth < 1 || expiryMonth > 12 {
		return Card{}, fmt.Errorf("%w: month %d", ErrInvalidExpiry, expiryMonth)
	}
	year, err := normalizeExpiryYear(expiryYear)
	if err != nil {
		return Card{}, err
	}
	if expiredAt(year, expiryMonth, now) {
		return Card{}, ErrCardExpired
	}

	var o cardOptions
	for _, opt := range opts {
		opt(&o)
	}

	return Card{
		maskedNumber: MaskNumber(digits),
		fingerprint:  Fingerprint(digits, o.fingerprintKey),
		expiryMonth:  expiryMonth,
		expiryYear:   year,
		holderName:   strings.TrimSpace(holderName),
		bin:          bin,
	}, nil
}

func normalizeExpiryYear(year int) (int, error) {
	switch {
	case year >= 0 && year <= 99:
		return 2000 + year, nil
	case year >= 2000 && year <= 2099:
		return year, nil
	default:
		return 0, fmt.Errorf("%w: year %d", ErrInvalidExpiry, year)
	}
}

// Fingerprint is a one-way digest of the full card number. With a key it
// is an HMAC-SHA256, otherwise a plain SHA-256.
func Fingerprint(digits string, key []byte) string {
	if len(key) == 0 {
		sum := sha256.Sum256([]byte(digits))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(digits))
	return hex.EncodeToString(mac.Sum(nil))
}

// A card is valid through the last day of its expiry month.
func expiredAt(year, month int, now time.Time) bool {
	if year != now.Year() {
		return year < now.Year()
	}
	return month < int(now.Month())
}

// DigitsOnly strips every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Luhn reports whether a digit string passes the Luhn checksum.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// MaskNumber keeps the first and last four digits and masks the rest in
// blocks of four: 4111111111111111 -> 4111-****-****-1111. The last four
// always form their own block, so 15 digits give 3782-****-***-0005.
func MaskNumber(digits string) string {
	if len(digits) <= 2*visibleDigits {
		return digits
	}
	middle := len(digits) - 2*visibleDigits

	blocks := []string{digits[:visibleDigits]}
	for middle > 0 {
		n := min(middle, maskBlockSize)
		blocks = append(blocks, strings.Repeat("*", n))
		middle -= n
	}
	blocks = append(blocks, digits[len(digits)-visibleDigits:])
	return strings.Join(blocks, "-")
}

func (c Card) MaskedNumber() string  { return c.maskedNumber }
func (c Card) Fingerprint() string   { return c.fingerprint }
func (c Card) ExpiryMonth() int      { return c.expiryMonth }
func (c Card) ExpiryYear() int       { return c.expiryYear }
func (c Card) HolderName() string    { return c.holderName }
func (c Card) Bin() Bin              { return c.bin }
func (c Card) Brand() CardBrand      { return c.bin.Brand }
func (c Card) IssuerCode() string    { return c.bin.IssuerCode }
func (c Card) AcquirerCode() string  { return c.bin.AcquirerCode }
func (c Card) CardType() CardType    { return c.bin.CardType }
func (c Card) OwnerType() OwnerType  { return c.bin.OwnerType }
func (c Card) IssuedCountry() string { return c.bin.IssuedCountry }
func (c Card) ProductCode() string   { return c.bin.ProductCode }
func (c Card) IsZero() bool          { return c.maskedNumber == "" }

type cardJSON struct {
	MaskedNumber string `json:"masked_number"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	ExpiryMonth  int    `json:"expiry_month"`
	ExpiryYear   int    `json:"expiry_year"`
	HolderName   string `json:"holder_name,omitempty"`
	Bin          Bin    `json:"bin"`
}

// MarshalJSON encodes the card for storage and API responses.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{
		MaskedNumber: c.maskedNumber,
		Fingerprint:  c.fingerprint,
		ExpiryMonth:  c.expiryMonth,
		ExpiryYear:   c.expiryYear,
		HolderName:   c.holderName,
		Bin:          c.bin,
	})
}

// UnmarshalJSON restores a previously stored card.
func (c *Card) UnmarshalJSON(data []byte) error {
	var v cardJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = Card{
		maskedNumber: v.MaskedNumber,
		fingerprint:  v.Fingerprint,
		expiryMonth:  v.ExpiryMonth,
		expiryYear:   v.ExpiryYear,
		holderName:   v.HolderName,
		bin:          v.Bin,
	}
	return nil
}

// CardCredentials are the raw card fields kept in the vault until confirmation.
type CardCredentials struct {
	CardNumber  string `json:"card_number"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	CVC         string `json:"cvc"`
	HolderName  string `json:"holder_name,omitempty"`
}
