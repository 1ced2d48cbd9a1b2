package models

import (
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// PaymentDetails is the caller-supplied payment intent. The raw instrument
// number is digested and masked before anything touches the ledger; it is
// never persisted in clear form.
type PaymentDetails struct {
	Method     string          `json:"method"`
	Instrument string          `json:"instrument"`
	Amount     decimal.Decimal `json:"amount"`
}

// NormalizeInstrument strips spaces and dashes from a card/account number.
func NormalizeInstrument(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidInstrument reports whether the normalized instrument looks like a
// card or account number: 12 to 19 digits.
func ValidInstrument(normalized string) bool {
	if len(normalized) < 12 || len(normalized) > 19 {
		return false
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigestInstrument returns the non-reversible digest retained in place of
// the raw instrument number.
func DigestInstrument(normalized string) string {
	sum := sha3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// MaskInstrument keeps only the last four digits for display.
func MaskInstrument(normalized string) string {
	if len(normalized) < 4 {
		return "****"
	}
	return "**** **** **** " + normalized[len(normalized)-4:]
}
