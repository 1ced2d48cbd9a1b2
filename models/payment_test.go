package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeInstrument(t *testing.T) {
	assert.Equal(t, "4111111111111111", NormalizeInstrument("4111 1111 1111 1111"))
	assert.Equal(t, "4111111111111111", NormalizeInstrument("4111-1111-1111-1111"))
	assert.Equal(t, "4111111111111111", NormalizeInstrument("4111111111111111"))
}

func TestValidInstrument(t *testing.T) {
	tests := []struct {
		name       string
		instrument string
		valid      bool
	}{
		{"16 digit card", "4111111111111111", true},
		{"12 digit minimum", "123456789012", true},
		{"19 digit maximum", "1234567890123456789", true},
		{"too short", "12345678901", false},
		{"too long", "12345678901234567890", false},
		{"empty", "", false},
		{"letters", "4111a11111111111", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidInstrument(tt.instrument))
		})
	}
}

func TestDigestInstrument(t *testing.T) {
	digest := DigestInstrument("4111111111111111")

	assert.Len(t, digest, 64)
	assert.NotContains(t, digest, "4111111111111111")
	// Same input, same digest; different input, different digest.
	assert.Equal(t, digest, DigestInstrument("4111111111111111"))
	assert.NotEqual(t, digest, DigestInstrument("4111111111111112"))
}

func TestMaskInstrument(t *testing.T) {
	assert.Equal(t, "**** **** **** 1111", MaskInstrument("4111111111111111"))
	assert.Equal(t, "****", MaskInstrument("123"))
}
