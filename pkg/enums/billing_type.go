package enums

import (
	"fmt"
	"strings"
)

// BillingType is the gateway payment method used for a deposit.
type BillingType string

const (
	BillingTypePix        BillingType = "PIX"
	BillingTypeBoleto     BillingType = "BOLETO"
	BillingTypeCreditCard BillingType = "CREDIT_CARD"
	BillingTypeUndefined  BillingType = "UNDEFINED"
)

var validBillingTypes = []BillingType{
	BillingTypePix,
	BillingTypeBoleto,
	BillingTypeCreditCard,
	BillingTypeUndefined,
}

// IsValid reports whether the value matches a supported billing type.
func (b BillingType) IsValid() bool {
	for _, candidate := range validBillingTypes {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsInstant reports whether the method settles through an instant transfer code.
func (b BillingType) IsInstant() bool {
	return b == BillingTypePix
}

// ParseBillingType converts raw input into BillingType. Matching is case-insensitive.
func ParseBillingType(value string) (BillingType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validBillingTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing type %q", value)
}
