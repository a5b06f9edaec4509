package enums

import (
	"fmt"
	"strings"
)

// PixKeyType identifies the kind of destination key used for payouts.
type PixKeyType string

const (
	PixKeyTypeCPF   PixKeyType = "CPF"
	PixKeyTypeCNPJ  PixKeyType = "CNPJ"
	PixKeyTypeEmail PixKeyType = "EMAIL"
	PixKeyTypePhone PixKeyType = "PHONE"
	PixKeyTypeEVP   PixKeyType = "EVP"
)

var validPixKeyTypes = []PixKeyType{
	PixKeyTypeCPF,
	PixKeyTypeCNPJ,
	PixKeyTypeEmail,
	PixKeyTypePhone,
	PixKeyTypeEVP,
}

// IsValid reports whether the value matches a supported key type.
func (k PixKeyType) IsValid() bool {
	for _, candidate := range validPixKeyTypes {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePixKeyType converts raw input into PixKeyType. Matching is case-insensitive.
func ParsePixKeyType(value string) (PixKeyType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validPixKeyTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pix key type %q", value)
}
