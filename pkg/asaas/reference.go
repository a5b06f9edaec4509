package asaas

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Reference is the JSON document stored in a gateway record's
// externalReference. It ties a payment or transfer back to its intent.
type Reference struct {
	UserID       *uuid.UUID                    `json:"userId,omitempty"`
	SellerID     *uuid.UUID                    `json:"sellerId,omitempty"`
	WithdrawalID *uuid.UUID                    `json:"withdrawalId,omitempty"`
	Type         enums.SettlementReferenceType `json:"type"`
}

// DepositReference builds the reference attached to a deposit charge.
func DepositReference(accountID uuid.UUID) Reference {
	return Reference{UserID: &accountID, Type: enums.SettlementReferenceDeposit}
}

// WithdrawalReference builds the reference attached to a payout transfer.
func WithdrawalReference(sellerID, withdrawalID uuid.UUID) Reference {
	return Reference{SellerID: &sellerID, WithdrawalID: &withdrawalID, Type: enums.SettlementReferenceWithdrawal}
}

// Encode serializes the reference for the externalReference field.
func (r Reference) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}

// ParseReference decodes an externalReference. Empty, malformed or
// unknown-type references are errors so callers can ignore them.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("external reference is empty")
	}
	var ref Reference
	if err := json.Unmarshal([]byte(trimmed), &ref); err != nil {
		return Reference{}, fmt.Errorf("decode external reference: %w", err)
	}
	if !ref.Type.IsValid() {
		return Reference{}, fmt.Errorf("unknown reference type %q", ref.Type)
	}
	switch ref.Type {
	case enums.SettlementReferenceDeposit:
		if ref.UserID == nil || *ref.UserID == uuid.Nil {
			return Reference{}, fmt.Errorf("deposit reference missing userId")
		}
	case enums.SettlementReferenceWithdrawal:
		if ref.WithdrawalID == nil || *ref.WithdrawalID == uuid.Nil {
			return Reference{}, fmt.Errorf("withdrawal reference missing withdrawalId")
		}
	}
	return ref, nil
}
