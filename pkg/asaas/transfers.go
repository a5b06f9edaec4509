package asaas

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
)

const operationTypePix = "PIX"

// TransferInput describes a PIX payout.
type TransferInput struct {
	AmountCents int64
	PixKey      string
	PixKeyType  enums.PixKeyType
	Description string
	Reference   Reference
}

type transferRequest struct {
	Value             json.Number      `json:"value"`
	PixAddressKey     string           `json:"pixAddressKey"`
	PixAddressKeyType enums.PixKeyType `json:"pixAddressKeyType"`
	OperationType     string           `json:"operationType"`
	Description       string           `json:"description,omitempty"`
	ExternalReference string           `json:"externalReference"`
}

// Transfer is the gateway view of a payout.
type Transfer struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Value             decimal.Decimal `json:"value"`
	FailReason        string          `json:"failReason"`
	ExternalReference string          `json:"externalReference"`
}

// Accepted reports whether the gateway took the payout for processing.
func (t Transfer) Accepted() bool {
	switch strings.ToUpper(strings.TrimSpace(t.Status)) {
	case "FAILED", "CANCELLED":
		return false
	default:
		return strings.TrimSpace(t.ID) != ""
	}
}

// CreateTransfer submits a PIX payout of the net amount.
func (c *Client) CreateTransfer(ctx context.Context, input TransferInput) (*Transfer, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if strings.TrimSpace(input.PixKey) == "" || !input.PixKeyType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a valid pix key is required")
	}

	req := transferRequest{
		Value:             json.Number(money.FromCents(input.AmountCents).StringFixed(2)),
		PixAddressKey:     input.PixKey,
		PixAddressKeyType: input.PixKeyType,
		OperationType:     operationTypePix,
		Description:       input.Description,
		ExternalReference: input.Reference.Encode(),
	}
	fields := map[string]any{
		"amount_cents": input.AmountCents,
		"pix_key":      input.PixKey,
		"pix_key_type": input.PixKeyType,
	}
	c.log(ctx, "start", "create_transfer", fields, nil)

	var transfer Transfer
	if err := c.do(ctx, "create_transfer", http.MethodPost, "transfers", nil, req, &transfer); err != nil {
		c.log(ctx, "error", "create_transfer", fields, err)
		return nil, err
	}

	c.log(ctx, "success", "create_transfer", map[string]any{"transfer_id": transfer.ID, "status": transfer.Status}, nil)
	return &transfer, nil
}
