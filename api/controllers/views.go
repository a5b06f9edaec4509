package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/orders"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/internal/withdrawals"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
)

type withdrawalView struct {
	ID                uuid.UUID              `json:"id"`
	SellerID          uuid.UUID              `json:"seller_id"`
	GrossAmountCents  int64                  `json:"gross_amount_cents"`
	FeeCents          int64                  `json:"fee_cents"`
	AmountCents       int64                  `json:"amount_cents"`
	Amount            string                 `json:"amount"`
	Status            enums.WithdrawalStatus `json:"status"`
	PixKey            string                 `json:"pix_key"`
	PixKeyType        enums.PixKeyType       `json:"pix_key_type"`
	GatewayTransferID *string                `json:"gateway_transfer_id,omitempty"`
	FailureReason     *string                `json:"failure_reason,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	ProcessedAt       *time.Time             `json:"processed_at,omitempty"`
}

func newWithdrawalView(w *models.Withdrawal) *withdrawalView {
	if w == nil {
		return nil
	}
	return &withdrawalView{
		ID:                w.ID,
		SellerID:          w.SellerID,
		GrossAmountCents:  w.GrossAmountCents,
		FeeCents:          w.FeeCents,
		AmountCents:       w.AmountCents,
		Amount:            money.Format(w.AmountCents),
		Status:            w.Status,
		PixKey:            w.PixKey,
		PixKeyType:        w.PixKeyType,
		GatewayTransferID: w.GatewayTransferID,
		FailureReason:     w.FailureReason,
		CreatedAt:         w.CreatedAt,
		ProcessedAt:       w.ProcessedAt,
	}
}

type withdrawalRequestView struct {
	Withdrawal       *withdrawalView `json:"withdrawal"`
	TransferAccepted bool            `json:"transfer_accepted"`
}

type withdrawalListView struct {
	Withdrawals []withdrawalView `json:"withdrawals"`
	NextCursor  string           `json:"next_cursor,omitempty"`
}

func newWithdrawalListView(list *withdrawals.WithdrawalList) withdrawalListView {
	view := withdrawalListView{Withdrawals: []withdrawalView{}}
	if list == nil {
		return view
	}
	for i := range list.Withdrawals {
		view.Withdrawals = append(view.Withdrawals, *newWithdrawalView(&list.Withdrawals[i]))
	}
	view.NextCursor = list.NextCursor
	return view
}

type orderView struct {
	ID                  uuid.UUID            `json:"id"`
	BuyerAccountID      uuid.UUID            `json:"buyer_account_id"`
	SellerID            uuid.UUID            `json:"seller_id"`
	Quantity            int64                `json:"quantity"`
	UnitPricePer1kCents int64                `json:"unit_price_per_1k_cents"`
	TotalPriceCents     int64                `json:"total_price_cents"`
	TotalPrice          string               `json:"total_price"`
	DeliveryMethod      enums.DeliveryMethod `json:"delivery_method"`
	CharacterName       string               `json:"character_name"`
	Status              enums.OrderStatus    `json:"status"`
	CreatedAt           time.Time            `json:"created_at"`
	CompletedAt         *time.Time           `json:"completed_at,omitempty"`
}

func newOrderView(o *models.Order) *orderView {
	if o == nil {
		return nil
	}
	return &orderView{
		ID:                  o.ID,
		BuyerAccountID:      o.BuyerAccountID,
		SellerID:            o.SellerID,
		Quantity:            o.Quantity,
		UnitPricePer1kCents: o.UnitPricePer1kCents,
		TotalPriceCents:     o.TotalPriceCents,
		TotalPrice:          money.Format(o.TotalPriceCents),
		DeliveryMethod:      o.DeliveryMethod,
		CharacterName:       o.CharacterName,
		Status:              o.Status,
		CreatedAt:           o.CreatedAt,
		CompletedAt:         o.CompletedAt,
	}
}

type orderListView struct {
	Orders     []orderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

func newOrderListView(list *orders.OrderList) orderListView {
	view := orderListView{Orders: []orderView{}}
	if list == nil {
		return view
	}
	for i := range list.Orders {
		view.Orders = append(view.Orders, *newOrderView(&list.Orders[i]))
	}
	view.NextCursor = list.NextCursor
	return view
}

type ratingView struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	SellerID  uuid.UUID `json:"seller_id"`
	Score     int       `json:"score"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newRatingView(r *models.OrderRating) *ratingView {
	if r == nil {
		return nil
	}
	return &ratingView{
		ID:        r.ID,
		OrderID:   r.OrderID,
		SellerID:  r.SellerID,
		Score:     r.Score,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt,
	}
}

type sellerView struct {
	ID                  uuid.UUID `json:"id"`
	AccountID           uuid.UUID `json:"account_id"`
	DisplayName         string    `json:"display_name"`
	UnitPricePer1kCents int64     `json:"unit_price_per_1k_cents"`
	UnitPricePer1k      string    `json:"unit_price_per_1k"`
	MinQuantity         int64     `json:"min_quantity"`
	MaxQuantity         int64     `json:"max_quantity"`
	DeliveryMethods     []string  `json:"delivery_methods"`
	IsActive            bool      `json:"is_active"`
	AverageRating       float64   `json:"average_rating"`
	RatingCount         int64     `json:"rating_count"`
}

func newSellerView(s *models.Seller) *sellerView {
	if s == nil {
		return nil
	}
	methods := append([]string{}, s.DeliveryMethods...)
	return &sellerView{
		ID:                  s.ID,
		AccountID:           s.AccountID,
		DisplayName:         s.DisplayName,
		UnitPricePer1kCents: s.UnitPricePer1kCents,
		UnitPricePer1k:      money.Format(s.UnitPricePer1kCents),
		MinQuantity:         s.MinQuantity,
		MaxQuantity:         s.MaxQuantity,
		DeliveryMethods:     methods,
		IsActive:            s.IsActive,
		AverageRating:       s.AverageRating(),
		RatingCount:         s.RatingCount,
	}
}

type sellerListView struct {
	Sellers    []sellerView `json:"sellers"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func newSellerListView(list *sellers.SellerList) sellerListView {
	view := sellerListView{Sellers: []sellerView{}}
	if list == nil {
		return view
	}
	for i := range list.Sellers {
		view.Sellers = append(view.Sellers, *newSellerView(&list.Sellers[i]))
	}
	view.NextCursor = list.NextCursor
	return view
}

type transactionView struct {
	ID           uuid.UUID             `json:"id"`
	AmountCents  int64                 `json:"amount_cents"`
	Amount       string                `json:"amount"`
	Kind         enums.TransactionKind `json:"kind"`
	Description  string                `json:"description"`
	OrderID      *uuid.UUID            `json:"order_id,omitempty"`
	WithdrawalID *uuid.UUID            `json:"withdrawal_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

type transactionListView struct {
	Transactions []transactionView `json:"transactions"`
	NextCursor   string            `json:"next_cursor,omitempty"`
}

func newTransactionListView(list *ledger.TransactionList) transactionListView {
	view := transactionListView{Transactions: []transactionView{}}
	if list == nil {
		return view
	}
	for _, tx := range list.Transactions {
		view.Transactions = append(view.Transactions, transactionView{
			ID:           tx.ID,
			AmountCents:  tx.AmountCents,
			Amount:       money.Format(tx.AmountCents),
			Kind:         tx.Kind,
			Description:  tx.Description,
			OrderID:      tx.OrderID,
			WithdrawalID: tx.WithdrawalID,
			CreatedAt:    tx.CreatedAt,
		})
	}
	view.NextCursor = list.NextCursor
	return view
}
