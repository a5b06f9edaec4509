package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	dbpkg "github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/metrics"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

const maxCharacterNameLength = 64

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service runs the purchase lifecycle: debit on creation, seller credit on
// completion and buyer refund on cancellation.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	RateOrder(ctx context.Context, input RateInput) (*models.OrderRating, error)
	Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*OrderList, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	TxRunner txRunner
	Repo     Repository
	Sellers  sellers.Repository
	Ledger   ledger.Store
	Outbox   outboxPublisher
	Metrics  *metrics.SettlementMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	sellers sellers.Repository
	ledger  ledger.Store
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds an order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Sellers == nil {
		return nil, fmt.Errorf("sellers repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TxRunner,
		sellers: params.Sellers,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerAccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be positive")
	}
	if !input.DeliveryMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery method")
	}
	character := strings.TrimSpace(input.CharacterName)
	if character == "" || len(character) > maxCharacterNameLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("character name must be 1-%d characters", maxCharacterNameLength))
	}

	seller, err := s.sellers.FindByID(ctx, input.SellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
	}
	if seller == nil || !seller.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
	}
	if seller.AccountID == input.BuyerAccountID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot buy from themselves")
	}
	if !seller.Offers(input.DeliveryMethod) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller does not offer this delivery method")
	}
	if input.Quantity < seller.MinQuantity || input.Quantity > seller.MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity outside the seller's limits").
			WithDetails(map[string]any{"min_quantity": seller.MinQuantity, "max_quantity": seller.MaxQuantity})
	}

	total := money.PriceForQuantity(input.Quantity, seller.UnitPricePer1kCents)
	if total <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity is too small to price")
	}
	buyer, err := s.ledger.GetAccount(ctx, input.BuyerAccountID)
	if err != nil {
		return nil, err
	}
	if buyer.BalanceCents < total {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]any{"balance_cents": buyer.BalanceCents, "required_cents": total})
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:                  uuid.New(),
		BuyerAccountID:      input.BuyerAccountID,
		SellerID:            seller.ID,
		SellerAccountID:     seller.AccountID,
		Quantity:            input.Quantity,
		UnitPricePer1kCents: seller.UnitPricePer1kCents,
		TotalPriceCents:     total,
		DeliveryMethod:      input.DeliveryMethod,
		CharacterName:       character,
		Status:              enums.OrderStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"account_id": input.BuyerAccountID.String(),
		"seller_id":  seller.ID.String(),
	})

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if _, err := s.ledger.WithTx(tx).Debit(ctx, ledger.Entry{
			AccountID:   order.BuyerAccountID,
			AmountCents: total,
			Kind:        enums.TransactionKindPurchase,
			OrderID:     &order.ID,
			Description: fmt.Sprintf("Purchase of %d units", order.Quantity),
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{AccountID: order.BuyerAccountID},
			Data: payloads.OrderCreatedEvent{
				OrderID:         order.ID,
				BuyerAccountID:  order.BuyerAccountID,
				SellerID:        order.SellerID,
				Quantity:        order.Quantity,
				TotalPriceCents: order.TotalPriceCents,
				DeliveryMethod:  order.DeliveryMethod,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.OrderTransition(string(enums.OrderStatusPending))
	s.logg.Info(s.logg.WithField(ctx, "total_cents", total), "order created")
	return order, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":    input.OrderID.String(),
		"actor_id":    input.Actor.AccountID.String(),
		"next_status": input.Status,
	})

	var (
		result  *models.Order
		changed bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID, true)
		if err != nil {
			return err
		}
		if !canView(input.Actor, order) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		result = order
		if order.Status == input.Status {
			return nil
		}
		if !order.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", order.Status, input.Status)).
				WithDetails(map[string]any{"current_status": order.Status, "requested_status": input.Status})
		}
		if !mayApply(input.Actor, order, input.Status) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to apply this status")
		}

		now := s.now().UTC()
		updates := map[string]any{"status": input.Status, "updated_at": now}
		if input.Status == enums.OrderStatusCompleted {
			updates["completed_at"] = now
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			if pkgerrors.As(err) != nil {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if err := s.settle(ctx, tx, order, input.Status); err != nil {
			return err
		}

		from := order.Status
		order.Status = input.Status
		order.UpdatedAt = now
		if input.Status == enums.OrderStatusCompleted {
			order.CompletedAt = &now
		}
		changed = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{AccountID: input.Actor.AccountID, Role: string(input.Actor.Role)},
			Data: payloads.OrderStatusChangedEvent{
				OrderID:        order.ID,
				BuyerAccountID: order.BuyerAccountID,
				SellerID:       order.SellerID,
				From:           from,
				To:             input.Status,
				ChangedAt:      now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.OrderTransition(string(input.Status))
		s.logg.Info(ctx, "order status changed")
	}
	return result, nil
}

// settle applies the ledger side of a transition. Completion pays the seller
// and cancellation returns the purchase debit to the buyer, each under a
// single-use key.
func (s *service) settle(ctx context.Context, tx *gorm.DB, order *models.Order, next enums.OrderStatus) error {
	var entry ledger.Entry
	switch next {
	case enums.OrderStatusCompleted:
		entry = ledger.Entry{
			AccountID:      order.SellerAccountID,
			Kind:           enums.TransactionKindSale,
			Description:    fmt.Sprintf("Sale of %d units", order.Quantity),
			IdempotencyKey: SaleKey(order.ID),
		}
	case enums.OrderStatusCancelled:
		entry = ledger.Entry{
			AccountID:      order.BuyerAccountID,
			Kind:           enums.TransactionKindPurchase,
			Description:    fmt.Sprintf("Refund of cancelled order %s", order.ID),
			IdempotencyKey: RefundKey(order.ID),
		}
	default:
		return nil
	}
	entry.AmountCents = order.TotalPriceCents
	entry.OrderID = &order.ID

	_, err := s.ledger.WithTx(tx).Credit(ctx, entry)
	if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateSettlement) {
		s.logg.Warn(s.logg.WithField(ctx, "idempotency_key", entry.IdempotencyKey), "order settlement already recorded")
		return nil
	}
	return err
}

func (s *service) RateOrder(ctx context.Context, input RateInput) (*models.OrderRating, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.BuyerAccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	if input.Score < 1 || input.Score > 5 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "score must be between 1 and 5")
	}
	var comment *string
	if input.Comment != nil {
		if trimmed := strings.TrimSpace(*input.Comment); trimmed != "" {
			comment = &trimmed
		}
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":   input.OrderID.String(),
		"account_id": input.BuyerAccountID.String(),
	})

	var rating *models.OrderRating
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID, false)
		if err != nil {
			return err
		}
		if order.BuyerAccountID != input.BuyerAccountID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can rate an order")
		}
		if order.Status != enums.OrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only completed orders can be rated")
		}

		created, err := repo.CreateRating(ctx, &models.OrderRating{
			ID:             uuid.New(),
			OrderID:        order.ID,
			BuyerAccountID: order.BuyerAccountID,
			SellerID:       order.SellerID,
			Score:          input.Score,
			Comment:        comment,
			CreatedAt:      s.now().UTC(),
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, RatingIndex) {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already rated")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create rating")
		}
		if err := s.sellers.WithTx(tx).AddRating(ctx, order.SellerID, input.Score); err != nil {
			return err
		}
		rating = created
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{AccountID: input.BuyerAccountID},
			Data: payloads.OrderRatedEvent{
				OrderID:  order.ID,
				SellerID: order.SellerID,
				Score:    input.Score,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "score", input.Score), "order rated")
	return rating, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID, false)
	if err != nil {
		return nil, err
	}
	if !canView(actor, order) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	list, err := s.repo.ListForBuyer(ctx, accountID, params)
	if err != nil {
		return nil, wrapList(err)
	}
	return list, nil
}

func (s *service) ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	seller, err := s.sellers.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load seller")
	}
	if seller == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotASeller, "account has no seller registration")
	}
	list, err := s.repo.ListForSeller(ctx, seller.ID, params)
	if err != nil {
		return nil, wrapList(err)
	}
	return list, nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID, lock bool) (*models.Order, error) {
	find := repo.FindByID
	if lock {
		find = repo.FindByIDForUpdate
	}
	order, err := find(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func wrapList(err error) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
}

func canView(actor types.Actor, order *models.Order) bool {
	return actor.IsAdmin() || actor.AccountID == order.BuyerAccountID || actor.AccountID == order.SellerAccountID
}

// mayApply checks who may drive a transition the status table already allows.
// A buyer can only cancel while the order is still pending.
func mayApply(actor types.Actor, order *models.Order, next enums.OrderStatus) bool {
	if actor.IsAdmin() {
		return true
	}
	switch actor.AccountID {
	case order.SellerAccountID:
		return next == enums.OrderStatusProcessing ||
			next == enums.OrderStatusCompleted ||
			next == enums.OrderStatusCancelled
	case order.BuyerAccountID:
		if next == enums.OrderStatusDisputed {
			return true
		}
		return next == enums.OrderStatusCancelled && order.Status == enums.OrderStatusPending
	}
	return false
}
