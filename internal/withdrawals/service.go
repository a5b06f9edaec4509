package withdrawals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
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

// Service moves seller balance out of the ledger and tracks the payout.
type Service interface {
	RequestWithdrawal(ctx context.Context, input RequestInput) (*RequestResult, error)
	MarkCompleted(ctx context.Context, withdrawalID uuid.UUID, transferID string) (*models.Withdrawal, error)
	MarkTransferFailed(ctx context.Context, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error)
	Approve(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	Reject(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error)
	Get(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error)
	ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*WithdrawalList, error)
	ListStalled(ctx context.Context, minAge time.Duration, limit int) ([]models.Withdrawal, error)
}

// RequestInput asks to pay GrossAmountCents out of the caller's balance.
type RequestInput struct {
	AccountID        uuid.UUID
	GrossAmountCents int64
	PixKey           string
	PixKeyType       enums.PixKeyType
}

// RequestResult is the persisted withdrawal plus whether the gateway took the transfer.
type RequestResult struct {
	Withdrawal       *models.Withdrawal `json:"withdrawal"`
	TransferAccepted bool               `json:"transfer_accepted"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sellerLookup interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.Seller, error)
}

type transferGateway interface {
	CreateTransfer(ctx context.Context, input asaas.TransferInput) (*asaas.Transfer, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the withdrawal service.
type ServiceParams struct {
	TxRunner   txRunner
	Repo       Repository
	Ledger     ledger.Store
	Sellers    sellerLookup
	Gateway    transferGateway
	Outbox     outboxEmitter
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Settlement config.SettlementConfig
	Now        func() time.Time
}

type service struct {
	tx       txRunner
	repo     Repository
	ledger   ledger.Store
	sellers  sellerLookup
	gateway  transferGateway
	outbox   outboxEmitter
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	platform uuid.UUID
	feeBPS   int64
	minCents int64
	now      func() time.Time
}

// NewService validates dependencies and builds the withdrawal service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("withdrawals repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger store required")
	case params.Sellers == nil:
		return nil, fmt.Errorf("seller lookup required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("transfer gateway required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:       params.TxRunner,
		repo:     params.Repo,
		ledger:   params.Ledger,
		sellers:  params.Sellers,
		gateway:  params.Gateway,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
		platform: params.Settlement.PlatformAccount(),
		feeBPS:   params.Settlement.WithdrawalFeeBPS,
		minCents: params.Settlement.MinWithdrawalCents,
		now:      now,
	}, nil
}

func (s *service) RequestWithdrawal(ctx context.Context, input RequestInput) (*RequestResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	if input.GrossAmountCents < s.minCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, fmt.Sprintf("minimum withdrawal is %s", money.Format(s.minCents)))
	}
	pixKey := strings.TrimSpace(input.PixKey)
	if pixKey == "" || !input.PixKeyType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a valid pix key and key type are required")
	}

	seller, err := s.sellers.GetByAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if account.BalanceCents < input.GrossAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
			WithDetails(map[string]any{"balance_cents": account.BalanceCents, "required_cents": input.GrossAmountCents})
	}
	if s.platform == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "platform account is not configured")
	}

	split := money.SplitFee(input.GrossAmountCents, s.feeBPS)
	now := s.now().UTC()
	withdrawal := &models.Withdrawal{
		ID:               uuid.New(),
		SellerID:         seller.ID,
		AccountID:        input.AccountID,
		GrossAmountCents: split.GrossCents,
		FeeCents:         split.FeeCents,
		AmountCents:      split.NetCents,
		Status:           enums.WithdrawalStatusPending,
		PixKey:           pixKey,
		PixKeyType:       input.PixKeyType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":    input.AccountID.String(),
		"seller_id":     seller.ID.String(),
		"withdrawal_id": withdrawal.ID.String(),
	})

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, withdrawal); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create withdrawal")
		}
		if err := s.applyFeeSplit(ctx, tx, withdrawal); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventWithdrawalRequested, withdrawal, &input.AccountID, nil)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.WithdrawalTransition(string(enums.WithdrawalStatusPending))
	s.metrics.FeeCollected(split.FeeCents)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"gross_cents": split.GrossCents,
		"fee_cents":   split.FeeCents,
		"net_cents":   split.NetCents,
	}), "withdrawal requested")

	accepted := s.submitTransfer(ctx, withdrawal)
	return &RequestResult{Withdrawal: withdrawal, TransferAccepted: accepted}, nil
}

// applyFeeSplit debits the seller the gross amount and credits the platform
// the fee, touching the two accounts in lock order.
func (s *service) applyFeeSplit(ctx context.Context, tx *gorm.DB, w *models.Withdrawal) error {
	store := s.ledger.WithTx(tx)
	debit := func() error {
		_, err := store.Debit(ctx, ledger.Entry{
			AccountID:    w.AccountID,
			AmountCents:  w.GrossAmountCents,
			Kind:         enums.TransactionKindWithdrawal,
			WithdrawalID: &w.ID,
			Description:  fmt.Sprintf("Withdrawal %s", money.Format(w.GrossAmountCents)),
		})
		return err
	}
	credit := func() error {
		if w.FeeCents == 0 {
			return nil
		}
		_, err := store.Credit(ctx, ledger.Entry{
			AccountID:    s.platform,
			AmountCents:  w.FeeCents,
			Kind:         enums.TransactionKindFee,
			WithdrawalID: &w.ID,
			Description:  fmt.Sprintf("Withdrawal fee %s", money.Format(w.FeeCents)),
		})
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "platform account missing")
		}
		return err
	}

	steps := []func() error{debit, credit}
	if !ledger.LockOrderFirst(w.AccountID, s.platform) {
		steps = []func() error{credit, debit}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// submitTransfer asks the gateway to pay out the net amount. Failures leave the
// withdrawal pending with the reason recorded; the ledger effect stands.
func (s *service) submitTransfer(ctx context.Context, w *models.Withdrawal) bool {
	started := s.now()
	transfer, err := s.gateway.CreateTransfer(ctx, asaas.TransferInput{
		AmountCents: w.AmountCents,
		PixKey:      w.PixKey,
		PixKeyType:  w.PixKeyType,
		Description: fmt.Sprintf("Seller payout %s", w.ID),
		Reference:   asaas.WithdrawalReference(w.SellerID, w.ID),
	})
	s.metrics.ObserveGatewayCall("create_transfer", err, s.now().Sub(started))
	if err == nil && transfer != nil && !transfer.Accepted() {
		err = pkgerrors.New(pkgerrors.CodeGatewayRejected, fmt.Sprintf("transfer %s returned status %s", transfer.ID, transfer.Status))
	}
	if err != nil {
		s.recordTransferFailure(ctx, w, err)
		return false
	}

	var metadata json.RawMessage
	if encoded, err := json.Marshal(transfer); err != nil {
		s.logg.Error(ctx, "encode gateway transfer metadata", err)
	} else {
		metadata = encoded
	}
	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, w.ID)
		if err != nil {
			return err
		}
		if current == nil || current.Status != enums.WithdrawalStatusPending {
			// a webhook or an admin already moved it along
			return nil
		}
		if err := repo.Update(ctx, w.ID, statusUpdate(enums.WithdrawalStatusApproved, map[string]any{
			"gateway_transfer_id": transfer.ID,
			"gateway_metadata":    metadata,
			"failure_reason":      nil,
			"updated_at":          now,
		})); err != nil {
			return err
		}
		w.Status = enums.WithdrawalStatusApproved
		w.GatewayTransferID = &transfer.ID
		w.GatewayMetadata = metadata
		w.UpdatedAt = now
		return s.emit(ctx, tx, enums.EventWithdrawalApproved, w, nil, nil)
	})
	if err != nil {
		// the gateway has the transfer; the completion webhook will still settle it
		s.logg.Error(ctx, "persist approved withdrawal", err)
		return true
	}
	s.metrics.WithdrawalTransition(string(enums.WithdrawalStatusApproved))
	s.logg.Info(s.logg.WithField(ctx, "transfer_id", transfer.ID), "withdrawal transfer accepted")
	return true
}

// ListStalled returns pending withdrawals older than minAge that still have no
// gateway transfer. Nothing is resubmitted; an admin approves or rejects them.
func (s *service) ListStalled(ctx context.Context, minAge time.Duration, limit int) ([]models.Withdrawal, error) {
	if minAge < 0 {
		minAge = 0
	}
	return s.repo.ListStalled(ctx, s.now().UTC().Add(-minAge), limit)
}

func (s *service) recordTransferFailure(ctx context.Context, w *models.Withdrawal, cause error) {
	reason := truncateReason(cause.Error())
	s.logg.Error(ctx, "withdrawal transfer failed; left pending", cause)
	if err := s.repo.Update(ctx, w.ID, map[string]any{
		"failure_reason": reason,
		"updated_at":     s.now().UTC(),
	}); err != nil {
		s.logg.Error(ctx, "record withdrawal failure reason", err)
		return
	}
	w.FailureReason = &reason
}

func (s *service) MarkCompleted(ctx context.Context, withdrawalID uuid.UUID, transferID string) (*models.Withdrawal, error) {
	ctx = s.logg.WithField(ctx, "withdrawal_id", withdrawalID.String())
	var result *models.Withdrawal
	changed := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		w, err := s.load(ctx, repo, withdrawalID, true)
		if err != nil {
			return err
		}
		result = w
		if w.Status == enums.WithdrawalStatusCompleted {
			return nil
		}
		if !w.Status.CanTransitionTo(enums.WithdrawalStatusCompleted) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s withdrawals cannot complete", w.Status)).
				WithDetails(map[string]any{"current_status": w.Status, "requested_status": enums.WithdrawalStatusCompleted})
		}

		now := s.now().UTC()
		extra := map[string]any{"processed_at": now, "updated_at": now, "failure_reason": nil}
		if trimmed := strings.TrimSpace(transferID); trimmed != "" && w.GatewayTransferID == nil {
			extra["gateway_transfer_id"] = trimmed
			w.GatewayTransferID = &trimmed
		}
		if err := repo.Update(ctx, w.ID, statusUpdate(enums.WithdrawalStatusCompleted, extra)); err != nil {
			return err
		}
		w.Status = enums.WithdrawalStatusCompleted
		w.ProcessedAt = &now
		w.UpdatedAt = now
		w.FailureReason = nil
		changed = true
		return s.emit(ctx, tx, enums.EventWithdrawalCompleted, w, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.WithdrawalTransition(string(enums.WithdrawalStatusCompleted))
		s.logg.Info(ctx, "withdrawal completed")
	}
	return result, nil
}

func (s *service) MarkTransferFailed(ctx context.Context, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error) {
	ctx = s.logg.WithField(ctx, "withdrawal_id", withdrawalID.String())
	w, err := s.load(ctx, s.repo, withdrawalID, false)
	if err != nil {
		return nil, err
	}
	if w.Status == enums.WithdrawalStatusCompleted || w.Status == enums.WithdrawalStatusRejected {
		s.logg.Warn(ctx, "transfer failure reported for a closed withdrawal; ignoring")
		return w, nil
	}
	trimmed := truncateReason(strings.TrimSpace(reason))
	if trimmed == "" {
		trimmed = "transfer failed"
	}
	if err := s.repo.Update(ctx, w.ID, map[string]any{"failure_reason": trimmed, "updated_at": s.now().UTC()}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transfer failure")
	}
	w.FailureReason = &trimmed
	s.logg.Warn(s.logg.WithField(ctx, "reason", trimmed), "withdrawal transfer failed; awaiting manual resolution")
	return w, nil
}

func (s *service) Approve(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	return s.adminTransition(ctx, actor, withdrawalID, enums.WithdrawalStatusApproved, enums.EventWithdrawalApproved, nil)
}

func (s *service) Reject(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error) {
	trimmed := truncateReason(strings.TrimSpace(reason))
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	return s.adminTransition(ctx, actor, withdrawalID, enums.WithdrawalStatusRejected, enums.EventWithdrawalRejected, &trimmed)
}

func (s *service) adminTransition(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID, next enums.WithdrawalStatus, event enums.OutboxEventType, reason *string) (*models.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"withdrawal_id": withdrawalID.String(),
		"actor_id":      actor.AccountID.String(),
		"next_status":   next,
	})
	var result *models.Withdrawal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		w, err := s.load(ctx, repo, withdrawalID, true)
		if err != nil {
			return err
		}
		if !w.Status.CanTransitionTo(next) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("withdrawal cannot move from %s to %s", w.Status, next)).
				WithDetails(map[string]any{"current_status": w.Status, "requested_status": next})
		}
		now := s.now().UTC()
		extra := map[string]any{"updated_at": now}
		if reason != nil {
			extra["failure_reason"] = *reason
			extra["processed_at"] = now
			w.FailureReason = reason
			w.ProcessedAt = &now
		}
		if err := repo.Update(ctx, w.ID, statusUpdate(next, extra)); err != nil {
			return err
		}
		w.Status = next
		w.UpdatedAt = now
		result = w
		return s.emit(ctx, tx, event, w, &actor.AccountID, reason)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.WithdrawalTransition(string(next))
	s.logg.Info(ctx, "withdrawal status changed by admin")
	return result, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, withdrawalID uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.load(ctx, s.repo, withdrawalID, false)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && w.AccountID != actor.AccountID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return w, nil
}

func (s *service) ListForSeller(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*WithdrawalList, error) {
	seller, err := s.sellers.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListForSeller(ctx, seller.ID, params)
}

func (s *service) load(ctx context.Context, repo Repository, withdrawalID uuid.UUID, lock bool) (*models.Withdrawal, error) {
	if withdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id is required")
	}
	find := repo.FindByID
	if lock {
		find = repo.FindByIDForUpdate
	}
	w, err := find(ctx, withdrawalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load withdrawal")
	}
	if w == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
	}
	return w, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, w *models.Withdrawal, actorID *uuid.UUID, reason *string) error {
	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{AccountID: *actorID}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateWithdrawal,
		AggregateID:   w.ID,
		Actor:         actor,
		Data: payloads.WithdrawalEvent{
			WithdrawalID:      w.ID,
			SellerID:          w.SellerID,
			AccountID:         w.AccountID,
			GrossAmountCents:  w.GrossAmountCents,
			FeeCents:          w.FeeCents,
			AmountCents:       w.AmountCents,
			Status:            w.Status,
			GatewayTransferID: w.GatewayTransferID,
			Reason:            reason,
		},
	})
}

const maxReasonLength = 500

// truncateReason caps reason at maxReasonLength bytes on a rune boundary.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
