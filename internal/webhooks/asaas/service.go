package asaaswebhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/deposits"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox/idempotency"
)

// Outcome summarises what a delivery did.
type Outcome string

const (
	OutcomeSettled   Outcome = "settled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "transfer_failed"
	OutcomeIgnored   Outcome = "ignored"
)

type depositSettler interface {
	Settle(ctx context.Context, input deposits.SettlementInput) (*deposits.SettlementResult, error)
}

type withdrawalUpdater interface {
	MarkCompleted(ctx context.Context, withdrawalID uuid.UUID, transferID string) (*models.Withdrawal, error)
	MarkTransferFailed(ctx context.Context, withdrawalID uuid.UUID, reason string) (*models.Withdrawal, error)
}

type deliveryGuard interface {
	Claim(ctx context.Context, deliveryID string) (idempotency.ClaimState, error)
	Complete(ctx context.Context, deliveryID string) error
	Release(ctx context.Context, deliveryID string) error
}

type ServiceParams struct {
	Deposits    depositSettler
	Withdrawals withdrawalUpdater
	Guard       deliveryGuard
	Logger      *logger.Logger
}

// Service routes verified gateway deliveries to the settlement engines.
type Service struct {
	deposits    depositSettler
	withdrawals withdrawalUpdater
	guard       deliveryGuard
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Deposits == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "deposit settler required")
	}
	if params.Withdrawals == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "withdrawal updater required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		deposits:    params.Deposits,
		withdrawals: params.Withdrawals,
		guard:       params.Guard,
		logg:        params.Logger,
	}, nil
}

// HandleEvent processes one delivery. Only internal failures are returned;
// malformed or unroutable deliveries are logged and acknowledged. A delivery
// that races another still being processed runs without a claim and relies on
// the ledger idempotency key, so it is acknowledged as a duplicate or settles
// in place of a first delivery that crashed. A failed delivery releases its
// claim so a redelivery can run.
func (s *Service) HandleEvent(ctx context.Context, event *Event) (Outcome, error) {
	if event == nil {
		return OutcomeIgnored, pkgerrors.New(pkgerrors.CodeValidation, "webhook event required")
	}
	deliveryID := event.DeliveryID()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_event": string(event.Event),
		"delivery_id":   deliveryID,
	})
	if deliveryID == "" {
		s.logg.Warn(ctx, "webhook without payment or transfer id ignored")
		return OutcomeIgnored, nil
	}

	guarded := true
	state, err := s.guard.Claim(ctx, deliveryID)
	switch {
	case err != nil:
		// processing continues; the ledger idempotency key still rejects a second credit
		s.logg.Error(ctx, "webhook idempotency guard unavailable", err)
		guarded = false
	case state == idempotency.Done:
		s.logg.Info(ctx, "webhook redelivery skipped")
		return OutcomeDuplicate, nil
	case state == idempotency.InFlight:
		s.logg.Info(ctx, "webhook delivery already in flight; processing without claim")
		guarded = false
	}

	outcome, err := s.route(ctx, event)
	if err != nil && retryable(err) {
		if guarded {
			if releaseErr := s.guard.Release(context.WithoutCancel(ctx), deliveryID); releaseErr != nil {
				s.logg.Error(ctx, "release webhook idempotency key", releaseErr)
			}
		}
		s.logg.Error(ctx, "webhook processing failed", err)
		return outcome, err
	}
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook delivery rejected; acknowledging")
		outcome = OutcomeIgnored
	}
	if guarded {
		if completeErr := s.guard.Complete(context.WithoutCancel(ctx), deliveryID); completeErr != nil {
			s.logg.Error(ctx, "complete webhook idempotency key", completeErr)
		}
	}
	return outcome, nil
}

func (s *Service) route(ctx context.Context, event *Event) (Outcome, error) {
	switch {
	case event.Event.ConfirmsPayment():
		return s.handlePayment(ctx, event.Payment)
	case event.Event == enums.GatewayEventTransferDone:
		return s.handleTransfer(ctx, event.Transfer, true)
	case event.Event == enums.GatewayEventTransferFailed, event.Event == enums.GatewayEventTransferCanceled:
		return s.handleTransfer(ctx, event.Transfer, false)
	default:
		s.logg.Info(ctx, "webhook event not handled")
		return OutcomeIgnored, nil
	}
}

func (s *Service) handlePayment(ctx context.Context, payment *asaas.Payment) (Outcome, error) {
	if payment == nil {
		s.logg.Warn(ctx, "payment event without payment body")
		return OutcomeIgnored, nil
	}
	ref, err := asaas.ParseReference(payment.ExternalReference)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "external_reference", payment.ExternalReference), "payment reference unreadable; ignoring")
		return OutcomeIgnored, nil
	}

	switch ref.Type {
	case enums.SettlementReferenceDeposit:
		result, err := s.deposits.Settle(ctx, deposits.SettlementInput{
			PaymentID:   payment.ID,
			AccountID:   *ref.UserID,
			AmountCents: payment.AmountCents(),
			BillingType: payment.BillingType,
			Source:      deposits.SourceWebhook,
		})
		if err != nil {
			return OutcomeIgnored, err
		}
		if result.Duplicate {
			return OutcomeDuplicate, nil
		}
		return OutcomeSettled, nil
	case enums.SettlementReferenceWithdrawal:
		if _, err := s.withdrawals.MarkCompleted(ctx, *ref.WithdrawalID, ""); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeCompleted, nil
	}
	return OutcomeIgnored, nil
}

func (s *Service) handleTransfer(ctx context.Context, transfer *asaas.Transfer, done bool) (Outcome, error) {
	if transfer == nil {
		s.logg.Warn(ctx, "transfer event without transfer body")
		return OutcomeIgnored, nil
	}
	ref, err := asaas.ParseReference(transfer.ExternalReference)
	if err != nil || ref.Type != enums.SettlementReferenceWithdrawal {
		s.logg.Warn(s.logg.WithField(ctx, "external_reference", transfer.ExternalReference), "transfer reference unreadable; ignoring")
		return OutcomeIgnored, nil
	}
	ctx = s.logg.WithField(ctx, "withdrawal_id", ref.WithdrawalID.String())

	if done {
		if _, err := s.withdrawals.MarkCompleted(ctx, *ref.WithdrawalID, transfer.ID); err != nil {
			return OutcomeIgnored, err
		}
		return OutcomeCompleted, nil
	}
	reason := transfer.FailReason
	if reason == "" {
		reason = fmt.Sprintf("transfer %s ended with status %s", transfer.ID, transfer.Status)
	}
	if _, err := s.withdrawals.MarkTransferFailed(ctx, *ref.WithdrawalID, reason); err != nil {
		return OutcomeIgnored, err
	}
	return OutcomeFailed, nil
}

// retryable reports whether a gateway redelivery could succeed where this one
// failed. Rejections caused by the payload itself are final.
func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeInvalidAmount:
		return false
	}
	return true
}
