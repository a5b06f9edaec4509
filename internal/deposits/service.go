package deposits

import (
	"context"
	"fmt"
	"strings"
	"time"

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
)

const rateLimitScope = "deposit-status"

// Service opens deposit charges and credits confirmed payments exactly once.
type Service interface {
	CreateDeposit(ctx context.Context, input CreateDepositInput) (*DepositResult, error)
	CheckStatus(ctx context.Context, input CheckStatusInput) (*StatusResult, error)
	Settle(ctx context.Context, input SettlementInput) (*SettlementResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gateway interface {
	CreatePayment(ctx context.Context, input asaas.PaymentInput) (*asaas.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*asaas.Payment, error)
	GetPixQRCode(ctx context.Context, paymentID string) (*asaas.PixQRCode, error)
}

type customerService interface {
	EnsureForAccount(ctx context.Context, account *models.Account, taxID string) (string, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// ServiceParams wires the deposit service.
type ServiceParams struct {
	TxRunner    txRunner
	Ledger      ledger.Store
	Gateway     gateway
	Customers   customerService
	Outbox      outboxEmitter
	RateLimiter rateLimiter
	Metrics     *metrics.SettlementMetrics
	Logger      *logger.Logger
	Settlement  config.SettlementConfig
	Asaas       config.AsaasConfig
	RateLimit   config.RateLimitConfig
	Now         func() time.Time
}

type service struct {
	tx        txRunner
	ledger    ledger.Store
	gateway   gateway
	customers customerService
	outbox    outboxEmitter
	limiter   rateLimiter
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	minCents  int64
	dueDays   int
	limit     int64
	window    time.Duration
	now       func() time.Time
}

// NewService validates dependencies and builds the deposit service.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	dueDays := params.Asaas.DueDays
	if dueDays <= 0 {
		dueDays = 1
	}
	return &service{
		tx:        params.TxRunner,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		customers: params.Customers,
		outbox:    params.Outbox,
		limiter:   params.RateLimiter,
		metrics:   params.Metrics,
		logg:      params.Logger,
		minCents:  params.Settlement.MinDepositCents,
		dueDays:   dueDays,
		limit:     int64(params.RateLimit.DepositStatusLimit),
		window:    params.RateLimit.DepositStatusWindow,
		now:       now,
	}, nil
}

func (s *service) CreateDeposit(ctx context.Context, input CreateDepositInput) (*DepositResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	if input.AmountCents < s.minCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, fmt.Sprintf("minimum deposit is %s", money.Format(s.minCents)))
	}
	billingType := input.BillingType
	if billingType == "" {
		billingType = enums.BillingTypePix
	}
	if !billingType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid billing type")
	}
	ctx = s.logg.WithAccountID(ctx, input.AccountID.String())

	account, err := s.ledger.GetAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.customers.EnsureForAccount(ctx, account, input.TaxID)
	if err != nil {
		return nil, err
	}

	started := s.now()
	payment, err := s.gateway.CreatePayment(ctx, asaas.PaymentInput{
		CustomerID:  customerID,
		AmountCents: input.AmountCents,
		BillingType: billingType,
		DueDate:     s.now().UTC().AddDate(0, 0, s.dueDays),
		Description: fmt.Sprintf("Balance deposit %s", money.Format(input.AmountCents)),
		Reference:   asaas.DepositReference(input.AccountID),
	})
	s.metrics.ObserveGatewayCall("create_payment", err, s.now().Sub(started))
	if err != nil {
		return nil, err
	}

	result := &DepositResult{
		PaymentID:   payment.ID,
		Status:      payment.Status,
		AmountCents: input.AmountCents,
		Amount:      money.Format(input.AmountCents),
		BillingType: billingType,
		InvoiceURL:  payment.InvoiceURL,
	}
	if billingType.IsInstant() {
		qr, err := s.gateway.GetPixQRCode(ctx, payment.ID)
		if err != nil {
			// the charge exists; the invoice URL still lets the buyer pay
			s.logg.Warn(s.logg.WithField(ctx, "payment_id", payment.ID), "pix qr code unavailable")
		} else {
			result.PixQRCode = &qr.EncodedImage
			result.PixPayload = &qr.Payload
			if qr.ExpirationDate != "" {
				result.ExpiresAt = &qr.ExpirationDate
			}
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id":   payment.ID,
		"amount_cents": input.AmountCents,
		"billing_type": billingType,
	})
	s.logg.Info(logCtx, "deposit created")
	return result, nil
}

func (s *service) CheckStatus(ctx context.Context, input CheckStatusInput) (*StatusResult, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated account required")
	}
	paymentID := strings.TrimSpace(input.PaymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"account_id": input.AccountID.String(), "payment_id": paymentID})

	if err := s.allow(ctx, input.AccountID); err != nil {
		return nil, err
	}

	started := s.now()
	payment, err := s.gateway.GetPayment(ctx, paymentID)
	s.metrics.ObserveGatewayCall("get_payment", err, s.now().Sub(started))
	if err != nil {
		return nil, err
	}

	ref, err := asaas.ParseReference(payment.ExternalReference)
	if err != nil || ref.Type != enums.SettlementReferenceDeposit || *ref.UserID != input.AccountID {
		s.logg.Warn(ctx, "deposit status requested for a foreign payment")
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to this account")
	}

	result := &StatusResult{
		PaymentID:   payment.ID,
		Status:      payment.Status,
		State:       payment.Status.DepositState(),
		AmountCents: payment.AmountCents(),
		BillingType: payment.BillingType,
	}
	if !payment.Status.IsSettled() {
		return result, nil
	}

	settled, err := s.Settle(ctx, SettlementInput{
		PaymentID:   payment.ID,
		AccountID:   input.AccountID,
		AmountCents: result.AmountCents,
		BillingType: payment.BillingType,
		Source:      SourcePoll,
	})
	if err != nil {
		return nil, err
	}
	result.Credited = settled.Settled
	result.AlreadySettled = settled.Duplicate
	return result, nil
}

// allow applies the per-account polling limit. Limiter failures let the
// request through.
func (s *service) allow(ctx context.Context, accountID uuid.UUID) error {
	if s.limiter == nil || s.limit <= 0 || s.window <= 0 {
		return nil
	}
	allowed, count, err := s.limiter.FixedWindowAllow(ctx, rateLimitScope+":"+accountID.String(), s.limit, s.window)
	if err != nil {
		s.logg.Error(ctx, "deposit status rate limit check failed", err)
		return nil
	}
	if !allowed {
		s.logg.Warn(s.logg.WithField(ctx, "count", count), "deposit status rate limited")
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many status checks, try again shortly")
	}
	return nil
}

func (s *service) Settle(ctx context.Context, input SettlementInput) (*SettlementResult, error) {
	paymentID := strings.TrimSpace(input.PaymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "settled amount must be positive")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"account_id":   input.AccountID.String(),
		"payment_id":   paymentID,
		"amount_cents": input.AmountCents,
		"source":       input.Source,
	})

	var txn *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.ledger.WithTx(tx).Credit(ctx, ledger.Entry{
			AccountID:      input.AccountID,
			AmountCents:    input.AmountCents,
			Kind:           enums.TransactionKindDeposit,
			Description:    fmt.Sprintf("Deposit %s", paymentID),
			IdempotencyKey: IdempotencyKey(paymentID),
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDepositSettled,
			AggregateType: enums.AggregateDeposit,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{AccountID: input.AccountID, Role: string(enums.AccountRoleUser)},
			Data: payloads.DepositSettledEvent{
				PaymentID:     paymentID,
				AccountID:     input.AccountID,
				TransactionID: txn.ID,
				AmountCents:   input.AmountCents,
				BillingType:   input.BillingType,
				Source:        input.Source,
			},
		})
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeDuplicateSettlement) {
		s.metrics.DepositDuplicate(input.Source)
		s.logg.Info(ctx, "deposit already settled")
		return &SettlementResult{PaymentID: paymentID, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.DepositSettled(input.Source, input.AmountCents)
	s.logg.Info(s.logg.WithField(ctx, "transaction_id", txn.ID.String()), "deposit settled")
	return &SettlementResult{
		PaymentID:     paymentID,
		TransactionID: &txn.ID,
		Settled:       true,
		SettledAt:     &txn.CreatedAt,
	}, nil
}
