package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes ledger reads and standalone mutations.
type Service interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error)
	History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionList, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
	Credit(ctx context.Context, entry Entry) (*models.Transaction, error)
	Debit(ctx context.Context, entry Entry) (*models.Transaction, error)
	Transfer(ctx context.Context, transfer Transfer) (*models.Transaction, *models.Transaction, error)
}

// BalanceView is the API shape of an account balance.
type BalanceView struct {
	AccountID    uuid.UUID `json:"account_id"`
	BalanceCents int64     `json:"balance_cents"`
	Balance      string    `json:"balance"`
}

// Reconciliation compares the stored balance with the transaction history.
type Reconciliation struct {
	AccountID      uuid.UUID `json:"account_id"`
	BalanceCents   int64     `json:"balance_cents"`
	LedgerSumCents int64     `json:"ledger_sum_cents"`
	Balanced       bool      `json:"balanced"`
}

type service struct {
	tx    txRunner
	store Store
	logg  *logger.Logger
}

// NewService wires a ledger service with the provided store and transaction runner.
func NewService(tx txRunner, store Store, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{tx: tx, store: store, logg: logg}, nil
}

func (s *service) Balance(ctx context.Context, accountID uuid.UUID) (*BalanceView, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &BalanceView{
		AccountID:    account.ID,
		BalanceCents: account.BalanceCents,
		Balance:      money.Format(account.BalanceCents),
	}, nil
}

func (s *service) History(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionList, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	return s.store.ListTransactions(ctx, accountID, params)
}

// Reconcile reads the balance and the transaction sum in one transaction and
// reports whether they agree.
func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	var result Reconciliation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)
		account, err := store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		sum, err := store.SumTransactions(ctx, accountID)
		if err != nil {
			return err
		}
		result = Reconciliation{
			AccountID:      accountID,
			BalanceCents:   account.BalanceCents,
			LedgerSumCents: sum,
			Balanced:       account.BalanceCents == sum,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Balanced {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"account_id":       accountID.String(),
			"balance_cents":    result.BalanceCents,
			"ledger_sum_cents": result.LedgerSumCents,
		})
		s.logg.Warn(logCtx, "ledger balance does not match transaction history")
	}
	return &result, nil
}

func (s *service) Credit(ctx context.Context, entry Entry) (*models.Transaction, error) {
	var row *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		row, err = s.store.WithTx(tx).Credit(ctx, entry)
		return err
	})
	return row, err
}

func (s *service) Debit(ctx context.Context, entry Entry) (*models.Transaction, error) {
	var row *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		row, err = s.store.WithTx(tx).Debit(ctx, entry)
		return err
	})
	return row, err
}

func (s *service) Transfer(ctx context.Context, transfer Transfer) (*models.Transaction, *models.Transaction, error) {
	var debit, credit *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		debit, credit, err = s.store.WithTx(tx).TransferAtomic(ctx, transfer)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}
