package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

// IdempotencyIndex is the unique index that makes settlement keys single-use.
const IdempotencyIndex = "ux_transactions_idempotency_key"

// Entry describes one balance mutation and the transaction row recording it.
type Entry struct {
	AccountID      uuid.UUID
	AmountCents    int64
	Kind           enums.TransactionKind
	OrderID        *uuid.UUID
	WithdrawalID   *uuid.UUID
	Description    string
	IdempotencyKey string
}

// Transfer moves AmountCents from one account to another as a single unit.
type Transfer struct {
	FromAccountID     uuid.UUID
	ToAccountID       uuid.UUID
	AmountCents       int64
	DebitKind         enums.TransactionKind
	CreditKind        enums.TransactionKind
	DebitDescription  string
	CreditDescription string
	OrderID           *uuid.UUID
	WithdrawalID      *uuid.UUID
}

// TransactionList is one cursor page of ledger history.
type TransactionList struct {
	Transactions []models.Transaction `json:"transactions"`
	NextCursor   string               `json:"next_cursor,omitempty"`
}

// Store owns every write to accounts.balance_cents. Each mutation appends
// exactly one transaction whose signed amount equals the balance delta.
type Store interface {
	WithTx(tx *gorm.DB) Store
	Credit(ctx context.Context, entry Entry) (*models.Transaction, error)
	Debit(ctx context.Context, entry Entry) (*models.Transaction, error)
	TransferAtomic(ctx context.Context, transfer Transfer) (*models.Transaction, *models.Transaction, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionList, error)
	SumTransactions(ctx context.Context, accountID uuid.UUID) (int64, error)
}

type store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore returns a ledger store bound to the provided database.
func NewStore(db *gorm.DB) Store {
	return &store{db: db, now: time.Now}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx, now: s.now}
}

func (s *store) Credit(ctx context.Context, entry Entry) (*models.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	var row *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.apply(tx, entry, entry.AmountCents)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *store) Debit(ctx context.Context, entry Entry) (*models.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	var row *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.apply(tx, entry, -entry.AmountCents)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// TransferAtomic runs both legs inside one (nested) transaction. The account
// with the lower id is always touched first so concurrent transfers between
// the same pair cannot deadlock.
func (s *store) TransferAtomic(ctx context.Context, transfer Transfer) (*models.Transaction, *models.Transaction, error) {
	if transfer.FromAccountID == transfer.ToAccountID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer to the same account")
	}
	debit := Entry{
		AccountID:    transfer.FromAccountID,
		AmountCents:  transfer.AmountCents,
		Kind:         transfer.DebitKind,
		OrderID:      transfer.OrderID,
		WithdrawalID: transfer.WithdrawalID,
		Description:  transfer.DebitDescription,
	}
	credit := Entry{
		AccountID:    transfer.ToAccountID,
		AmountCents:  transfer.AmountCents,
		Kind:         transfer.CreditKind,
		OrderID:      transfer.OrderID,
		WithdrawalID: transfer.WithdrawalID,
		Description:  transfer.CreditDescription,
	}
	if err := validateEntry(debit); err != nil {
		return nil, nil, err
	}
	if err := validateEntry(credit); err != nil {
		return nil, nil, err
	}

	var debitRow, creditRow *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applyDebit := func() error {
			var err error
			debitRow, err = s.apply(tx, debit, -debit.AmountCents)
			return err
		}
		applyCredit := func() error {
			var err error
			creditRow, err = s.apply(tx, credit, credit.AmountCents)
			return err
		}
		steps := []func() error{applyDebit, applyCredit}
		if LockOrderFirst(transfer.ToAccountID, transfer.FromAccountID) {
			steps = []func() error{applyCredit, applyDebit}
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return debitRow, creditRow, nil
}

// LockOrderFirst reports whether a must be touched before b.
func LockOrderFirst(a, b uuid.UUID) bool {
	return strings.Compare(a.String(), b.String()) < 0
}

// apply inserts the transaction row first so a reused idempotency key fails
// before any balance changes, then applies the guarded balance update.
func (s *store) apply(tx *gorm.DB, entry Entry, delta int64) (*models.Transaction, error) {
	row := &models.Transaction{
		ID:           uuid.New(),
		AccountID:    entry.AccountID,
		OrderID:      entry.OrderID,
		WithdrawalID: entry.WithdrawalID,
		AmountCents:  delta,
		Kind:         entry.Kind,
		Description:  entry.Description,
		CreatedAt:    s.now().UTC(),
	}
	if key := strings.TrimSpace(entry.IdempotencyKey); key != "" {
		row.IdempotencyKey = &key
	}

	if err := tx.Create(row).Error; err != nil {
		if row.IdempotencyKey != nil && dbpkg.IsUniqueViolation(err, IdempotencyIndex) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDuplicateSettlement, err, "settlement already applied").
				WithDetails(map[string]any{"idempotency_key": *row.IdempotencyKey})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transaction")
	}

	update := tx.Model(&models.Account{}).Where("id = ?", entry.AccountID)
	if delta < 0 {
		update = update.Where("balance_cents >= ?", -delta)
	}
	res := update.Updates(map[string]any{
		"balance_cents": gorm.Expr("balance_cents + ?", delta),
		"updated_at":    s.now().UTC(),
	})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update balance")
	}
	if res.RowsAffected == 1 {
		return row, nil
	}

	exists, err := accountExists(tx, entry.AccountID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found").
			WithDetails(map[string]any{"account_id": entry.AccountID.String()})
	}
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{"account_id": entry.AccountID.String(), "required_cents": -delta})
}

func accountExists(tx *gorm.DB, accountID uuid.UUID) (bool, error) {
	var count int64
	if err := tx.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup account")
	}
	return count > 0, nil
}

func validateEntry(entry Entry) error {
	if entry.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if entry.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be positive")
	}
	if !entry.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction kind")
	}
	return nil
}

func (s *store) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	return &account, nil
}

func (s *store) ListTransactions(ctx context.Context, accountID uuid.UUID, params pagination.Params) (*TransactionList, error) {
	query, limit, err := pagination.Keyset(s.db.WithContext(ctx).Where("account_id = ?", accountID), params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}

	list := &TransactionList{}
	list.Transactions, list.NextCursor = pagination.Trim(rows, limit, func(m models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	return list, nil
}

func (s *store) SumTransactions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum transactions")
	}
	return sum, nil
}

// AccountScanner pages through account ids in key order for sweeps that touch
// every ledger.
type AccountScanner struct {
	db *gorm.DB
}

func NewAccountScanner(db *gorm.DB) *AccountScanner {
	return &AccountScanner{db: db}
}

// AccountIDsAfter returns up to limit ids strictly greater than after.
func (s *AccountScanner) AccountIDsAfter(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id > ?", after).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list account ids")
	}
	return ids, nil
}
