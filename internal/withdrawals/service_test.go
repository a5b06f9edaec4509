package withdrawals

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/money"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type stubTransfers struct {
	inputs   []asaas.TransferInput
	err      error
	status   string
	transfer string
}

func (s *stubTransfers) CreateTransfer(ctx context.Context, input asaas.TransferInput) (*asaas.Transfer, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return &asaas.Transfer{ID: s.transfer, Status: s.status}, nil
}

type fixture struct {
	client   *db.Client
	gateway  *stubTransfers
	svc      Service
	seller   models.Account
	sellerID uuid.UUID
}

func newFixture(t *testing.T, sellerBalance int64) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	sellerSvc, err := sellers.NewService(client, sellers.NewRepository(client.DB()), logg)
	require.NoError(t, err)
	gateway := &stubTransfers{status: "PENDING", transfer: "tra_1"}

	svc, err := NewService(ServiceParams{
		TxRunner: client,
		Repo:     NewRepository(client.DB()),
		Ledger:   ledger.NewStore(client.DB()),
		Sellers:  sellerSvc,
		Gateway:  gateway,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:   logg,
		Settlement: config.SettlementConfig{
			PlatformAccountID:  dbtest.PlatformAccountID.String(),
			WithdrawalFeeBPS:   500,
			MinWithdrawalCents: 1000,
		},
	})
	require.NoError(t, err)

	account := dbtest.SeedAccount(t, client, enums.AccountRoleSeller, sellerBalance)
	seller := dbtest.SeedSeller(t, client, account.ID, 500, 1000, 100000)
	return &fixture{client: client, gateway: gateway, svc: svc, seller: account, sellerID: seller.ID}
}

func (f *fixture) request(amount int64) RequestInput {
	return RequestInput{
		AccountID:        f.seller.ID,
		GrossAmountCents: amount,
		PixKey:           "seller@example.com",
		PixKeyType:       enums.PixKeyTypeEmail,
	}
}

func TestRequestWithdrawalSplitsFee(t *testing.T) {
	f := newFixture(t, 10000)

	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	w := result.Withdrawal
	assert.True(t, result.TransferAccepted)
	assert.Equal(t, int64(5000), w.GrossAmountCents)
	assert.Equal(t, int64(250), w.FeeCents)
	assert.Equal(t, int64(4750), w.AmountCents)
	assert.Equal(t, enums.WithdrawalStatusApproved, w.Status)
	require.NotNil(t, w.GatewayTransferID)
	assert.Equal(t, "tra_1", *w.GatewayTransferID)

	assert.Equal(t, int64(5000), dbtest.Balance(t, f.client, f.seller.ID))
	assert.Equal(t, int64(250), dbtest.Balance(t, f.client, dbtest.PlatformAccountID))
	assert.Equal(t, dbtest.Balance(t, f.client, f.seller.ID), dbtest.TransactionSum(t, f.client, f.seller.ID)+10000)
	assert.Equal(t, int64(250), dbtest.TransactionSum(t, f.client, dbtest.PlatformAccountID))

	require.Len(t, f.gateway.inputs, 1)
	assert.Equal(t, int64(4750), f.gateway.inputs[0].AmountCents)
	assert.Equal(t, w.ID, *f.gateway.inputs[0].Reference.WithdrawalID)
	assert.Equal(t, int64(1), dbtest.CountOutbox(t, f.client, enums.EventWithdrawalRequested))
	assert.Equal(t, int64(1), dbtest.CountOutbox(t, f.client, enums.EventWithdrawalApproved))
}

func TestRequestWithdrawalGatewayFailureStaysPending(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "timeout")

	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)
	assert.False(t, result.TransferAccepted)
	assert.Equal(t, enums.WithdrawalStatusPending, result.Withdrawal.Status)
	require.NotNil(t, result.Withdrawal.FailureReason)

	stored, err := NewRepository(f.client.DB()).FindByID(context.Background(), result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusPending, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "timeout")

	assert.Equal(t, int64(5000), dbtest.Balance(t, f.client, f.seller.ID))
	assert.Equal(t, int64(250), dbtest.Balance(t, f.client, dbtest.PlatformAccountID))
}

func TestRequestWithdrawalRejectedTransferStaysPending(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.status = "FAILED"

	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(2000))
	require.NoError(t, err)
	assert.False(t, result.TransferAccepted)
	assert.Equal(t, enums.WithdrawalStatusPending, result.Withdrawal.Status)
}

func TestRequestWithdrawalValidation(t *testing.T) {
	f := newFixture(t, 3000)

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(999))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))

	_, err = f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	input := f.request(1000)
	input.PixKeyType = "IBAN"
	_, err = f.svc.RequestWithdrawal(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	buyer := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 50000)
	input = f.request(1000)
	input.AccountID = buyer.ID
	_, err = f.svc.RequestWithdrawal(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotASeller))

	assert.Empty(t, f.gateway.inputs)
	assert.Equal(t, int64(3000), dbtest.Balance(t, f.client, f.seller.ID))
}

func TestRequestWithdrawalFailsClosedWithoutPlatformAccount(t *testing.T) {
	f := newFixture(t, 10000)
	require.NoError(t, f.client.DB().Exec("DELETE FROM accounts WHERE id = ?", dbtest.PlatformAccountID).Error)

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))

	assert.Equal(t, int64(10000), dbtest.Balance(t, f.client, f.seller.ID))
	assert.Equal(t, int64(0), dbtest.TransactionSum(t, f.client, f.seller.ID))
	var count int64
	require.NoError(t, f.client.DB().Model(&models.Withdrawal{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, f.gateway.inputs)
}

func TestFeeLawAcrossAmounts(t *testing.T) {
	for _, gross := range []int64{1000, 1001, 1999, 3333, 5000, 12345, 99999} {
		f := newFixture(t, gross)
		result, err := f.svc.RequestWithdrawal(context.Background(), f.request(gross))
		require.NoError(t, err)

		split := money.SplitFee(gross, 500)
		assert.Equal(t, split.NetCents, result.Withdrawal.AmountCents, "gross %d", gross)
		assert.Equal(t, gross, result.Withdrawal.AmountCents+result.Withdrawal.FeeCents, "gross %d", gross)
		assert.Equal(t, int64(0), dbtest.Balance(t, f.client, f.seller.ID), "gross %d", gross)
		assert.Equal(t, result.Withdrawal.FeeCents, dbtest.Balance(t, f.client, dbtest.PlatformAccountID), "gross %d", gross)
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	f := newFixture(t, 10000)
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	first, err := f.svc.MarkCompleted(context.Background(), result.Withdrawal.ID, "tra_1")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, first.Status)
	assert.NotNil(t, first.ProcessedAt)

	second, err := f.svc.MarkCompleted(context.Background(), result.Withdrawal.ID, "tra_1")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, second.Status)
	assert.Equal(t, int64(1), dbtest.CountOutbox(t, f.client, enums.EventWithdrawalCompleted))
	assert.Equal(t, int64(5000), dbtest.Balance(t, f.client, f.seller.ID))
}

func TestMarkCompletedFromPendingRecordsTransfer(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = errors.New("connection reset")
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	done, err := f.svc.MarkCompleted(context.Background(), result.Withdrawal.ID, "tra_late")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, done.Status)
	require.NotNil(t, done.GatewayTransferID)
	assert.Equal(t, "tra_late", *done.GatewayTransferID)
	assert.Nil(t, done.FailureReason)
}

func TestMarkTransferFailedKeepsPending(t *testing.T) {
	f := newFixture(t, 10000)
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	failed, err := f.svc.MarkTransferFailed(context.Background(), result.Withdrawal.ID, "invalid pix key")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusApproved, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "invalid pix key", *failed.FailureReason)
	assert.Equal(t, int64(5000), dbtest.Balance(t, f.client, f.seller.ID))
}

func TestMarkTransferFailedKeepsMultiByteReasonValid(t *testing.T) {
	f := newFixture(t, 10000)
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	reason := "x" + strings.Repeat("é", 400)
	_, err = f.svc.MarkTransferFailed(context.Background(), result.Withdrawal.ID, reason)
	require.NoError(t, err)

	var stored models.Withdrawal
	require.NoError(t, f.client.DB().First(&stored, "id = ?", result.Withdrawal.ID).Error)
	require.NotNil(t, stored.FailureReason)
	assert.True(t, utf8.ValidString(*stored.FailureReason))
	assert.LessOrEqual(t, len(*stored.FailureReason), maxReasonLength)
	assert.True(t, strings.HasPrefix(reason, *stored.FailureReason))
}

func TestTruncateReasonCutsOnRuneBoundary(t *testing.T) {
	tests := map[string]struct {
		in      string
		wantLen int
	}{
		"short ascii":        {"invalid pix key", 15},
		"exact limit":        {strings.Repeat("a", maxReasonLength), maxReasonLength},
		"odd offset":         {"x" + strings.Repeat("é", 400), 499},
		"even offset":        {strings.Repeat("é", 400), maxReasonLength},
		"four byte sequence": {"ab" + strings.Repeat("😀", 200), 498},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := truncateReason(tt.in)
			assert.Len(t, got, tt.wantLen)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestMarkCompletedFollowsTransitionTable(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = errors.New("timeout")
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)
	require.Equal(t, enums.WithdrawalStatusPending, result.Withdrawal.Status)
	require.True(t, result.Withdrawal.Status.CanTransitionTo(enums.WithdrawalStatusCompleted))

	admin := types.Actor{AccountID: uuid.New(), Role: enums.AccountRoleAdmin}
	_, err = f.svc.Reject(context.Background(), admin, result.Withdrawal.ID, "duplicate request")
	require.NoError(t, err)

	_, err = f.svc.MarkCompleted(context.Background(), result.Withdrawal.ID, "tra_late")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, enums.WithdrawalStatusRejected, details["current_status"])
}

func TestAcceptedTransferStoresGatewayMetadata(t *testing.T) {
	f := newFixture(t, 10000)
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	var stored models.Withdrawal
	require.NoError(t, f.client.DB().First(&stored, "id = ?", result.Withdrawal.ID).Error)
	require.NotEmpty(t, stored.GatewayMetadata)
	var transfer map[string]any
	require.NoError(t, json.Unmarshal(stored.GatewayMetadata, &transfer))
	assert.Equal(t, "tra_1", transfer["id"])
}

func TestAdminRejectIsStatusOnly(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = errors.New("down")
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	_, err = f.svc.Reject(context.Background(), types.Actor{AccountID: f.seller.ID, Role: enums.AccountRoleSeller}, result.Withdrawal.ID, "fraud")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	admin := types.Actor{AccountID: uuid.New(), Role: enums.AccountRoleAdmin}
	_, err = f.svc.Reject(context.Background(), admin, result.Withdrawal.ID, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	rejected, err := f.svc.Reject(context.Background(), admin, result.Withdrawal.ID, "fraud")
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, int64(5000), dbtest.Balance(t, f.client, f.seller.ID))

	_, err = f.svc.Approve(context.Background(), admin, result.Withdrawal.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.MarkCompleted(context.Background(), result.Withdrawal.ID, "tra_1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestAdminApprovePending(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = errors.New("down")
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	admin := types.Actor{AccountID: uuid.New(), Role: enums.AccountRoleAdmin}
	approved, err := f.svc.Approve(context.Background(), admin, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusApproved, approved.Status)
}

func TestGetAndListScopedToOwner(t *testing.T) {
	f := newFixture(t, 10000)
	result, err := f.svc.RequestWithdrawal(context.Background(), f.request(2000))
	require.NoError(t, err)
	_, err = f.svc.RequestWithdrawal(context.Background(), f.request(3000))
	require.NoError(t, err)

	owner := types.Actor{AccountID: f.seller.ID, Role: enums.AccountRoleSeller}
	got, err := f.svc.Get(context.Background(), owner, result.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Withdrawal.ID, got.ID)

	stranger := types.Actor{AccountID: uuid.New(), Role: enums.AccountRoleUser}
	_, err = f.svc.Get(context.Background(), stranger, result.Withdrawal.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	page, err := f.svc.ListForSeller(context.Background(), f.seller.ID, pagination.Params{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page.Withdrawals, 1)
	assert.NotEmpty(t, page.NextCursor)
}

func TestListStalledReportsWithoutResubmitting(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "timeout")

	refused, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)
	require.False(t, refused.TransferAccepted)

	f.gateway.err = nil
	accepted, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	require.NoError(t, err)
	require.True(t, accepted.TransferAccepted)

	// a negative age puts the cutoff in the future so fresh rows qualify
	rows, err := f.svc.ListStalled(context.Background(), -time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, refused.Withdrawal.ID, rows[0].ID)
	require.NotNil(t, rows[0].FailureReason)
	assert.Len(t, f.gateway.inputs, 2)

	stored, err := NewRepository(f.client.DB()).FindByID(context.Background(), refused.Withdrawal.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusPending, stored.Status)
}

func TestListStalledRespectsMinimumAge(t *testing.T) {
	f := newFixture(t, 10000)
	f.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "timeout")

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(5000))
	require.NoError(t, err)

	rows, err := f.svc.ListStalled(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
