package deposits

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	"github.com/angelmondragon/coinmarket-backend/pkg/asaas"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/metrics"
	"github.com/angelmondragon/coinmarket-backend/pkg/outbox"
)

type stubGateway struct {
	mu       sync.Mutex
	created  []asaas.PaymentInput
	payments map[string]*asaas.Payment
	qrErr    error
}

func (g *stubGateway) CreatePayment(ctx context.Context, input asaas.PaymentInput) (*asaas.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, input)
	return &asaas.Payment{
		ID:                "pay_new",
		Status:            enums.GatewayPaymentStatusPending,
		Value:             decimal.NewFromInt(input.AmountCents).Shift(-2),
		BillingType:       input.BillingType,
		InvoiceURL:        "https://pay.test/pay_new",
		ExternalReference: input.Reference.Encode(),
	}, nil
}

func (g *stubGateway) GetPayment(ctx context.Context, paymentID string) (*asaas.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	payment, ok := g.payments[paymentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (g *stubGateway) GetPixQRCode(ctx context.Context, paymentID string) (*asaas.PixQRCode, error) {
	if g.qrErr != nil {
		return nil, g.qrErr
	}
	return &asaas.PixQRCode{EncodedImage: "aW1n", Payload: "000201pix", ExpirationDate: "2026-10-16 23:59:59"}, nil
}

type stubCustomers struct{}

func (stubCustomers) EnsureForAccount(ctx context.Context, account *models.Account, taxID string) (string, error) {
	return "cus_" + account.ID.String()[:8], nil
}

type stubLimiter struct {
	allowed bool
	err     error
	scopes  []string
}

func (l *stubLimiter) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	l.scopes = append(l.scopes, scope)
	return l.allowed, 1, l.err
}

type fixture struct {
	client  *db.Client
	gateway *stubGateway
	limiter *stubLimiter
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	gateway := &stubGateway{payments: map[string]*asaas.Payment{}}
	limiter := &stubLimiter{allowed: true}

	svc, err := NewService(ServiceParams{
		TxRunner:    client,
		Ledger:      ledger.NewStore(client.DB()),
		Gateway:     gateway,
		Customers:   stubCustomers{},
		Outbox:      outbox.NewService(outbox.NewRepository(client.DB()), logg),
		RateLimiter: limiter,
		Metrics:     metrics.NewSettlementMetrics(prometheus.NewRegistry()),
		Logger:      logg,
		Settlement:  config.SettlementConfig{MinDepositCents: 500},
		Asaas:       config.AsaasConfig{DueDays: 1},
		RateLimit:   config.RateLimitConfig{DepositStatusLimit: 20, DepositStatusWindow: time.Minute},
	})
	require.NoError(t, err)
	return &fixture{client: client, gateway: gateway, limiter: limiter, svc: svc}
}

func (f *fixture) confirmPayment(id string, accountID uuid.UUID, amountCents int64, status enums.GatewayPaymentStatus) {
	f.gateway.payments[id] = &asaas.Payment{
		ID:                id,
		Status:            status,
		Value:             decimal.NewFromInt(amountCents).Shift(-2),
		BillingType:       enums.BillingTypePix,
		ExternalReference: asaas.DepositReference(accountID).Encode(),
	}
}

func TestCreateDepositEnforcesMinimum(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)

	_, err := f.svc.CreateDeposit(context.Background(), CreateDepositInput{AccountID: account.ID, AmountCents: 499})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
	assert.Empty(t, f.gateway.created)
}

func TestCreateDepositReturnsPixPayload(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)

	result, err := f.svc.CreateDeposit(context.Background(), CreateDepositInput{AccountID: account.ID, AmountCents: 500})
	require.NoError(t, err)

	assert.Equal(t, "pay_new", result.PaymentID)
	assert.Equal(t, "5.00", result.Amount)
	require.NotNil(t, result.PixPayload)
	assert.Equal(t, "000201pix", *result.PixPayload)
	require.Len(t, f.gateway.created, 1)
	assert.Equal(t, enums.BillingTypePix, f.gateway.created[0].BillingType)
	assert.Equal(t, account.ID, *f.gateway.created[0].Reference.UserID)
	assert.Equal(t, int64(0), dbtest.Balance(t, f.client, account.ID))
}

func TestCreateDepositToleratesMissingQRCode(t *testing.T) {
	f := newFixture(t)
	f.gateway.qrErr = errors.New("qr unavailable")
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)

	result, err := f.svc.CreateDeposit(context.Background(), CreateDepositInput{AccountID: account.ID, AmountCents: 1000})
	require.NoError(t, err)
	assert.Nil(t, result.PixPayload)
	assert.NotEmpty(t, result.InvoiceURL)
}

func TestCheckStatusCreditsOnce(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	f.confirmPayment("pay_1", account.ID, 2000, enums.GatewayPaymentStatusConfirmed)

	first, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: account.ID, PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.True(t, first.Credited)
	assert.False(t, first.AlreadySettled)
	assert.Equal(t, enums.DepositStateConfirmed, first.State)

	second, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: account.ID, PaymentID: "pay_1"})
	require.NoError(t, err)
	assert.False(t, second.Credited)
	assert.True(t, second.AlreadySettled)

	assert.Equal(t, int64(2000), dbtest.Balance(t, f.client, account.ID))
	assert.Equal(t, int64(2000), dbtest.TransactionSum(t, f.client, account.ID))
	assert.Equal(t, int64(1), dbtest.CountOutbox(t, f.client, enums.EventDepositSettled))
}

func TestCheckStatusPendingHasNoLedgerEffect(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	f.confirmPayment("pay_2", account.ID, 2000, enums.GatewayPaymentStatusPending)

	result, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: account.ID, PaymentID: "pay_2"})
	require.NoError(t, err)
	assert.False(t, result.Credited)
	assert.Equal(t, enums.DepositStateCreated, result.State)
	assert.Equal(t, int64(0), dbtest.Balance(t, f.client, account.ID))
}

func TestCheckStatusRejectsForeignPayment(t *testing.T) {
	f := newFixture(t)
	owner := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	other := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	f.confirmPayment("pay_3", owner.ID, 2000, enums.GatewayPaymentStatusReceived)

	_, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: other.ID, PaymentID: "pay_3"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, int64(0), dbtest.Balance(t, f.client, owner.ID))
	assert.Equal(t, int64(0), dbtest.Balance(t, f.client, other.ID))
}

func TestCheckStatusRateLimited(t *testing.T) {
	f := newFixture(t)
	f.limiter.allowed = false
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)

	_, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: account.ID, PaymentID: "pay_4"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	require.Len(t, f.limiter.scopes, 1)
	assert.Contains(t, f.limiter.scopes[0], account.ID.String())
}

func TestCheckStatusLimiterFailureFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.limiter.err = errors.New("redis down")
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	f.confirmPayment("pay_5", account.ID, 700, enums.GatewayPaymentStatusPending)

	_, err := f.svc.CheckStatus(context.Background(), CheckStatusInput{AccountID: account.ID, PaymentID: "pay_5"})
	assert.NoError(t, err)
}

func TestConcurrentSettlementCreditsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)
	input := SettlementInput{
		PaymentID:   "pay_concurrent",
		AccountID:   account.ID,
		AmountCents: 2000,
		BillingType: enums.BillingTypePix,
		Source:      SourceWebhook,
	}

	var wg sync.WaitGroup
	results := make([]*SettlementResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Settle(context.Background(), input)
		}(i)
	}
	wg.Wait()

	settled := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Settled {
			settled++
		} else {
			assert.True(t, results[i].Duplicate)
		}
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, int64(2000), dbtest.Balance(t, f.client, account.ID))
	assert.Equal(t, int64(2000), dbtest.TransactionSum(t, f.client, account.ID))
}

func TestSettleValidatesInput(t *testing.T) {
	f := newFixture(t)
	account := dbtest.SeedAccount(t, f.client, enums.AccountRoleUser, 0)

	_, err := f.svc.Settle(context.Background(), SettlementInput{AccountID: account.ID, AmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Settle(context.Background(), SettlementInput{PaymentID: "pay_x", AccountID: account.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}

func TestSettleUnknownAccountRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Settle(context.Background(), SettlementInput{PaymentID: "pay_ghost", AccountID: uuid.New(), AmountCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, int64(0), dbtest.CountOutbox(t, f.client, enums.EventDepositSettled))
}
