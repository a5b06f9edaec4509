package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/coinmarket-backend/internal/deposits"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
)

type stubDeposits struct {
	created *deposits.CreateDepositInput
	checked *deposits.CheckStatusInput
	err     error
}

func (s *stubDeposits) CreateDeposit(_ context.Context, input deposits.CreateDepositInput) (*deposits.DepositResult, error) {
	s.created = &input
	if s.err != nil {
		return nil, s.err
	}
	return &deposits.DepositResult{PaymentID: "pay_1", Status: enums.GatewayPaymentStatusPending, AmountCents: input.AmountCents, BillingType: input.BillingType}, nil
}

func (s *stubDeposits) CheckStatus(_ context.Context, input deposits.CheckStatusInput) (*deposits.StatusResult, error) {
	s.checked = &input
	if s.err != nil {
		return nil, s.err
	}
	return &deposits.StatusResult{PaymentID: input.PaymentID, Status: enums.GatewayPaymentStatusReceived, Credited: true}, nil
}

func TestCreateDepositUsesSessionAccount(t *testing.T) {
	svc := &stubDeposits{}
	actor := userActor()
	rec := httptest.NewRecorder()
	CreateDeposit(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/deposits", body(`{"amount":"20.00","tax_id":"12345678909"}`), actor, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.created.AccountID != actor.AccountID {
		t.Fatalf("expected session account, got %s", svc.created.AccountID)
	}
	if svc.created.AmountCents != 2000 {
		t.Fatalf("expected 2000 cents, got %d", svc.created.AmountCents)
	}
	if svc.created.BillingType != enums.BillingTypePix {
		t.Fatalf("expected PIX default, got %s", svc.created.BillingType)
	}
	var result deposits.DepositResult
	decodeData(t, rec, &result)
	if result.PaymentID != "pay_1" {
		t.Fatalf("unexpected payload %+v", result)
	}
}

func TestCreateDepositRejectsBodyAccount(t *testing.T) {
	svc := &stubDeposits{}
	rec := httptest.NewRecorder()
	CreateDeposit(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/deposits", body(`{"amount":"20.00","account_id":"someone-else"}`), userActor(), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.created != nil {
		t.Fatal("service must not run for a body carrying an account id")
	}
}

func TestCreateDepositRejectsBadAmounts(t *testing.T) {
	for _, raw := range []string{`{"amount":"20.001"}`, `{"amount":"-5"}`, `{"amount":0}`} {
		svc := &stubDeposits{}
		rec := httptest.NewRecorder()
		CreateDeposit(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/deposits", body(raw), userActor(), nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", raw, rec.Code)
		}
		if svc.created != nil {
			t.Fatalf("%s: service should not be called", raw)
		}
	}
}

func TestDepositStatusPassesOwnerAndPayment(t *testing.T) {
	svc := &stubDeposits{}
	actor := userActor()
	rec := httptest.NewRecorder()
	DepositStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/deposits/pay_9/status", nil, actor, map[string]string{"paymentId": "pay_9"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.checked.AccountID != actor.AccountID || svc.checked.PaymentID != "pay_9" {
		t.Fatalf("unexpected input %+v", svc.checked)
	}
}

func TestDepositStatusForeignPayment(t *testing.T) {
	svc := &stubDeposits{err: pkgerrors.New(pkgerrors.CodeForbidden, "payment belongs to another account")}
	rec := httptest.NewRecorder()
	DepositStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", nil, userActor(), map[string]string{"paymentId": "pay_9"}))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
