package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/ledger"
	asaaswebhook "github.com/angelmondragon/coinmarket-backend/internal/webhooks/asaas"
	pkgAuth "github.com/angelmondragon/coinmarket-backend/pkg/auth"
	"github.com/angelmondragon/coinmarket-backend/pkg/config"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	"github.com/angelmondragon/coinmarket-backend/pkg/logger"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubSessions struct {
	revoked map[string]bool
}

func (s *stubSessions) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	return s.revoked[tokenID], nil
}

func (s *stubSessions) Revoke(_ context.Context, tokenID string) error {
	if s.revoked == nil {
		s.revoked = map[string]bool{}
	}
	s.revoked[tokenID] = true
	return nil
}

type stubLedgerService struct {
	reconciled uuid.UUID
}

func (stubLedgerService) Balance(_ context.Context, accountID uuid.UUID) (*ledger.BalanceView, error) {
	return &ledger.BalanceView{AccountID: accountID, BalanceCents: 500, Balance: "5.00"}, nil
}

func (stubLedgerService) History(context.Context, uuid.UUID, pagination.Params) (*ledger.TransactionList, error) {
	return &ledger.TransactionList{}, nil
}

func (s *stubLedgerService) Reconcile(_ context.Context, accountID uuid.UUID) (*ledger.Reconciliation, error) {
	s.reconciled = accountID
	return &ledger.Reconciliation{AccountID: accountID, Balanced: true}, nil
}

func (stubLedgerService) Credit(context.Context, ledger.Entry) (*models.Transaction, error) {
	return nil, nil
}

func (stubLedgerService) Debit(context.Context, ledger.Entry) (*models.Transaction, error) {
	return nil, nil
}

func (stubLedgerService) Transfer(context.Context, ledger.Transfer) (*models.Transaction, *models.Transaction, error) {
	return nil, nil, nil
}

type stubGateway struct {
	events int
}

func (s *stubGateway) HandleEvent(context.Context, *asaaswebhook.Event) (asaaswebhook.Outcome, error) {
	s.events++
	return asaaswebhook.OutcomeIgnored, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
		Asaas: config.AsaasConfig{WebhookToken: "hook-token"},
	}
}

func newTestRouter(cfg *config.Config, deps Dependencies) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	if deps.DB == nil {
		deps.DB = stubPinger{}
	}
	if deps.Sessions == nil {
		deps.Sessions = &stubSessions{}
	}
	return NewRouter(cfg, logg, deps)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.AccountRole, jti string) string {
	t.Helper()
	payload := pkgAuth.AccessTokenPayload{
		AccountID: uuid.New(),
		Role:      role,
		JTI:       jti,
	}
	if role == enums.AccountRoleSeller {
		sellerID := uuid.New()
		payload.SellerID = &sellerID
	}
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthRoutes(t *testing.T) {
	router := newTestRouter(testConfig(), Dependencies{})

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestMetricsRouteMountedWhenProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP"))
	})
	router := newTestRouter(testConfig(), Dependencies{Metrics: metrics})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.HasPrefix(resp.Body.String(), "# HELP") {
		t.Fatalf("expected metrics output, got %d %q", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	newTestRouter(testConfig(), Dependencies{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler got %d", resp.Code)
	}
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig(), Dependencies{Ledger: &stubLedgerService{}})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balance", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestAPIServesAuthenticatedBalance(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, Dependencies{Ledger: &stubLedgerService{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balance", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.AccountRoleUser, "jti-1"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data ledger.BalanceView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Balance != "5.00" {
		t.Fatalf("unexpected balance %+v", envelope.Data)
	}
}

func TestLogoutRevokesSessionForLaterRequests(t *testing.T) {
	cfg := testConfig()
	sessions := &stubSessions{}
	router := newTestRouter(cfg, Dependencies{Ledger: &stubLedgerService{}, Sessions: sessions})
	token := buildToken(t, cfg, enums.AccountRoleUser, "jti-logout")

	logout := httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil)
	logout.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, logout)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for logout got %d", resp.Code)
	}

	again := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balance", nil)
	again.Header.Set("Authorization", "Bearer "+token)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, again)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout got %d", resp.Code)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	ledgerSvc := &stubLedgerService{}
	router := newTestRouter(cfg, Dependencies{Ledger: ledgerSvc})
	target := uuid.New()
	path := "/api/v1/admin/accounts/" + target.String() + "/reconcile"

	user := httptest.NewRequest(http.MethodPost, path, nil)
	user.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.AccountRoleSeller, "jti-seller"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, user)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	admin := httptest.NewRequest(http.MethodPost, path, nil)
	admin.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.AccountRoleAdmin, "jti-admin"))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, admin)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d (%s)", resp.Code, resp.Body.String())
	}
	if ledgerSvc.reconciled != target {
		t.Fatalf("expected reconcile of %s, got %s", target, ledgerSvc.reconciled)
	}
}

func TestUnwiredServiceAnswersInternalError(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.AccountRoleUser, "jti-orders"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unwired service got %d", resp.Code)
	}
}

func TestWebhookRouteIsPublicButTokenChecked(t *testing.T) {
	gateway := &stubGateway{}
	router := newTestRouter(testConfig(), Dependencies{PaymentGateway: gateway})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment-gateway", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without gateway token got %d", resp.Code)
	}
	if gateway.events != 0 {
		t.Fatal("unauthenticated delivery must not reach the service")
	}
}
