package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	internalorders "github.com/angelmondragon/coinmarket-backend/internal/orders"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
	"github.com/angelmondragon/coinmarket-backend/pkg/types"
)

type stubOrders struct {
	created     *internalorders.CreateOrderInput
	updated     *internalorders.UpdateStatusInput
	rated       *internalorders.RateInput
	perspective string
	params      pagination.Params
	err         error
}

func (s *stubOrders) CreateOrder(_ context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
	s.created = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{
		ID:              uuid.New(),
		BuyerAccountID:  input.BuyerAccountID,
		SellerID:        input.SellerID,
		Quantity:        input.Quantity,
		TotalPriceCents: 1000,
		DeliveryMethod:  input.DeliveryMethod,
		CharacterName:   input.CharacterName,
		Status:          enums.OrderStatusPending,
	}, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, input internalorders.UpdateStatusInput) (*models.Order, error) {
	s.updated = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: input.OrderID, Status: input.Status}, nil
}

func (s *stubOrders) RateOrder(_ context.Context, input internalorders.RateInput) (*models.OrderRating, error) {
	s.rated = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.OrderRating{ID: uuid.New(), OrderID: input.OrderID, Score: input.Score}, nil
}

func (s *stubOrders) Get(_ context.Context, _ types.Actor, orderID uuid.UUID) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: orderID}, nil
}

func (s *stubOrders) ListForBuyer(_ context.Context, _ uuid.UUID, params pagination.Params) (*internalorders.OrderList, error) {
	s.perspective = "buyer"
	s.params = params
	return &internalorders.OrderList{Orders: []models.Order{{ID: uuid.New()}}}, nil
}

func (s *stubOrders) ListForSeller(_ context.Context, _ uuid.UUID, params pagination.Params) (*internalorders.OrderList, error) {
	s.perspective = "seller"
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &internalorders.OrderList{}, nil
}

func TestCreateOrderHandler(t *testing.T) {
	svc := &stubOrders{}
	actor := userActor()
	sellerID := uuid.New()
	payload := `{"seller_id":"` + sellerID.String() + `","quantity":2000,"delivery_method":"in_game_mail","character_name":"  Thrall  "}`

	rec := httptest.NewRecorder()
	CreateOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/orders", body(payload), actor, nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.created.BuyerAccountID != actor.AccountID || svc.created.SellerID != sellerID {
		t.Fatalf("unexpected input %+v", svc.created)
	}
	if svc.created.CharacterName != "Thrall" {
		t.Fatalf("expected trimmed character name, got %q", svc.created.CharacterName)
	}
	var view orderView
	decodeData(t, rec, &view)
	if view.TotalPrice != "10.00" || view.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCreateOrderRejectsUnknownDeliveryMethod(t *testing.T) {
	svc := &stubOrders{}
	payload := `{"seller_id":"` + uuid.NewString() + `","quantity":2000,"delivery_method":"carrier_pigeon","character_name":"x"}`
	rec := httptest.NewRecorder()
	CreateOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/orders", body(payload), userActor(), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.created != nil {
		t.Fatal("service should not run")
	}
}

func TestCreateOrderSurfacesInsufficientBalance(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeInsufficientBalance, "balance too low")}
	payload := `{"seller_id":"` + uuid.NewString() + `","quantity":2000,"delivery_method":"face_to_face","character_name":"x"}`
	rec := httptest.NewRecorder()
	CreateOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/orders", body(payload), userActor(), nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeInsufficientBalance) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestListOrdersPerspective(t *testing.T) {
	svc := &stubOrders{}
	rec := httptest.NewRecorder()
	ListOrders(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/orders?as=seller&limit=5", nil, userActor(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.perspective != "seller" || svc.params.Limit != 5 {
		t.Fatalf("unexpected routing %s %+v", svc.perspective, svc.params)
	}

	rec = httptest.NewRecorder()
	ListOrders(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/orders", nil, userActor(), nil))
	if svc.perspective != "buyer" {
		t.Fatalf("expected buyer default, got %s", svc.perspective)
	}
	var view orderListView
	decodeData(t, rec, &view)
	if len(view.Orders) != 1 {
		t.Fatalf("expected one order, got %d", len(view.Orders))
	}

	rec = httptest.NewRecorder()
	ListOrders(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/orders?as=admin", nil, userActor(), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestListOrdersAsSellerWithoutRegistration(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeNotASeller, "no seller")}
	rec := httptest.NewRecorder()
	ListOrders(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/orders?as=seller", nil, userActor(), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestUpdateOrderStatusHandler(t *testing.T) {
	svc := &stubOrders{}
	actor := &types.Actor{AccountID: uuid.New(), Role: enums.AccountRoleSeller}
	orderID := uuid.New()

	rec := httptest.NewRecorder()
	UpdateOrderStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodPatch, "/", body(`{"status":"completed"}`), actor, map[string]string{"orderId": orderID.String()}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.updated.OrderID != orderID || svc.updated.Status != enums.OrderStatusCompleted || svc.updated.Actor != *actor {
		t.Fatalf("unexpected input %+v", svc.updated)
	}

	rec = httptest.NewRecorder()
	UpdateOrderStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodPatch, "/", body(`{"status":"shipped"}`), actor, map[string]string{"orderId": orderID.String()}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status got %d", rec.Code)
	}
}

func TestUpdateOrderStatusConflict(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed")}
	rec := httptest.NewRecorder()
	UpdateOrderStatus(svc, nil).ServeHTTP(rec, newRequest(http.MethodPatch, "/", body(`{"status":"pending"}`), userActor(), map[string]string{"orderId": uuid.NewString()}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func TestRateOrderHandler(t *testing.T) {
	svc := &stubOrders{}
	orderID := uuid.New()
	rec := httptest.NewRecorder()
	RateOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", body(`{"score":5,"comment":"fast"}`), userActor(), map[string]string{"orderId": orderID.String()}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if svc.rated.Score != 5 || svc.rated.Comment == nil || *svc.rated.Comment != "fast" {
		t.Fatalf("unexpected input %+v", svc.rated)
	}

	svc = &stubOrders{}
	rec = httptest.NewRecorder()
	RateOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", body(`{"score":6}`), userActor(), map[string]string{"orderId": orderID.String()}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.rated != nil {
		t.Fatal("service should not run for an out of range score")
	}
}

func TestGetOrderNotVisible(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	rec := httptest.NewRecorder()
	GetOrder(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", nil, userActor(), map[string]string{"orderId": uuid.NewString()}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
