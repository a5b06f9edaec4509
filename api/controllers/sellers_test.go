package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/coinmarket-backend/internal/sellers"
	"github.com/angelmondragon/coinmarket-backend/pkg/db/models"
	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
	"github.com/angelmondragon/coinmarket-backend/pkg/pagination"
)

type stubSellers struct {
	registered *sellers.RegisterInput
	updated    *sellers.UpdateListingInput
	err        error
}

func (s *stubSellers) Register(_ context.Context, input sellers.RegisterInput) (*models.Seller, error) {
	s.registered = &input
	if s.err != nil {
		return nil, s.err
	}
	methods := make([]string, 0, len(input.DeliveryMethods))
	for _, m := range input.DeliveryMethods {
		methods = append(methods, string(m))
	}
	return &models.Seller{
		ID:                  uuid.New(),
		AccountID:           input.AccountID,
		DisplayName:         input.DisplayName,
		UnitPricePer1kCents: input.UnitPricePer1kCents,
		MinQuantity:         input.MinQuantity,
		MaxQuantity:         input.MaxQuantity,
		DeliveryMethods:     methods,
		IsActive:            true,
	}, nil
}

func (s *stubSellers) UpdateListing(_ context.Context, input sellers.UpdateListingInput) (*models.Seller, error) {
	s.updated = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Seller{ID: uuid.New(), AccountID: input.AccountID}, nil
}

func (s *stubSellers) Get(_ context.Context, sellerID uuid.UUID) (*models.Seller, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Seller{ID: sellerID, RatingSum: 9, RatingCount: 2}, nil
}

func (s *stubSellers) GetByAccount(_ context.Context, accountID uuid.UUID) (*models.Seller, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Seller{ID: uuid.New(), AccountID: accountID}, nil
}

func (s *stubSellers) ListActive(_ context.Context, _ pagination.Params) (*sellers.SellerList, error) {
	return &sellers.SellerList{Sellers: []models.Seller{{ID: uuid.New(), IsActive: true}}}, nil
}

func TestRegisterSellerHandler(t *testing.T) {
	svc := &stubSellers{}
	actor := userActor()
	payload := `{"display_name":"Goldsmith","unit_price_per_1k":"12.50","min_quantity":1000,"max_quantity":50000,"delivery_methods":["in_game_mail","face_to_face"]}`

	rec := httptest.NewRecorder()
	RegisterSeller(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/sellers", body(payload), actor, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.registered.AccountID != actor.AccountID || svc.registered.UnitPricePer1kCents != 1250 {
		t.Fatalf("unexpected input %+v", svc.registered)
	}
	if len(svc.registered.DeliveryMethods) != 2 || svc.registered.DeliveryMethods[1] != enums.DeliveryMethodFaceToFace {
		t.Fatalf("unexpected delivery methods %v", svc.registered.DeliveryMethods)
	}
	var view sellerView
	decodeData(t, rec, &view)
	if view.UnitPricePer1k != "12.50" || !view.IsActive {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestRegisterSellerRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown method": `{"display_name":"x","unit_price_per_1k":"1.00","min_quantity":1,"max_quantity":2,"delivery_methods":["teleport"]}`,
		"sub cent price": `{"display_name":"x","unit_price_per_1k":"1.005","min_quantity":1,"max_quantity":2,"delivery_methods":["in_game_mail"]}`,
		"no methods":     `{"display_name":"x","unit_price_per_1k":"1.00","min_quantity":1,"max_quantity":2,"delivery_methods":[]}`,
	}
	for name, payload := range cases {
		svc := &stubSellers{}
		rec := httptest.NewRecorder()
		RegisterSeller(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/sellers", body(payload), userActor(), nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, rec.Code)
		}
		if svc.registered != nil {
			t.Fatalf("%s: service should not run", name)
		}
	}
}

func TestRegisterSellerConflict(t *testing.T) {
	svc := &stubSellers{err: pkgerrors.New(pkgerrors.CodeConflict, "seller already registered")}
	payload := `{"display_name":"x","unit_price_per_1k":"1.00","min_quantity":1,"max_quantity":2,"delivery_methods":["in_game_mail"]}`
	rec := httptest.NewRecorder()
	RegisterSeller(svc, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/sellers", body(payload), userActor(), nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestUpdateSellerListingPartial(t *testing.T) {
	svc := &stubSellers{}
	rec := httptest.NewRecorder()
	UpdateSellerListing(svc, nil).ServeHTTP(rec, newRequest(http.MethodPatch, "/api/v1/sellers/me", body(`{"unit_price_per_1k":"9.99","is_active":false}`), userActor(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.updated.UnitPricePer1kCents == nil || *svc.updated.UnitPricePer1kCents != 999 {
		t.Fatalf("expected price 999, got %v", svc.updated.UnitPricePer1kCents)
	}
	if svc.updated.IsActive == nil || *svc.updated.IsActive {
		t.Fatal("expected listing to be deactivated")
	}
	if svc.updated.DisplayName != nil || svc.updated.DeliveryMethods != nil {
		t.Fatalf("expected untouched fields to stay nil, got %+v", svc.updated)
	}
}

func TestMySellerNotRegistered(t *testing.T) {
	svc := &stubSellers{err: pkgerrors.New(pkgerrors.CodeNotASeller, "no seller")}
	rec := httptest.NewRecorder()
	MySeller(svc, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/sellers/me", nil, userActor(), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestGetSellerIncludesAverageRating(t *testing.T) {
	id := uuid.New()
	rec := httptest.NewRecorder()
	GetSeller(&stubSellers{}, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", nil, userActor(), map[string]string{"sellerId": id.String()}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var view sellerView
	decodeData(t, rec, &view)
	if view.ID != id || view.AverageRating != 4.5 || view.RatingCount != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestListSellersHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	ListSellers(&stubSellers{}, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/sellers", nil, userActor(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var view sellerListView
	decodeData(t, rec, &view)
	if len(view.Sellers) != 1 {
		t.Fatalf("expected one seller, got %d", len(view.Sellers))
	}
}
