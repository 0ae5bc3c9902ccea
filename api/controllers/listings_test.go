package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/internal/listings"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

type testListingsService struct {
	createFn     func(ctx context.Context, sellerID uuid.UUID, req listings.CreateListingRequest) (*listings.ListingDTO, error)
	reviewFn     func(ctx context.Context, listingID uuid.UUID, req listings.ReviewRequest) (*listings.ListingDTO, error)
	getFn        func(ctx context.Context, listingID uuid.UUID) (*listings.ListingDTO, error)
	listMarketFn func(ctx context.Context, limit int) ([]listings.ListingDTO, error)
	listMineFn   func(ctx context.Context, sellerID uuid.UUID) ([]listings.ListingDTO, error)
}

func (s *testListingsService) Create(ctx context.Context, sellerID uuid.UUID, req listings.CreateListingRequest) (*listings.ListingDTO, error) {
	if s.createFn != nil {
		return s.createFn(ctx, sellerID, req)
	}
	return &listings.ListingDTO{}, nil
}

func (s *testListingsService) Review(ctx context.Context, listingID uuid.UUID, req listings.ReviewRequest) (*listings.ListingDTO, error) {
	if s.reviewFn != nil {
		return s.reviewFn(ctx, listingID, req)
	}
	return &listings.ListingDTO{}, nil
}

func (s *testListingsService) Get(ctx context.Context, listingID uuid.UUID) (*listings.ListingDTO, error) {
	if s.getFn != nil {
		return s.getFn(ctx, listingID)
	}
	return &listings.ListingDTO{}, nil
}

func (s *testListingsService) ListMarket(ctx context.Context, limit int) ([]listings.ListingDTO, error) {
	if s.listMarketFn != nil {
		return s.listMarketFn(ctx, limit)
	}
	return nil, nil
}

func (s *testListingsService) ListMine(ctx context.Context, sellerID uuid.UUID) ([]listings.ListingDTO, error) {
	if s.listMineFn != nil {
		return s.listMineFn(ctx, sellerID)
	}
	return nil, nil
}

func TestListingCreateSuccess(t *testing.T) {
	sellerID := uuid.New()
	svc := &testListingsService{
		createFn: func(ctx context.Context, sid uuid.UUID, req listings.CreateListingRequest) (*listings.ListingDTO, error) {
			if sid != sellerID {
				t.Fatalf("unexpected seller %s", sid)
			}
			if req.Platform != "upwork" || req.PriceCents != 250000 {
				t.Fatalf("unexpected request %+v", req)
			}
			if req.Credentials.Username != "acct@example.com" {
				t.Fatalf("unexpected credentials %+v", req.Credentials)
			}
			if req.SellerPassword != "seller-own-pass" {
				t.Fatalf("unexpected seller password %q", req.SellerPassword)
			}
			return &listings.ListingDTO{ID: uuid.New(), SellerID: sid, State: enums.ListingStatePendingReview}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{
		"platform":        "upwork",
		"title":           "Top Rated Plus profile",
		"price_cents":     250000,
		"seller_password": "seller-own-pass",
		"credentials": map[string]string{
			"username": "acct@example.com",
			"password": "s3cret",
		},
	})
	req := authedRequest(http.MethodPost, "/api/v1/listings", body, sellerID)
	resp := httptest.NewRecorder()
	ListingCreate(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestListingCreateMissingCredentials(t *testing.T) {
	body, _ := json.Marshal(map[string]any{
		"platform":    "upwork",
		"title":       "Profile",
		"price_cents": 1000,
	})
	req := authedRequest(http.MethodPost, "/api/v1/listings", body, uuid.New())
	resp := httptest.NewRecorder()
	ListingCreate(&testListingsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListingMarketClampsLimit(t *testing.T) {
	svc := &testListingsService{
		listMarketFn: func(ctx context.Context, limit int) ([]listings.ListingDTO, error) {
			if limit != 200 {
				t.Fatalf("expected clamp to 200 got %d", limit)
			}
			return []listings.ListingDTO{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/market?limit=200", nil)
	resp := httptest.NewRecorder()
	ListingMarket(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}

func TestListingDetailNotFound(t *testing.T) {
	svc := &testListingsService{
		getFn: func(ctx context.Context, listingID uuid.UUID) (*listings.ListingDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		},
	}

	listingID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/"+listingID.String(), nil)
	req = addRouteParam(req, "listingId", listingID.String())
	resp := httptest.NewRecorder()
	ListingDetail(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestAdminListingReviewApprove(t *testing.T) {
	listingID := uuid.New()
	svc := &testListingsService{
		reviewFn: func(ctx context.Context, lid uuid.UUID, req listings.ReviewRequest) (*listings.ListingDTO, error) {
			if lid != listingID {
				t.Fatalf("unexpected listing %s", lid)
			}
			if !req.Approve {
				t.Fatal("expected approval")
			}
			return &listings.ListingDTO{ID: lid, State: enums.ListingStateApproved}, nil
		},
	}

	body, _ := json.Marshal(map[string]any{"approve": true})
	req := authedRequest(http.MethodPost, "/api/admin/v1/listings/"+listingID.String()+"/review", body, uuid.New())
	req = addRouteParam(req, "listingId", listingID.String())
	resp := httptest.NewRecorder()
	AdminListingReview(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
}
