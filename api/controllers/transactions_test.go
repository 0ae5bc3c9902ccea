package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/api/middleware"
	"github.com/swapdesk/swapdesk-backend/internal/escrow"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
)

type testEscrowService struct {
	initiateFn       func(ctx context.Context, buyerID, listingID uuid.UUID) (*escrow.TransactionDTO, error)
	confirmPaymentFn func(ctx context.Context, transactionID uuid.UUID, reference string) (*escrow.TransactionDTO, error)
	signFn           func(ctx context.Context, transactionID, buyerID uuid.UUID, signedName string) (*escrow.TransactionDTO, error)
	revealFn         func(ctx context.Context, transactionID, buyerID uuid.UUID, password string) (*escrow.RevealResultDTO, error)
	confirmAccessFn  func(ctx context.Context, transactionID, buyerID uuid.UUID) (*escrow.TransactionDTO, error)
	getFn            func(ctx context.Context, transactionID uuid.UUID) (*escrow.TransactionDTO, error)
	listByBuyerFn    func(ctx context.Context, buyerID uuid.UUID) ([]escrow.TransactionDTO, error)
	listFn           func(ctx context.Context, state *enums.TransactionState, limit int) ([]escrow.TransactionDTO, error)
}

func (s *testEscrowService) Initiate(ctx context.Context, buyerID, listingID uuid.UUID) (*escrow.TransactionDTO, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, buyerID, listingID)
	}
	return &escrow.TransactionDTO{}, nil
}

func (s *testEscrowService) ConfirmPayment(ctx context.Context, transactionID uuid.UUID, reference string) (*escrow.TransactionDTO, error) {
	if s.confirmPaymentFn != nil {
		return s.confirmPaymentFn(ctx, transactionID, reference)
	}
	return &escrow.TransactionDTO{}, nil
}

func (s *testEscrowService) SignContract(ctx context.Context, transactionID, buyerID uuid.UUID, signedName string) (*escrow.TransactionDTO, error) {
	if s.signFn != nil {
		return s.signFn(ctx, transactionID, buyerID, signedName)
	}
	return &escrow.TransactionDTO{}, nil
}

func (s *testEscrowService) Reveal(ctx context.Context, transactionID, buyerID uuid.UUID, password string) (*escrow.RevealResultDTO, error) {
	if s.revealFn != nil {
		return s.revealFn(ctx, transactionID, buyerID, password)
	}
	return &escrow.RevealResultDTO{}, nil
}

func (s *testEscrowService) ConfirmAccess(ctx context.Context, transactionID, buyerID uuid.UUID) (*escrow.TransactionDTO, error) {
	if s.confirmAccessFn != nil {
		return s.confirmAccessFn(ctx, transactionID, buyerID)
	}
	return &escrow.TransactionDTO{}, nil
}

func (s *testEscrowService) Get(ctx context.Context, transactionID uuid.UUID) (*escrow.TransactionDTO, error) {
	if s.getFn != nil {
		return s.getFn(ctx, transactionID)
	}
	return &escrow.TransactionDTO{}, nil
}

func (s *testEscrowService) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]escrow.TransactionDTO, error) {
	if s.listByBuyerFn != nil {
		return s.listByBuyerFn(ctx, buyerID)
	}
	return nil, nil
}

func (s *testEscrowService) List(ctx context.Context, state *enums.TransactionState, limit int) ([]escrow.TransactionDTO, error) {
	if s.listFn != nil {
		return s.listFn(ctx, state, limit)
	}
	return nil, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func authedRequest(method, target string, body []byte, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func TestTransactionInitiateSuccess(t *testing.T) {
	buyerID := uuid.New()
	listingID := uuid.New()
	called := false
	svc := &testEscrowService{
		initiateFn: func(ctx context.Context, bid, lid uuid.UUID) (*escrow.TransactionDTO, error) {
			called = true
			if bid != buyerID {
				t.Fatalf("unexpected buyer %s", bid)
			}
			if lid != listingID {
				t.Fatalf("unexpected listing %s", lid)
			}
			return &escrow.TransactionDTO{ID: uuid.New(), State: enums.TransactionStatePending}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"listing_id": listingID.String()})
	req := authedRequest(http.MethodPost, "/api/v1/transactions", body, buyerID)
	resp := httptest.NewRecorder()
	TransactionInitiate(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
}

func TestTransactionInitiateMissingAuth(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"listing_id": uuid.NewString()})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	TransactionInitiate(&testEscrowService{}, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestTransactionInitiateMissingListing(t *testing.T) {
	req := authedRequest(http.MethodPost, "/api/v1/transactions", []byte(`{}`), uuid.New())
	resp := httptest.NewRecorder()
	TransactionInitiate(&testEscrowService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransactionConfirmPaymentInvalidID(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"payment_reference": "ps_ref_1"})
	req := authedRequest(http.MethodPost, "/api/v1/transactions/bad/payment", body, uuid.New())
	req = addRouteParam(req, "transactionId", "bad")
	resp := httptest.NewRecorder()
	TransactionConfirmPayment(&testEscrowService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransactionSignPassesName(t *testing.T) {
	buyerID := uuid.New()
	transactionID := uuid.New()
	svc := &testEscrowService{
		signFn: func(ctx context.Context, tid, bid uuid.UUID, signedName string) (*escrow.TransactionDTO, error) {
			if tid != transactionID || bid != buyerID {
				t.Fatalf("unexpected ids %s %s", tid, bid)
			}
			if signedName != "Ada Lovelace" {
				t.Fatalf("unexpected name %q", signedName)
			}
			return &escrow.TransactionDTO{ID: tid, State: enums.TransactionStateContractSigned}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"signed_name": "Ada Lovelace"})
	req := authedRequest(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/sign", body, buyerID)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	TransactionSignContract(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}

func TestTransactionRevealNeverCached(t *testing.T) {
	buyerID := uuid.New()
	transactionID := uuid.New()
	svc := &testEscrowService{
		revealFn: func(ctx context.Context, tid, bid uuid.UUID, password string) (*escrow.RevealResultDTO, error) {
			return &escrow.RevealResultDTO{TransactionID: tid, Username: "seller@ex.com", Password: "hunter2"}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"password": "correct-horse"})
	req := authedRequest(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/reveal", body, buyerID)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	TransactionReveal(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got := resp.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store got %q", got)
	}
}

func TestTransactionRevealAlreadyRevealed(t *testing.T) {
	svc := &testEscrowService{
		revealFn: func(ctx context.Context, tid, bid uuid.UUID, password string) (*escrow.RevealResultDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeAlreadyRevealed, "credentials already revealed")
		},
	}

	transactionID := uuid.New()
	body, _ := json.Marshal(map[string]string{"password": "correct-horse"})
	req := authedRequest(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/reveal", body, uuid.New())
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	TransactionReveal(svc, testLogger())(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Retryable bool `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Error.Retryable {
		t.Fatal("reveal conflict must not be retryable")
	}
}

func TestTransactionDetailForbiddenForStranger(t *testing.T) {
	transactionID := uuid.New()
	svc := &testEscrowService{
		getFn: func(ctx context.Context, tid uuid.UUID) (*escrow.TransactionDTO, error) {
			return &escrow.TransactionDTO{ID: tid, BuyerID: uuid.New(), SellerID: uuid.New()}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/transactions/"+transactionID.String(), nil, uuid.New())
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	TransactionDetail(svc, testLogger())(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestTransactionDetailVisibleToSeller(t *testing.T) {
	sellerID := uuid.New()
	transactionID := uuid.New()
	svc := &testEscrowService{
		getFn: func(ctx context.Context, tid uuid.UUID) (*escrow.TransactionDTO, error) {
			return &escrow.TransactionDTO{ID: tid, BuyerID: uuid.New(), SellerID: sellerID}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/v1/transactions/"+transactionID.String(), nil, sellerID)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	TransactionDetail(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
}

func TestAdminTransactionListStateFilter(t *testing.T) {
	var gotState *enums.TransactionState
	svc := &testEscrowService{
		listFn: func(ctx context.Context, state *enums.TransactionState, limit int) ([]escrow.TransactionDTO, error) {
			gotState = state
			if limit != 50 {
				t.Fatalf("expected default limit 50 got %d", limit)
			}
			return []escrow.TransactionDTO{}, nil
		},
	}

	req := authedRequest(http.MethodGet, "/api/admin/v1/transactions?state=disputed", nil, uuid.New())
	resp := httptest.NewRecorder()
	AdminTransactionList(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if gotState == nil || *gotState != enums.TransactionStateDisputed {
		t.Fatalf("expected disputed filter got %v", gotState)
	}
}

func TestAdminTransactionListRejectsUnknownState(t *testing.T) {
	req := authedRequest(http.MethodGet, "/api/admin/v1/transactions?state=limbo", nil, uuid.New())
	resp := httptest.NewRecorder()
	AdminTransactionList(&testEscrowService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}
