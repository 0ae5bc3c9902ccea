package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/api/middleware"
	"github.com/swapdesk/swapdesk-backend/internal/disputes"
	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
)

type testDisputesService struct {
	raiseFn        func(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error)
	forceReleaseFn func(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error)
	forceRefundFn  func(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error)
	auditTrailFn   func(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEntry, error)
}

func (s *testDisputesService) Raise(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
	if s.raiseFn != nil {
		return s.raiseFn(ctx, transactionID, actor, reason)
	}
	return &disputes.ResolutionDTO{}, nil
}

func (s *testDisputesService) ForceRelease(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
	if s.forceReleaseFn != nil {
		return s.forceReleaseFn(ctx, transactionID, actor, reason)
	}
	return &disputes.ResolutionDTO{}, nil
}

func (s *testDisputesService) ForceRefund(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
	if s.forceRefundFn != nil {
		return s.forceRefundFn(ctx, transactionID, actor, reason)
	}
	return &disputes.ResolutionDTO{}, nil
}

func (s *testDisputesService) AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]models.AuditEntry, error) {
	if s.auditTrailFn != nil {
		return s.auditTrailFn(ctx, transactionID)
	}
	return nil, nil
}

func disputeRequestWithRole(method, target string, body []byte, userID uuid.UUID, role enums.UserRole) *http.Request {
	req := authedRequest(method, target, body, userID)
	return req.WithContext(middleware.WithRole(req.Context(), role.String()))
}

func TestDisputeRaiseSuccess(t *testing.T) {
	buyerID := uuid.New()
	transactionID := uuid.New()
	svc := &testDisputesService{
		raiseFn: func(ctx context.Context, tid uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
			if tid != transactionID {
				t.Fatalf("unexpected transaction %s", tid)
			}
			if actor.ID != buyerID || actor.Role != enums.UserRoleBuyer {
				t.Fatalf("unexpected actor %+v", actor)
			}
			if reason != "seller changed the password after reveal" {
				t.Fatalf("unexpected reason %q", reason)
			}
			return &disputes.ResolutionDTO{TransactionID: tid, State: enums.TransactionStateDisputed, Reason: reason}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"reason": "seller changed the password after reveal"})
	req := disputeRequestWithRole(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/dispute", body, buyerID, enums.UserRoleBuyer)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	DisputeRaise(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
}

func TestDisputeRaiseMissingRole(t *testing.T) {
	transactionID := uuid.New()
	body, _ := json.Marshal(map[string]string{"reason": "something went wrong here"})
	req := authedRequest(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/dispute", body, uuid.New())
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	DisputeRaise(&testDisputesService{}, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestDisputeRaiseShortReasonPropagates(t *testing.T) {
	transactionID := uuid.New()
	svc := &testDisputesService{
		raiseFn: func(ctx context.Context, tid uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
			return nil, pkgerrors.New(pkgerrors.CodeReasonTooShort, "reason too short")
		},
	}

	body, _ := json.Marshal(map[string]string{"reason": "bad"})
	req := disputeRequestWithRole(http.MethodPost, "/api/v1/transactions/"+transactionID.String()+"/dispute", body, uuid.New(), enums.UserRoleBuyer)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	DisputeRaise(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminForceRefundPassesActor(t *testing.T) {
	adminID := uuid.New()
	transactionID := uuid.New()
	called := false
	svc := &testDisputesService{
		forceRefundFn: func(ctx context.Context, tid uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error) {
			called = true
			if actor.Role != enums.UserRoleAdmin {
				t.Fatalf("unexpected role %s", actor.Role)
			}
			if actor.ID != adminID {
				t.Fatalf("unexpected admin %s", actor.ID)
			}
			return &disputes.ResolutionDTO{TransactionID: tid, State: enums.TransactionStateRefunded, Reason: reason}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"reason": "buyer never received working credentials"})
	req := disputeRequestWithRole(http.MethodPost, "/api/admin/v1/transactions/"+transactionID.String()+"/force-refund", body, adminID, enums.UserRoleAdmin)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	AdminForceRefund(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
}

func TestAdminAuditTrailReturnsEntries(t *testing.T) {
	transactionID := uuid.New()
	svc := &testDisputesService{
		auditTrailFn: func(ctx context.Context, tid uuid.UUID) ([]models.AuditEntry, error) {
			return []models.AuditEntry{{ID: uuid.New(), TransactionID: tid}}, nil
		},
	}

	req := disputeRequestWithRole(http.MethodGet, "/api/admin/v1/transactions/"+transactionID.String()+"/audit", nil, uuid.New(), enums.UserRoleAdmin)
	req = addRouteParam(req, "transactionId", transactionID.String())
	resp := httptest.NewRecorder()
	AdminAuditTrail(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}

	var envelope struct {
		Data struct {
			Items []map[string]any `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Items) != 1 {
		t.Fatalf("expected 1 entry got %d", len(envelope.Data.Items))
	}
}
