package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/swapdesk/swapdesk-backend/api/middleware"
	"github.com/swapdesk/swapdesk-backend/api/responses"
	"github.com/swapdesk/swapdesk-backend/api/validators"
	"github.com/swapdesk/swapdesk-backend/internal/disputes"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	pkgerrors "github.com/swapdesk/swapdesk-backend/pkg/errors"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
)

type disputeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func disputeActor(r *http.Request) (disputes.Actor, error) {
	actorID, err := actorUUID(r)
	if err != nil {
		return disputes.Actor{}, err
	}

	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return disputes.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor role")
	}

	return disputes.Actor{ID: actorID, Role: role}, nil
}

// DisputeRaise freezes a transaction pending admin resolution.
func DisputeRaise(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := disputeActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactionID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body disputeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resolution, err := svc.Raise(r.Context(), transactionID, actor, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, resolution)
	}
}

type resolveFunc func(ctx context.Context, transactionID uuid.UUID, actor disputes.Actor, reason string) (*disputes.ResolutionDTO, error)

// AdminForceRelease resolves a dispute in the seller's favor.
func AdminForceRelease(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return adminResolution(svc.ForceRelease, logg)
}

// AdminForceRefund resolves a dispute in the buyer's favor.
func AdminForceRefund(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return adminResolution(svc.ForceRefund, logg)
}

func adminResolution(resolve resolveFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := disputeActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactionID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body disputeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resolution, err := resolve(r.Context(), transactionID, actor, body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, resolution)
	}
}

// AdminAuditTrail returns the immutable admin action log for a transaction.
func AdminAuditTrail(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transactionID, err := pathUUID(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.AuditTrail(r.Context(), transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"items": entries})
	}
}
