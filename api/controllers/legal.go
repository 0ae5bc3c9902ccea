package controllers

import (
	"net/http"

	"github.com/swapdesk/swapdesk-backend/api/responses"
	"github.com/swapdesk/swapdesk-backend/api/validators"
	"github.com/swapdesk/swapdesk-backend/internal/legal"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
)

type acknowledgeRequest struct {
	DocumentKey string `json:"document_key" validate:"required"`
	Version     string `json:"version" validate:"required"`
}

// LegalAcknowledge records the caller's acceptance of a legal document version.
func LegalAcknowledge(svc legal.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorUUID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body acknowledgeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Acknowledge(r.Context(), userID, body.DocumentKey, body.Version); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"document_key": body.DocumentKey,
			"version":      body.Version,
			"accepted":     true,
		})
	}
}

// LegalStatus reports whether the caller has accepted the current escrow terms.
func LegalStatus(svc legal.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorUUID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		accepted, err := svc.HasAccepted(r.Context(), userID, legal.DocumentEscrowTerms, legal.CurrentTermsVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"document_key": legal.DocumentEscrowTerms,
			"version":      legal.CurrentTermsVersion,
			"accepted":     accepted,
		})
	}
}
