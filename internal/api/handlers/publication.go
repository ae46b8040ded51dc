package handlers

import (
	"net/http"

	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/pkg/logger"
)

// PublicationHandler serves publication flags
type PublicationHandler struct {
	svc    *tally.Service
	logger *logger.Logger
}

// NewPublicationHandler creates a new publication handler
func NewPublicationHandler(svc *tally.Service, log *logger.Logger) *PublicationHandler {
	return &PublicationHandler{
		svc:    svc,
		logger: log.Component("api.publication"),
	}
}

// ListFlags returns every explicit flag
// GET /api/publication
func (h *PublicationHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.svc.PublicationFlags(r.Context())
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":  h.svc.Gate().Mode(),
		"flags": flags,
	})
}

// GetStatus returns the publication status of a scope
// GET /api/publication/status?scope=001
func (h *PublicationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.IsPublished(r.Context(), r.URL.Query().Get("scope"))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Publish marks a scope published
// POST /api/publication/publish {"scope": "001"}
func (h *PublicationHandler) Publish(w http.ResponseWriter, r *http.Request) {
	scope, err := decodeScope(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flag, err := h.svc.Publish(r.Context(), scope, IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, flag)
}

// Unpublish marks a scope not published
// POST /api/publication/unpublish {"scope": "001"}
func (h *PublicationHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	scope, err := decodeScope(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flag, err := h.svc.Unpublish(r.Context(), scope, IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, flag)
}
