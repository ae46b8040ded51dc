package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/pkg/logger"
)

// ResultsHandler serves aggregated results
// ⭐ SSOT: 결과 조회 API 핸들러는 이 구조체에서만
type ResultsHandler struct {
	svc    *tally.Service
	logger *logger.Logger
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(svc *tally.Service, log *logger.Logger) *ResultsHandler {
	return &ResultsHandler{
		svc:    svc,
		logger: log.Component("api.results"),
	}
}

// GetResults aggregates a scope for the caller
// GET /api/results?scope=001-01-001
func (h *ResultsHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, IdentityFrom(r.Context()))
}

// GetPublicResults aggregates a scope for an anonymous reader
// GET /api/public/results?scope=001
func (h *ResultsHandler) GetPublicResults(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, contracts.PublicIdentity())
}

func (h *ResultsHandler) serve(w http.ResponseWriter, r *http.Request, id contracts.Identity) {
	resp, err := h.svc.Results(r.Context(), tally.Query{
		ScopeKey: r.URL.Query().Get("scope"),
		Identity: id,
		Audience: publication.AudienceExternal,
	})
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetResultsByLocal aggregates the unit matching a bare local code.
// Several matches answer 409 with the full match list.
// GET /api/results/local/{level}/{code}
func (h *ResultsHandler) GetResultsByLocal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	level, err := contracts.ParseLevel(vars["level"])
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	resp, err := h.svc.ResultsByLocal(r.Context(), level, strings.TrimSpace(vars["code"]), tally.Query{
		Identity: IdentityFrom(r.Context()),
		Audience: publication.AudienceExternal,
	})
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
