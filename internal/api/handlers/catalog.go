package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/pkg/logger"
)

// CatalogHandler serves catalog lookups
type CatalogHandler struct {
	svc    *tally.Service
	logger *logger.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(svc *tally.Service, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{
		svc:    svc,
		logger: log.Component("api.catalog"),
	}
}

// ResolveResponse is the wire form of a resolution
type ResolveResponse struct {
	Kind    string               `json:"kind"` // resolved, ambiguous, not_found
	Input   string               `json:"input"`
	Unit    *contracts.GeoUnit   `json:"unit,omitempty"`
	Matches []*contracts.GeoUnit `json:"matches,omitempty"`
}

// Resolve looks up a scope key, or a local code at a level.
// GET /api/catalog/resolve?scope=001-01-001
// GET /api/catalog/resolve?level=commune&code=001&within=001
func (h *CatalogHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cat := h.svc.Catalog()

	var res contracts.Resolution
	if q.Has("scope") {
		res = cat.Resolve(q.Get("scope"))
	} else {
		level, err := contracts.ParseLevel(q.Get("level"))
		if err != nil {
			respondEngineError(w, h.logger, err)
			return
		}
		code := strings.TrimSpace(q.Get("code"))
		if code == "" {
			respondError(w, http.StatusBadRequest, "Missing 'code' parameter")
			return
		}
		res = h.svc.Resolve(q.Get("within"), level, code)
	}

	if res.Invalid != nil {
		respondEngineError(w, h.logger, res.Invalid)
		return
	}

	out := ResolveResponse{Input: res.Input}
	switch res.Kind {
	case contracts.Resolved:
		out.Kind = "resolved"
		out.Unit = res.Unit
	case contracts.Ambiguous:
		out.Kind = "ambiguous"
		out.Matches = res.Matches
	default:
		out.Kind = "not_found"
	}
	respondJSON(w, http.StatusOK, out)
}

// GetUnit returns a unit with its visible children.
// The national unit is served at /api/catalog/units.
// GET /api/catalog/units/{key}
func (h *CatalogHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if strings.EqualFold(key, "national") {
		key = contracts.NationalKey
	}

	view, err := h.svc.Unit(key, IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetCandidates lists candidates in slot order
// GET /api/catalog/candidates
func (h *CatalogHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Catalog().Candidates())
}

// GetStats returns catalog counts
// GET /api/catalog/stats
func (h *CatalogHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Catalog().Stats())
}
