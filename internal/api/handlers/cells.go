package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/pkg/logger"
)

// CellHandler serves the cell ledger
type CellHandler struct {
	svc    *tally.Service
	logger *logger.Logger
}

// NewCellHandler creates a new cell handler
func NewCellHandler(svc *tally.Service, log *logger.Logger) *CellHandler {
	return &CellHandler{
		svc:    svc,
		logger: log.Component("api.cells"),
	}
}

// GetCell returns the ledger state and history of a cell
// GET /api/cells/{code}
func (h *CellHandler) GetCell(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Cell(r.Context(), mux.Vars(r)["code"], IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Import replaces the rows of a cell with a finalized batch
// POST /api/cells/{code}/import
func (h *CellHandler) Import(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var in ledger.BatchInput
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if in.Cell != "" && in.Cell != code {
		respondError(w, http.StatusBadRequest, "Body cell does not match path")
		return
	}
	in.Cell = code

	id := IdentityFrom(r.Context())
	batch, err := in.ToBatch(id.Actor())
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}

	receipt, err := h.svc.Import(r.Context(), batch, id)
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

// Release publishes the imported cells under a scope
// POST /api/cells/release {"scope": "001"}
func (h *CellHandler) Release(w http.ResponseWriter, r *http.Request) {
	scope, err := decodeScope(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.svc.Release(r.Context(), scope, IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Withdraw returns a published cell to imported
// POST /api/cells/{code}/withdraw
func (h *CellHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Withdraw(r.Context(), mux.Vars(r)["code"], IdentityFrom(r.Context()))
	if err != nil {
		respondEngineError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
