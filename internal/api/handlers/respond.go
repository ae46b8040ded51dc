package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/logger"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error    string              `json:"error"`
	Problems []string            `json:"problems,omitempty"`
	Matches  []contracts.UnitRef `json:"matches,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondEngineError maps engine errors to HTTP statuses
// ⭐ SSOT: 오류 → HTTP 상태 매핑은 여기서만
func respondEngineError(w http.ResponseWriter, log *logger.Logger, err error) {
	var ambiguous *contracts.AmbiguousError
	var invalid *contracts.ValidationError

	switch {
	case errors.As(err, &ambiguous):
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Matches: ambiguous.Matches})
	case errors.As(err, &invalid):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: contracts.ErrInconsistentImport.Error(), Problems: invalid.Problems})
	case errors.Is(err, contracts.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contracts.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, contracts.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, contracts.ErrInvalidScope):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, contracts.ErrPublishedLocked), errors.Is(err, contracts.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, contracts.ErrInconsistentImport):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.WithError(err).Error("Request failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// scopeRequest is the body of publish/unpublish/release requests
type scopeRequest struct {
	Scope string `json:"scope"`
}

func decodeScope(r *http.Request) (string, error) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return req.Scope, nil
}
