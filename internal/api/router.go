package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/tally/internal/api/handlers"
	"github.com/wonny/tally/pkg/logger"
)

// Handlers groups the endpoint handlers
type Handlers struct {
	Results     *handlers.ResultsHandler
	Publication *handlers.PublicationHandler
	Cells       *handlers.CellHandler
	Catalog     *handlers.CatalogHandler
	Feed        *handlers.FeedHub
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, limiter *PublicLimiter, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Public endpoints (anonymous, gated, rate limited)
	public := r.PathPrefix("/api/public").Subrouter()
	public.Use(limiter.Middleware)
	public.HandleFunc("/results", h.Results.GetPublicResults).Methods("GET")
	public.HandleFunc("/feed", h.Feed.ServeWS).Methods("GET")

	// Staff endpoints (gateway identity required)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(identityMiddleware(log))

	api.HandleFunc("/catalog/resolve", h.Catalog.Resolve).Methods("GET")
	api.HandleFunc("/catalog/units", h.Catalog.GetUnit).Methods("GET")
	api.HandleFunc("/catalog/units/{key}", h.Catalog.GetUnit).Methods("GET")
	api.HandleFunc("/catalog/candidates", h.Catalog.GetCandidates).Methods("GET")
	api.HandleFunc("/catalog/stats", h.Catalog.GetStats).Methods("GET")

	api.HandleFunc("/results", h.Results.GetResults).Methods("GET")
	api.HandleFunc("/results/local/{level}/{code}", h.Results.GetResultsByLocal).Methods("GET")

	api.HandleFunc("/publication", h.Publication.ListFlags).Methods("GET")
	api.HandleFunc("/publication/status", h.Publication.GetStatus).Methods("GET")
	api.HandleFunc("/publication/publish", h.Publication.Publish).Methods("POST")
	api.HandleFunc("/publication/unpublish", h.Publication.Unpublish).Methods("POST")

	api.HandleFunc("/cells/release", h.Cells.Release).Methods("POST")
	api.HandleFunc("/cells/{code}", h.Cells.GetCell).Methods("GET")
	api.HandleFunc("/cells/{code}/import", h.Cells.Import).Methods("POST")
	api.HandleFunc("/cells/{code}/withdraw", h.Cells.Withdraw).Methods("POST")

	// Apply middleware
	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

// healthCheckHandler returns server health status
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "tally-api",
	})
}
