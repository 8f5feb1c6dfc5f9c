package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter registers the routes. metricsHandler is mounted at /metrics when
// non-nil.
func NewRouter(app *App, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(app.requestID, app.instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/buy", app.purchaseHandler).Methods(http.MethodPost)
	api.HandleFunc("/checkout", app.checkoutHandler).Methods(http.MethodPost)
	api.HandleFunc("/history/{userId}", app.historyHandler).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/balance", app.balanceHandler).Methods(http.MethodGet)

	r.HandleFunc("/health", app.healthHandler).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return r
}
