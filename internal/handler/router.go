package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/utilpilot/utilization-service/internal/config"
	"github.com/utilpilot/utilization-service/internal/middleware"
)

// NewRouter wires every API route. Auth-protected routes live on a
// subrouter behind the JWT middleware; everything shares the rate
// limiter and the JSON 404.
func NewRouter(h *Handler, cfg *config.Config, limiter *middleware.RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RateLimitMiddleware(limiter))
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)

	// Public routes
	r.HandleFunc("/api/health", h.Health).Methods("GET")
	r.HandleFunc("/api/register", h.Register).Methods("POST")
	r.HandleFunc("/api/login", h.Login).Methods("POST")
	r.HandleFunc("/api/plaid-webhook", h.PlaidWebhook).Methods("POST")

	// Protected routes
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = http.HandlerFunc(h.NotFound)
	api.Use(middleware.AuthMiddleware(cfg))
	api.HandleFunc("/user-profile", h.Profile).Methods("GET")
	api.HandleFunc("/link-token", h.LinkToken).Methods("GET")
	api.HandleFunc("/exchange-token", h.ExchangeToken).Methods("POST")
	api.HandleFunc("/dashboard", h.Dashboard).Methods("GET")
	api.HandleFunc("/accounts", h.Accounts).Methods("GET")
	api.HandleFunc("/update-targets", h.UpdateTargets).Methods("POST")
	api.HandleFunc("/refresh-accounts", h.RefreshAccounts).Methods("POST")
	api.HandleFunc("/import-statement", h.ImportStatement).Methods("POST")

	return r
}
