package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/utilpilot/utilization-service/internal/config"
	"github.com/utilpilot/utilization-service/internal/service"
	"github.com/utilpilot/utilization-service/internal/utils"
)

// statementSizeLimit caps OFX uploads at 1 MiB.
const statementSizeLimit = 1 << 20

type Handler struct {
	svc *service.Service
	cfg *config.Config
	log *logrus.Logger
}

func NewHandler(svc *service.Service, cfg *config.Config, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, log: log}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// Health reports service liveness and the configured environment
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"environment": h.cfg.Environment,
	})
}

// NotFound returns a JSON 404 for unknown routes
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not found")
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || len(req.Password) < 8 {
		respondError(w, http.StatusBadRequest, "username, email, and a password of at least 8 characters are required")
		return
	}

	user, err := h.svc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		h.log.Errorf("Registration failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := h.svc.Login(req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Profile returns the authenticated user
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Profile(r.Context())
	if err != nil {
		h.log.Errorf("Profile lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// LinkToken creates a Plaid Link token for the authenticated user
func (h *Handler) LinkToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.svc.CreateLinkToken(r.Context())
	if err != nil {
		h.log.Errorf("Link token creation failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to create link token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

// ExchangeToken links a new Plaid item from a public token
func (h *Handler) ExchangeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicToken string `json:"public_token"`
		Institution string `json:"institution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PublicToken == "" {
		respondError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	if err := h.svc.ExchangeToken(r.Context(), req.PublicToken, req.Institution); err != nil {
		h.log.Errorf("Token exchange failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to link item")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "linked"})
}

// Dashboard serves the aggregated utilization dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.log.Errorf("Dashboard build failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}
	respondJSON(w, http.StatusOK, dashboard)
}

// Accounts lists the authenticated user's credit accounts
func (h *Handler) Accounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Accounts(r.Context())
	if err != nil {
		h.log.Errorf("Account listing failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

// UpdateTargets sets the target utilization for an account
func (h *Handler) UpdateTargets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID         int64   `json:"accountId"`
		TargetUtilization float64 `json:"target_utilization"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID <= 0 {
		respondError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	if req.TargetUtilization <= 0 || req.TargetUtilization > 1 {
		respondError(w, http.StatusBadRequest, "target_utilization must be a fraction in (0, 1]")
		return
	}

	if err := h.svc.UpdateTarget(r.Context(), req.AccountID, req.TargetUtilization); err != nil {
		if err.Error() == "account not found" {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		h.log.Errorf("Target update failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to update target")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RefreshAccounts re-pulls balances for all of the user's linked items
func (h *Handler) RefreshAccounts(w http.ResponseWriter, r *http.Request) {
	refreshed, err := h.svc.RefreshAccounts(r.Context())
	if err != nil {
		h.log.Errorf("Account refresh failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to refresh accounts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"refreshed": refreshed})
}

// ImportStatement ingests an OFX credit card statement as a manual account
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, statementSizeLimit))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read statement body")
		return
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "statement body is required")
		return
	}

	account, err := h.svc.ImportStatement(r.Context(), r.URL.Query().Get("name"), body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to import statement")
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

// PlaidWebhook receives item update notifications from Plaid. The
// delivery is authenticated by an HMAC signature header rather than a
// user token.
func (h *Handler) PlaidWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, statementSizeLimit))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read webhook body")
		return
	}

	signature := r.Header.Get("Plaid-Verification")
	if !utils.VerifyHMAC(body, signature, h.cfg.HMACSecret) {
		respondError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	var payload service.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if err := h.svc.HandleWebhook(r.Context(), payload); err != nil {
		h.log.Errorf("Webhook handling failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
