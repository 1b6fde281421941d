package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eventshare/ledger/internal/infrastructure/auth"
	"github.com/eventshare/ledger/internal/models"
	service "github.com/eventshare/ledger/internal/services"
	pkgerrors "github.com/eventshare/ledger/pkg/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const defaultHistoryLimit = 20

type Handler struct {
	ledger    service.LedgerService
	discounts service.DiscountService
	gatewayID string
}

func NewHandler(ledger service.LedgerService, discounts service.DiscountService, gatewayID string) *Handler {
	return &Handler{ledger: ledger, discounts: discounts, gatewayID: gatewayID}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidAmount),
		errors.Is(err, pkgerrors.ErrInvalidKind):
		status = http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrWalletNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrDiscountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInsufficientFunds),
		errors.Is(err, pkgerrors.ErrUsageLimitExceeded),
		errors.Is(err, pkgerrors.ErrDiscountInactive),
		errors.Is(err, pkgerrors.ErrDiscountNotStarted),
		errors.Is(err, pkgerrors.ErrDiscountExpired),
		errors.Is(err, pkgerrors.ErrEventNotEligible),
		errors.Is(err, pkgerrors.ErrGatewayNotEligible):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, pkgerrors.ErrAlreadyTerminal):
		status = http.StatusConflict
	case errors.Is(err, pkgerrors.ErrGatewayUnavailable):
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	// Settlement is the gateway's callback target; the provider carries no
	// bearer token, the handler relies on verification instead.
	r.HandleFunc("/transactions/{id}/settle", h.Settle).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	r.HandleFunc("/transactions", h.CreateTransaction).Methods("POST")
	r.HandleFunc("/transactions", h.History).Methods("GET")
	r.HandleFunc("/transactions/{id}/cancel", h.Cancel).Methods("POST")
	r.HandleFunc("/discounts/validate", h.ValidateDiscount).Methods("POST")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	wallet, err := h.ledger.GetWallet(r.Context(), userID)
	if err != nil {
		slog.Error("get wallet failed", "user_id", userID, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"balance": wallet.Balance})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req struct {
		Kind         string `json:"kind"`
		Amount       int64  `json:"amount"`
		EventID      *int64 `json:"event_id,omitempty"`
		DiscountCode string `json:"discount_code,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request"})
		return
	}

	tx, err := h.ledger.Create(r.Context(), userID, service.CreateTransactionRequest{
		Kind:         models.TransactionKind(req.Kind),
		Amount:       req.Amount,
		EventID:      req.EventID,
		DiscountCode: req.DiscountCode,
	})
	if err != nil {
		slog.Error("create transaction failed", "user_id", userID, "kind", req.Kind, "error", err)
		h.writeError(w, err)
		return
	}

	redirectURL, err := h.ledger.BeginGatewaySession(r.Context(), tx.ID)
	if err != nil {
		// The transaction stays pending; the session can be retried.
		slog.Error("gateway session failed", "transaction_id", tx.ID, "error", err)
		h.writeJSON(w, http.StatusBadGateway, map[string]string{
			"transaction_id": tx.ID.String(),
			"error":          err.Error(),
		})
		return
	}

	resp := map[string]interface{}{
		"transaction_id": tx.ID.String(),
		"amount":         tx.Amount,
		"status":         tx.Status,
	}
	if redirectURL != "" {
		resp["redirect_url"] = redirectURL
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid transaction id"})
		return
	}

	result, err := h.ledger.Settle(r.Context(), id)
	if err != nil {
		slog.Error("settle failed", "transaction_id", id, "error", err)
		h.writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"transaction_id": result.TransactionID.String(),
		"status":         result.Status,
	}
	if result.Balance != nil {
		resp["balance"] = *result.Balance
	}
	if result.GatewayReference != nil {
		resp["gateway_reference"] = *result.GatewayReference
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid transaction id"})
		return
	}

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	if err := h.ledger.Cancel(r.Context(), userID, id, req.Reason); err != nil {
		slog.Error("cancel failed", "user_id", userID, "transaction_id", id, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	limit := defaultHistoryLimit
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	history, err := h.ledger.History(r.Context(), userID, limit, offset)
	if err != nil {
		slog.Error("get history failed", "user_id", userID, "error", err)
		h.writeError(w, err)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	var req struct {
		Code      string `json:"code"`
		Amount    int64  `json:"amount"`
		EventID   *int64 `json:"event_id,omitempty"`
		GatewayID string `json:"gateway_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad request"})
		return
	}

	gatewayID := req.GatewayID
	if gatewayID == "" {
		gatewayID = h.gatewayID
	}

	_, result, err := h.discounts.Validate(r.Context(), req.Code, userID, req.EventID, gatewayID, req.Amount)
	if err != nil {
		if isDiscountRejection(err) {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"valid":  false,
				"reason": err.Error(),
			})
			return
		}
		slog.Error("discount validation failed", "user_id", userID, "code", req.Code, "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":           true,
		"discount_amount": result.DiscountAmount,
		"final_amount":    result.FinalAmount,
	})
}

// isDiscountRejection separates "the code does not apply" outcomes from
// real failures: the former are a negative answer, not an error.
func isDiscountRejection(err error) bool {
	return errors.Is(err, pkgerrors.ErrDiscountNotFound) ||
		errors.Is(err, pkgerrors.ErrDiscountInactive) ||
		errors.Is(err, pkgerrors.ErrDiscountNotStarted) ||
		errors.Is(err, pkgerrors.ErrDiscountExpired) ||
		errors.Is(err, pkgerrors.ErrEventNotEligible) ||
		errors.Is(err, pkgerrors.ErrGatewayNotEligible) ||
		errors.Is(err, pkgerrors.ErrUsageLimitExceeded)
}
