package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront-settlement/internal/core/domain"
	"github.com/rl1809/storefront-settlement/internal/core/service"
)

// Settler is what the handler needs from the coordinator.
type Settler interface {
	SettlePurchase(ctx context.Context, req service.SettleRequest) (*service.SettleResult, error)
}

type HTTPHandler struct {
	settler Settler
	logger  *zap.Logger
}

type PurchaseRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	BuyerID        string `json:"buyer_id"`
	Company        string `json:"company"`
	Product        string `json:"product"`
	Quantity       int    `json:"quantity"`
}

type PurchaseResponse struct {
	OrderID        string    `json:"order_id,omitempty"`
	Product        string    `json:"product,omitempty"`
	Company        string    `json:"company,omitempty"`
	Quantity       int       `json:"quantity,omitempty"`
	Buyer          string    `json:"buyer,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	AlreadySettled bool      `json:"already_settled,omitempty"`
	Message        string    `json:"message"`
}

func NewHTTPHandler(settler Settler, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{settler: settler, logger: logger}
}

// Purchase maps settlement outcomes onto transport status codes: 201 for a
// new settlement, 200 for an idempotent replay, 400 for a malformed request,
// 404 for an unknown buyer or product, 409 when stock ran out, 500 otherwise.
func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PurchaseResponse{Message: "invalid request body"})
		return
	}

	result, err := h.settler.SettlePurchase(r.Context(), service.SettleRequest{
		IdempotencyKey: req.IdempotencyKey,
		BuyerID:        req.BuyerID,
		ProductKey:     domain.ProductKey{Company: req.Company, Name: req.Product},
		Quantity:       req.Quantity,
	})
	if err != nil {
		status, message := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("settlement failed", zap.Error(err))
			message = "internal error"
		}
		writeJSON(w, status, PurchaseResponse{Message: message})
		return
	}

	status := http.StatusCreated
	message := "purchase successful"
	if result.AlreadySettled {
		status = http.StatusOK
		message = "purchase already settled"
	}

	writeJSON(w, status, PurchaseResponse{
		OrderID:        result.Order.ID,
		Product:        result.Order.ProductName,
		Company:        result.Order.CompanyName,
		Quantity:       result.Order.Quantity,
		Buyer:          result.Order.BuyerName,
		CreatedAt:      result.Order.CreatedAt,
		AlreadySettled: result.AlreadySettled,
		Message:        message,
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBuyerNotFound):
		return http.StatusNotFound, "buyer not found"
	case errors.Is(err, service.ErrProductNotFound):
		return http.StatusNotFound, "product not found"
	case errors.Is(err, service.ErrInsufficientStock):
		// Conflict rather than bad request: the request was well formed but
		// stock state changed underneath it.
		return http.StatusConflict, "insufficient stock"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
