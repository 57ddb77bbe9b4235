package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"counterserv/internal/model"
	"counterserv/internal/service"
)

type orderLineRequest struct {
	Name     string          `json:"name"`
	Qty      int             `json:"qty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

type createOrderRequest struct {
	StoreID       string             `json:"storeId"`
	Customer      string             `json:"customer"`
	Items         []orderLineRequest `json:"items"`
	Total         *decimal.Decimal   `json:"total"`
	PaymentMethod string             `json:"paymentMethod"`
}

// toLines accepts both "qty" and "quantity" keys, which different storefront
// clients send.
func toLines(items []orderLineRequest) []model.OrderLine {
	lines := make([]model.OrderLine, 0, len(items))
	for _, it := range items {
		qty := it.Qty
		if qty == 0 {
			qty = it.Quantity
		}
		lines = append(lines, model.OrderLine{Name: it.Name, Qty: qty, Price: it.Price})
	}
	return lines
}

func CreateOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		order, err := orderSvc.Create(r.Context(), req.StoreID, req.Customer, req.PaymentMethod, toLines(req.Items))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidItems):
				writeError(w, http.StatusBadRequest, "storeId and non-empty items are required")
			default:
				slog.Error("order create failed", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to create order")
			}
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

func GetOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		order, err := orderSvc.Get(r.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			default:
				slog.Error("order fetch failed", "order", id, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to fetch order")
			}
			return
		}

		writeJSON(w, http.StatusOK, order)
	}
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func UpdateOrderStatusHandler(orderSvc *service.OrderService) http.HandlerFunc {
	allowed := map[model.FulfillmentStatus]bool{
		model.FulfillmentPending:   true,
		model.FulfillmentPreparing: true,
		model.FulfillmentReady:     true,
		model.FulfillmentCompleted: true,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		status := model.FulfillmentStatus(req.Status)
		if !allowed[status] {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}

		if err := orderSvc.UpdateFulfillment(r.Context(), id, status); err != nil {
			switch {
			case errors.Is(err, service.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			default:
				slog.Error("status update failed", "order", id, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to update status")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
