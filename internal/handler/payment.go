package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"counterserv/internal/service"
)

// StartPaymentHandler creates a pending card order plus its gateway intent and
// returns everything the client needs to open the gateway checkout. Registered
// on both /api/payments/start and the /api/create-order alias.
func StartPaymentHandler(paySvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		res, err := paySvc.Initiate(r.Context(), req.StoreID, req.Customer, toLines(req.Items), req.Total)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidItems):
				writeError(w, http.StatusBadRequest, "storeId and non-empty items with a positive total are required")
			case errors.Is(err, service.ErrNoSecret):
				writeError(w, http.StatusInternalServerError, "gateway keys not configured")
			case errors.Is(err, service.ErrGatewayUnavailable):
				slog.Error("gateway intent creation failed", "error", err)
				writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry")
			default:
				slog.Error("payment start failed", "error", err)
				writeError(w, http.StatusInternalServerError, "failed to start payment")
			}
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

type verifyPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
}

// VerifyPaymentHandler is the client-initiated verification channel. The
// payload only ever asserts a capture; the client library has no failure
// callback that reaches us. Registered on both /api/payments/verify and the
// /api/verify-payment alias.
func VerifyPaymentHandler(rec *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}

		if req.OrderID == "" || req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
			writeError(w, http.StatusBadRequest, "missing verification fields")
			return
		}

		result, err := rec.Reconcile(r.Context(), service.VerificationAttempt{
			OrderID:          req.OrderID,
			GatewayOrderID:   req.GatewayOrderID,
			GatewayPaymentID: req.GatewayPaymentID,
			Signature:        req.Signature,
			Channel:          service.ChannelClientVerify,
			Outcome:          service.OutcomeCaptured,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidSignature):
				writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid signature"})
			case errors.Is(err, service.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, "order not found")
			case errors.Is(err, service.ErrGatewayOrderMismatch):
				writeError(w, http.StatusBadRequest, "order mismatch")
			case errors.Is(err, service.ErrNoSecret):
				writeError(w, http.StatusInternalServerError, "gateway secret not configured")
			default:
				slog.Error("payment verification failed", "order", req.OrderID, "error", err)
				writeError(w, http.StatusInternalServerError, "verification failed")
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paymentStatus": result.PaymentStatus})
	}
}
