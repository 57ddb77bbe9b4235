package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"counterserv/internal/service"
)

const (
	signatureHeader = "X-Gateway-Signature"
	maxWebhookBody  = 1 << 20
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				Receipt string `json:"receipt"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// WebhookHandler is the gateway-initiated verification channel. The transport
// signature covers the raw body, so the body is authenticated before any JSON
// parsing. Once a delivery is authenticated and structurally valid we answer
// 200 even when the referenced order is unknown; a non-200 would only make the
// gateway retry a permanent mismatch forever.
func WebhookHandler(verifier *service.Verifier, rec *service.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			writeError(w, http.StatusBadRequest, "missing signature header")
			return
		}

		if err := verifier.VerifyWebhook(body, signature); err != nil {
			switch {
			case errors.Is(err, service.ErrNoSecret):
				slog.Error("webhook secret not configured")
				writeError(w, http.StatusInternalServerError, "webhook secret not configured")
			default:
				slog.Warn("rejected webhook with bad signature", "remote", r.RemoteAddr)
				writeError(w, http.StatusBadRequest, "invalid webhook signature")
			}
			return
		}

		var event webhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		pay := event.Payload.Payment.Entity
		orderID := event.Payload.Order.Entity.Receipt
		if pay.ID == "" || orderID == "" {
			// Authenticated but not a payment event we act on.
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		var outcome service.Outcome
		switch pay.Status {
		case "captured":
			outcome = service.OutcomeCaptured
		case "failed":
			outcome = service.OutcomeFailed
		default:
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		_, err = rec.Reconcile(r.Context(), service.VerificationAttempt{
			OrderID:          orderID,
			GatewayOrderID:   pay.OrderID,
			GatewayPaymentID: pay.ID,
			Signature:        signature,
			RawBody:          body,
			Channel:          service.ChannelWebhook,
			Outcome:          outcome,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrGatewayOrderMismatch):
				// Permanent mismatches: log for investigation, tell the
				// gateway we are done with this delivery.
				slog.Warn("webhook references unresolvable order",
					"order", orderID, "gateway_order", pay.OrderID, "error", err)
			case errors.Is(err, service.ErrInvalidSignature):
				writeError(w, http.StatusBadRequest, "invalid webhook signature")
				return
			default:
				slog.Error("webhook reconciliation failed", "order", orderID, "error", err)
				writeError(w, http.StatusInternalServerError, "webhook handling failed")
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
