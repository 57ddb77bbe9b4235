package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"counterserv/internal/model"
)

// IntentCreator opens a payment intent at the gateway. Satisfied by
// *GatewayClient; tests substitute a stub.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (*GatewayIntent, error)
}

const gatewayCurrency = "INR"

type PaymentService struct {
	ledger  Ledger
	gateway IntentCreator
	keyID   string
}

func NewPaymentService(ledger Ledger, gateway IntentCreator, keyID string) *PaymentService {
	return &PaymentService{ledger: ledger, gateway: gateway, keyID: keyID}
}

type InitiateResult struct {
	OrderID        string          `json:"orderId"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	KeyID          string          `json:"keyId"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Total          decimal.Decimal `json:"total"`
	Customer       string          `json:"customer"`
	StoreID        string          `json:"storeId"`
}

// Initiate creates a pending card order, opens a gateway intent for its
// computed total and links the two. A gateway failure leaves the pending order
// in place: a retry may reuse it, and the background sweeper expires it
// otherwise.
func (s *PaymentService) Initiate(ctx context.Context, storeID, customer string, items []model.OrderLine, declaredTotal *decimal.Decimal) (*InitiateResult, error) {
	lines, total, err := sanitizeLines(storeID, items)
	if err != nil {
		return nil, err
	}
	if declaredTotal != nil && !declaredTotal.Equal(total) {
		slog.Info("client-declared total differs from computed total, using computed",
			"declared", declaredTotal.String(), "computed", total.String())
	}

	o := &model.Order{
		ID:            newOrderID(),
		StoreID:       storeID,
		Customer:      customerOrGuest(customer),
		Lines:         lines,
		Total:         total,
		Status:        model.FulfillmentPending,
		PaymentMethod: model.PaymentMethodCard,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	}
	if err := s.ledger.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// The receipt ties the gateway intent back to the local order; webhook
	// deliveries resolve the order through it.
	amountMinor := total.Shift(2).Round(0).IntPart()
	intent, err := s.gateway.CreateIntent(ctx, amountMinor, gatewayCurrency, o.ID)
	if err != nil {
		// Deliberately no rollback: the pending order survives so a retry can
		// reuse it instead of losing the cart.
		return nil, fmt.Errorf("create intent for order %s: %w", o.ID, err)
	}

	if err := s.ledger.SetGatewayOrderID(ctx, o.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("link intent: %w", err)
	}

	return &InitiateResult{
		OrderID:        o.ID,
		GatewayOrderID: intent.ID,
		KeyID:          s.keyID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Total:          total,
		Customer:       o.Customer,
		StoreID:        o.StoreID,
	}, nil
}
