package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"counterserv/internal/model"
)

var ErrInvalidItems = errors.New("order needs a store and at least one item with a positive total")

const maxLineNameLen = 160

type OrderService struct {
	ledger Ledger
}

func NewOrderService(ledger Ledger) *OrderService {
	return &OrderService{ledger: ledger}
}

// Create persists a non-card order (cash on delivery, wallet transfer). The
// total is always recomputed from the lines; a client-declared total is only
// logged by the caller, never stored.
func (s *OrderService) Create(ctx context.Context, storeID, customer, paymentMethod string, items []model.OrderLine) (*model.Order, error) {
	lines, total, err := sanitizeLines(storeID, items)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:            newOrderID(),
		StoreID:       storeID,
		Customer:      customerOrGuest(customer),
		Lines:         lines,
		Total:         total,
		Status:        model.FulfillmentPending,
		PaymentMethod: paymentMethod,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	}

	if err := s.ledger.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (s *OrderService) Get(ctx context.Context, id string) (*model.Order, error) {
	return s.ledger.GetOrder(ctx, id)
}

func (s *OrderService) UpdateFulfillment(ctx context.Context, id string, status model.FulfillmentStatus) error {
	found, err := s.ledger.UpdateFulfillment(ctx, id, status)
	if err != nil {
		return fmt.Errorf("update fulfillment: %w", err)
	}
	if !found {
		return ErrOrderNotFound
	}
	return nil
}

// sanitizeLines applies the same normalization the storefront always has:
// names truncate at 160 chars and default to "Item", quantity clamps to >= 1.
// Negative prices and empty carts are rejected outright.
func sanitizeLines(storeID string, items []model.OrderLine) ([]model.OrderLine, decimal.Decimal, error) {
	if storeID == "" || len(items) == 0 {
		return nil, decimal.Zero, ErrInvalidItems
	}

	lines := make([]model.OrderLine, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		name := strings.TrimSpace(it.Name)
		if len(name) > maxLineNameLen {
			name = name[:maxLineNameLen]
		}
		if name == "" {
			name = "Item"
		}
		qty := it.Qty
		if qty < 1 {
			qty = 1
		}
		if it.Price.IsNegative() {
			return nil, decimal.Zero, ErrInvalidItems
		}
		lines = append(lines, model.OrderLine{Name: name, Qty: qty, Price: it.Price})
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(qty))))
	}

	if !total.IsPositive() {
		return nil, decimal.Zero, ErrInvalidItems
	}
	return lines, total, nil
}

func customerOrGuest(customer string) string {
	if c := strings.TrimSpace(customer); c != "" {
		return c
	}
	return "Guest"
}

func newOrderID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + raw[:6]
}
