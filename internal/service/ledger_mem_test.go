package service

import (
	"context"
	"sync"
	"time"

	"counterserv/internal/model"
)

// memLedger is an in-memory Ledger with the same conditional-write semantics
// as the Postgres implementation.
type memLedger struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func newMemLedger() *memLedger {
	return &memLedger{orders: make(map[string]*model.Order)}
}

func (l *memLedger) CreateOrder(_ context.Context, o *model.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *o
	l.orders[o.ID] = &cp
	return nil
}

func (l *memLedger) GetOrder(_ context.Context, id string) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *memLedger) SetGatewayOrderID(_ context.Context, orderID, gatewayOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok || o.GatewayOrderID != "" {
		return ErrOrderNotFound
	}
	o.GatewayOrderID = gatewayOrderID
	return nil
}

func (l *memLedger) MarkPaid(_ context.Context, orderID, gatewayPaymentID, gatewaySignature string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.PaymentStatus == model.PaymentPaid {
		return nil
	}
	o.PaymentStatus = model.PaymentPaid
	o.GatewayPaymentID = gatewayPaymentID
	o.GatewaySignature = gatewaySignature
	return nil
}

func (l *memLedger) MarkFailed(_ context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.PaymentStatus != model.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = model.PaymentFailed
	return true, nil
}

func (l *memLedger) UpdateFulfillment(_ context.Context, orderID string, status model.FulfillmentStatus) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (l *memLedger) ExpireStalePending(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, o := range l.orders {
		if o.PaymentStatus == model.PaymentPending &&
			o.PaymentMethod == model.PaymentMethodCard &&
			o.CreatedAt.Before(cutoff) {
			o.PaymentStatus = model.PaymentFailed
			n++
		}
	}
	return n, nil
}

func (l *memLedger) snapshot(id string) model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.orders[id]
}
