package handler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"counterserv/internal/model"
	"counterserv/internal/service"
)

const (
	testKeySecret  = "key-secret"
	testHookSecret = "hook-secret"
)

// fakeLedger mirrors the conditional-write semantics of the real ledger so
// handler tests can observe persisted state.
type fakeLedger struct {
	mu     sync.Mutex
	orders map[string]*model.Order
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{orders: make(map[string]*model.Order)}
}

func (l *fakeLedger) CreateOrder(_ context.Context, o *model.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *o
	l.orders[o.ID] = &cp
	return nil
}

func (l *fakeLedger) GetOrder(_ context.Context, id string) (*model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, service.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (l *fakeLedger) SetGatewayOrderID(_ context.Context, orderID, gatewayOrderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orders[orderID]; ok && o.GatewayOrderID == "" {
		o.GatewayOrderID = gatewayOrderID
		return nil
	}
	return service.ErrOrderNotFound
}

func (l *fakeLedger) MarkPaid(_ context.Context, orderID, gatewayPaymentID, gatewaySignature string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return service.ErrOrderNotFound
	}
	if o.PaymentStatus != model.PaymentPaid {
		o.PaymentStatus = model.PaymentPaid
		o.GatewayPaymentID = gatewayPaymentID
		o.GatewaySignature = gatewaySignature
	}
	return nil
}

func (l *fakeLedger) MarkFailed(_ context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return false, service.ErrOrderNotFound
	}
	if o.PaymentStatus != model.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = model.PaymentFailed
	return true, nil
}

func (l *fakeLedger) UpdateFulfillment(_ context.Context, orderID string, status model.FulfillmentStatus) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[orderID]
	if !ok {
		return false, nil
	}
	o.Status = status
	return true, nil
}

func (l *fakeLedger) ExpireStalePending(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (l *fakeLedger) snapshot(id string) model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.orders[id]
}

func newTestReconciler(ledger service.Ledger) (*service.Verifier, *service.Reconciler) {
	verifier := service.NewVerifier(service.Secrets{
		GatewayKeySecret: testKeySecret,
		WebhookSecret:    testHookSecret,
	})
	return verifier, service.NewReconciler(ledger, verifier)
}

func seedCardOrder(t *testing.T, ledger *fakeLedger, id, gatewayOrderID string) {
	t.Helper()
	require.NoError(t, ledger.CreateOrder(context.Background(), &model.Order{
		ID:            id,
		StoreID:       "store-1",
		Customer:      "Guest",
		Lines:         []model.OrderLine{{Name: "Masala Dosa", Qty: 1, Price: decimal.NewFromInt(110)}},
		Total:         decimal.NewFromInt(110),
		Status:        model.FulfillmentPending,
		PaymentMethod: model.PaymentMethodCard,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	}))
	if gatewayOrderID != "" {
		require.NoError(t, ledger.SetGatewayOrderID(context.Background(), id, gatewayOrderID))
	}
}
