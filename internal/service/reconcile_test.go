package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterserv/internal/model"
)

const (
	testKeySecret  = "key-secret"
	testHookSecret = "hook-secret"
)

func newTestReconciler(ledger Ledger) *Reconciler {
	return NewReconciler(ledger, NewVerifier(Secrets{
		GatewayKeySecret: testKeySecret,
		WebhookSecret:    testHookSecret,
	}))
}

func seedCardOrder(t *testing.T, ledger *memLedger, id, gatewayOrderID string) {
	t.Helper()
	err := ledger.CreateOrder(context.Background(), &model.Order{
		ID:            id,
		StoreID:       "store-1",
		Customer:      "Guest",
		Lines:         []model.OrderLine{{Name: "Masala Dosa", Qty: 1, Price: decimal.NewFromInt(110)}},
		Total:         decimal.NewFromInt(110),
		Status:        model.FulfillmentPending,
		PaymentMethod: model.PaymentMethodCard,
		PaymentStatus: model.PaymentPending,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	if gatewayOrderID != "" {
		require.NoError(t, ledger.SetGatewayOrderID(context.Background(), id, gatewayOrderID))
	}
}

func clientCapture(orderID, gatewayOrderID, paymentID string) VerificationAttempt {
	return VerificationAttempt{
		OrderID:          orderID,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        Sign(testKeySecret, []byte(gatewayOrderID+"|"+paymentID)),
		Channel:          ChannelClientVerify,
		Outcome:          OutcomeCaptured,
	}
}

func webhookAttempt(orderID, gatewayOrderID, paymentID string, outcome Outcome) VerificationAttempt {
	body := []byte(`{"event":"payment.` + string(outcome) + `"}`)
	return VerificationAttempt{
		OrderID:          orderID,
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        Sign(testHookSecret, body),
		RawBody:          body,
		Channel:          ChannelWebhook,
		Outcome:          outcome,
	}
}

func TestReconcile_CaptureMarksPaid(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	res, err := rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.PaymentPaid, res.PaymentStatus)

	o := ledger.snapshot("ORD-1")
	assert.Equal(t, model.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "pay_1", o.GatewayPaymentID)
	assert.NotEmpty(t, o.GatewaySignature)
}

func TestReconcile_ReplayIsIdempotent(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	attempt := webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeCaptured)
	_, err := rec.Reconcile(context.Background(), attempt)
	require.NoError(t, err)
	before := ledger.snapshot("ORD-1")

	res, err := rec.Reconcile(context.Background(), attempt)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, before, ledger.snapshot("ORD-1"))
}

func TestReconcile_PaidIsMonotonic(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	_, err := rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_1", "pay_1"))
	require.NoError(t, err)

	// A late failure event from the webhook must not downgrade the capture.
	res, err := rec.Reconcile(context.Background(), webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeFailed))
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.PaymentPaid, res.PaymentStatus)
	assert.Equal(t, model.PaymentPaid, ledger.snapshot("ORD-1").PaymentStatus)
}

func TestReconcile_FailedOnlyFromPending(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	res, err := rec.Reconcile(context.Background(), webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeFailed))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.PaymentFailed, res.PaymentStatus)

	// A second failure finds nothing to do.
	res, err = rec.Reconcile(context.Background(), webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeFailed))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	// A capture after a failure still wins: the customer did pay.
	res, err = rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, model.PaymentPaid, ledger.snapshot("ORD-1").PaymentStatus)
}

func TestReconcile_GatewayOrderMismatch(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	// Valid signature for gw_2, but ORD-1 is linked to gw_1.
	_, err := rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_2", "pay_1"))
	assert.ErrorIs(t, err, ErrGatewayOrderMismatch)
	assert.Equal(t, model.PaymentPending, ledger.snapshot("ORD-1").PaymentStatus)
}

func TestReconcile_UnknownOrder(t *testing.T) {
	rec := newTestReconciler(newMemLedger())
	_, err := rec.Reconcile(context.Background(), clientCapture("ORD-missing", "gw_1", "pay_1"))
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReconcile_BadSignatureNeverMutates(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	attempt := clientCapture("ORD-1", "gw_1", "pay_1")
	attempt.Signature = "deadbeef"
	_, err := rec.Reconcile(context.Background(), attempt)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	hook := webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeCaptured)
	hook.RawBody = []byte(`{"tampered":true}`)
	_, err = rec.Reconcile(context.Background(), hook)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	o := ledger.snapshot("ORD-1")
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)
	assert.Empty(t, o.GatewayPaymentID)
}

// Two valid attempts with opposite outcomes racing on the same order must
// converge to paid no matter which one wins the lock.
func TestReconcile_ConcurrentCaptureAndFailureConvergeToPaid(t *testing.T) {
	for i := 0; i < 50; i++ {
		ledger := newMemLedger()
		seedCardOrder(t, ledger, "ORD-1", "gw_1")
		rec := newTestReconciler(ledger)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_1", "pay_1"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := rec.Reconcile(context.Background(), webhookAttempt("ORD-1", "gw_1", "pay_1", OutcomeFailed))
			assert.NoError(t, err)
		}()
		wg.Wait()

		assert.Equal(t, model.PaymentPaid, ledger.snapshot("ORD-1").PaymentStatus)
	}
}

func TestReconcile_LockTableShrinks(t *testing.T) {
	ledger := newMemLedger()
	seedCardOrder(t, ledger, "ORD-1", "gw_1")
	rec := newTestReconciler(ledger)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = rec.Reconcile(context.Background(), clientCapture("ORD-1", "gw_1", "pay_1"))
		}()
	}
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.locks)
}

func TestExpireStalePending_OnlyStaleCardOrders(t *testing.T) {
	ledger := newMemLedger()
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	orders := []*model.Order{
		{ID: "ORD-stale", PaymentMethod: model.PaymentMethodCard, PaymentStatus: model.PaymentPending, CreatedAt: old},
		{ID: "ORD-fresh", PaymentMethod: model.PaymentMethodCard, PaymentStatus: model.PaymentPending, CreatedAt: time.Now()},
		{ID: "ORD-paid", PaymentMethod: model.PaymentMethodCard, PaymentStatus: model.PaymentPaid, CreatedAt: old},
		{ID: "ORD-cash", PaymentMethod: model.PaymentMethodCash, PaymentStatus: model.PaymentPending, CreatedAt: old},
	}
	for _, o := range orders {
		require.NoError(t, ledger.CreateOrder(ctx, o))
	}

	n, err := ledger.ExpireStalePending(ctx, time.Now().Add(-30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, model.PaymentFailed, ledger.snapshot("ORD-stale").PaymentStatus)
	assert.Equal(t, model.PaymentPending, ledger.snapshot("ORD-fresh").PaymentStatus)
	assert.Equal(t, model.PaymentPaid, ledger.snapshot("ORD-paid").PaymentStatus)
	assert.Equal(t, model.PaymentPending, ledger.snapshot("ORD-cash").PaymentStatus)
}
