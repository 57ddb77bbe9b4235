package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"counterserv/internal/model"
)

var ErrGatewayOrderMismatch = errors.New("gateway order id does not match the stored one")

type Channel string

const (
	ChannelClientVerify Channel = "client-verify"
	ChannelWebhook      Channel = "webhook"
)

type Outcome string

const (
	OutcomeCaptured Outcome = "captured"
	OutcomeFailed   Outcome = "failed"
)

// VerificationAttempt is one channel's claim about a payment outcome. It is
// transient: nothing here is persisted except what the transition records.
type VerificationAttempt struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	// RawBody carries the exact delivery bytes for webhook attempts; the
	// webhook signature covers them, not a derived string.
	RawBody []byte
	Channel Channel
	Outcome Outcome
}

type ReconcileResult struct {
	OrderID       string
	PaymentStatus model.PaymentStatus
	// Applied reports whether this attempt changed the ledger. A duplicate
	// delivery of an already-settled payment succeeds with Applied=false.
	Applied bool
}

// Reconciler converges an order's payment state from attempts arriving on
// either channel, in any order, any number of times. It is the only component
// that mutates payment status.
type Reconciler struct {
	ledger   Ledger
	verifier *Verifier
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func NewReconciler(ledger Ledger, verifier *Verifier) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		verifier: verifier,
		timeout:  5 * time.Second,
		locks:    make(map[string]*orderLock),
	}
}

// Reconcile runs the load-verify-transition-persist sequence under a per-order
// lock, so two racing attempts for the same order serialize. Any verification
// or validation failure returns before the ledger is touched.
func (r *Reconciler) Reconcile(ctx context.Context, a VerificationAttempt) (*ReconcileResult, error) {
	unlock := r.lockOrder(a.OrderID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	o, err := r.ledger.GetOrder(ctx, a.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("load order: %w", err)
	}

	// A signature can be individually valid yet belong to a different order;
	// the stored link is authoritative.
	if o.GatewayOrderID != "" && a.GatewayOrderID != "" && o.GatewayOrderID != a.GatewayOrderID {
		return nil, ErrGatewayOrderMismatch
	}

	switch a.Channel {
	case ChannelWebhook:
		err = r.verifier.VerifyWebhook(a.RawBody, a.Signature)
	default:
		err = r.verifier.VerifyClient(a.GatewayOrderID, a.GatewayPaymentID, a.Signature)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			slog.Warn("rejected verification attempt with bad signature",
				"order", a.OrderID, "channel", a.Channel)
		}
		return nil, err
	}

	if o.PaymentStatus == model.PaymentPaid {
		return &ReconcileResult{OrderID: o.ID, PaymentStatus: model.PaymentPaid}, nil
	}

	switch a.Outcome {
	case OutcomeFailed:
		applied, err := r.ledger.MarkFailed(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("persist failed state: %w", err)
		}
		status := o.PaymentStatus
		if applied {
			status = model.PaymentFailed
		}
		return &ReconcileResult{OrderID: o.ID, PaymentStatus: status, Applied: applied}, nil
	default:
		if err := r.ledger.MarkPaid(ctx, o.ID, a.GatewayPaymentID, a.Signature); err != nil {
			return nil, fmt.Errorf("persist paid state: %w", err)
		}
		return &ReconcileResult{OrderID: o.ID, PaymentStatus: model.PaymentPaid, Applied: true}, nil
	}
}

// lockOrder serializes reconciliation per order id. Entries are refcounted so
// the table does not grow with every order ever seen.
func (r *Reconciler) lockOrder(id string) func() {
	r.mu.Lock()
	e, ok := r.locks[id]
	if !ok {
		e = &orderLock{}
		r.locks[id] = e
	}
	e.refs++
	r.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		r.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}
