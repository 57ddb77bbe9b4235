package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"counterserv/internal/model"
)

var ErrOrderNotFound = errors.New("order not found")

// Ledger is the durable source of truth for orders and their payment state.
// Payment-state writes are conditional so a paid order can never be downgraded,
// even by another process racing on the same row.
type Ledger interface {
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID string) error
	// MarkPaid records a capture. It is a no-op (not an error) when the order
	// is already paid.
	MarkPaid(ctx context.Context, orderID, gatewayPaymentID, gatewaySignature string) error
	// MarkFailed downgrades a pending order; it reports whether the write
	// applied. Paid and already-failed orders are left untouched.
	MarkFailed(ctx context.Context, orderID string) (bool, error)
	UpdateFulfillment(ctx context.Context, orderID string, status model.FulfillmentStatus) (bool, error)
	// ExpireStalePending fails card orders that stayed unpaid past the cutoff.
	ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var method sql.NullString
	if o.PaymentMethod != "" {
		method = sql.NullString{String: o.PaymentMethod, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, store_id, customer, payment_method, status, payment_status, total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.StoreID, o.Customer, method, o.Status, o.PaymentStatus, o.Total, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, line := range o.Lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, name, qty, price) VALUES ($1, $2, $3, $4)`,
			o.ID, line.Name, line.Qty, line.Price,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

func (l *PostgresLedger) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var (
		o         model.Order
		method    sql.NullString
		gwOrder   sql.NullString
		gwPayment sql.NullString
		gwSig     sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, store_id, customer, payment_method, status, payment_status, total,
		       gateway_order_id, gateway_payment_id, gateway_signature, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.StoreID, &o.Customer, &method, &o.Status, &o.PaymentStatus, &o.Total,
		&gwOrder, &gwPayment, &gwSig, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.PaymentMethod = method.String
	o.GatewayOrderID = gwOrder.String
	o.GatewayPaymentID = gwPayment.String
	o.GatewaySignature = gwSig.String

	rows, err := l.db.QueryContext(ctx,
		`SELECT name, qty, price FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line model.OrderLine
		if err := rows.Scan(&line.Name, &line.Qty, &line.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return &o, nil
}

func (l *PostgresLedger) SetGatewayOrderID(ctx context.Context, orderID, gatewayOrderID string) error {
	// Set-once: an order that already carries a gateway order id keeps it.
	res, err := l.db.ExecContext(ctx,
		`UPDATE orders SET gateway_order_id = $1 WHERE id = $2 AND gateway_order_id IS NULL`,
		gatewayOrderID, orderID,
	)
	if err != nil {
		return fmt.Errorf("set gateway order id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set gateway order id: order %s missing or already linked", orderID)
	}
	return nil
}

func (l *PostgresLedger) MarkPaid(ctx context.Context, orderID, gatewayPaymentID, gatewaySignature string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = 'paid', gateway_payment_id = $1, gateway_signature = $2
		 WHERE id = $3 AND payment_status <> 'paid'`,
		gatewayPaymentID, gatewaySignature, orderID,
	)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	return nil
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = 'failed' WHERE id = $1 AND payment_status = 'pending'`,
		orderID,
	)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (l *PostgresLedger) UpdateFulfillment(ctx context.Context, orderID string, status model.FulfillmentStatus) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE orders SET status = $1 WHERE id = $2`, status, orderID)
	if err != nil {
		return false, fmt.Errorf("update fulfillment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (l *PostgresLedger) ExpireStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = 'failed'
		 WHERE payment_status = 'pending' AND payment_method = 'card' AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
