package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "Pending"
	FulfillmentPreparing FulfillmentStatus = "Preparing"
	FulfillmentReady     FulfillmentStatus = "Ready"
	FulfillmentCompleted FulfillmentStatus = "Completed"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodWallet = "wallet"
	PaymentMethodCard   = "card"
)

type OrderLine struct {
	Name  string          `json:"name"`
	Qty   int             `json:"qty"`
	Price decimal.Decimal `json:"price"`
}

type Order struct {
	ID               string            `json:"id"`
	StoreID          string            `json:"storeId"`
	Customer         string            `json:"customer"`
	Lines            []OrderLine       `json:"items"`
	Total            decimal.Decimal   `json:"total"`
	Status           FulfillmentStatus `json:"status"`
	PaymentMethod    string            `json:"paymentMethod,omitempty"`
	PaymentStatus    PaymentStatus     `json:"paymentStatus"`
	GatewayOrderID   string            `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string            `json:"gatewayPaymentId,omitempty"`
	GatewaySignature string            `json:"-"`
	CreatedAt        time.Time         `json:"createdAt"`
}
