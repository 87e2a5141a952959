package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

type PayStatus string

const (
	PayPending PayStatus = "pending"
	PayPaid    PayStatus = "paid"
	PayFailed  PayStatus = "failed"
)

type PaymentType string

const (
	TopUp        PaymentType = "top_up"
	OrderPayment PaymentType = "order_payment"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// orderTransitions is the closed set of legal status moves. Completed and
// cancelled orders are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderInProgress, OrderCancelled},
	OrderInProgress: {OrderCompleted, OrderCancelled},
}

var payTransitions = map[PayStatus][]PayStatus{
	PayPending: {PayPaid, PayFailed},
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PayStatus) CanTransitionTo(to PayStatus) bool {
	for _, next := range payTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Customer struct {
	ID                  int    `json:"id"`
	Login               string `json:"login"`
	Email               string `json:"email"`
	BillingName         string `json:"billing_name,omitempty"`
	BillingAddress      string `json:"billing_address,omitempty"`
	TaxID               string `json:"tax_id,omitempty"`
	ProcessorCustomerID string `json:"-"`
}

type OrderItem struct {
	Topic       string          `json:"topic"`
	Length      int             `json:"length"`
	UnitRate    decimal.Decimal `json:"unit_rate"`
	Price       decimal.Decimal `json:"price"`
	ContentType string          `json:"content_type"`
	Language    string          `json:"language"`
	Guidelines  string          `json:"guidelines,omitempty"`
}

type Order struct {
	ID               int             `json:"id"`
	Number           int64           `json:"number"`
	CustomerID       int             `json:"-"`
	Items            []OrderItem     `json:"items"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Discount         decimal.Decimal `json:"discount"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PayStatus       `json:"payment_status"`
	DeclaredDelivery time.Time       `json:"declared_delivery"`
	ActualDelivery   *time.Time      `json:"actual_delivery,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Payment struct {
	ID                uuid.UUID       `json:"id"`
	CustomerID        int             `json:"-"`
	Type              PaymentType     `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	AppliedDiscount   decimal.Decimal `json:"applied_discount"`
	Status            PaymentStatus   `json:"status"`
	ExternalSessionID string          `json:"-"`
	ExternalInvoiceID string          `json:"-"`
	OrderID           *int            `json:"order_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type Invoice struct {
	ID         int             `json:"id"`
	Number     string          `json:"number"`
	PaymentID  uuid.UUID       `json:"-"`
	OrderID    *int            `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     string          `json:"status"`
	PaidDate   time.Time       `json:"paid_date"`
	PDFURL     string          `json:"pdf_url,omitempty"`
}

// ItemPrice computes a single item price: length × unitRate reduced by the
// order discount percent, rounded to 2 decimal places.
func ItemPrice(length int, unitRate, discountPercent decimal.Decimal) decimal.Decimal {
	gross := decimal.NewFromInt(int64(length)).Mul(unitRate)
	factor := decimal.NewFromInt(1).Sub(discountPercent.Div(decimal.NewFromInt(100)))
	return gross.Mul(factor).Round(2)
}
