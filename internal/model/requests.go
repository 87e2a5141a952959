package model

import "github.com/shopspring/decimal"

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

type OrderItemRequest struct {
	Topic       string          `json:"topic"`
	Length      int             `json:"length"`
	UnitRate    decimal.Decimal `json:"unit_rate"`
	ContentType string          `json:"content_type"`
	Language    string          `json:"language"`
	Guidelines  string          `json:"guidelines,omitempty"`
}

type CreateOrderRequest struct {
	Items            []OrderItemRequest `json:"items"`
	Discount         decimal.Decimal    `json:"discount"`
	DeclaredDelivery string             `json:"declared_delivery"`
}

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type OrderResponse struct {
	Order      *Order `json:"order"`
	PaymentURL string `json:"payment_url,omitempty"`
}

type TopUpResponse struct {
	PaymentURL string `json:"payment_url"`
}

type InvoiceURLResponse struct {
	InvoiceURL string `json:"invoice_url"`
}

type BalanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

type StatusResponse struct {
	WebhookErrors int64 `json:"webhook_errors"`
}
