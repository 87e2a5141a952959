// Package billing implements the order/payment reconciliation engine:
// the funding decision at order creation, checkout session construction,
// webhook reconciliation and invoice issuance.
package billing

import (
	"context"

	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const Currency = "pln"

// ProcessorClient is the slice of the payment processor API the engine
// uses. *processor.Client satisfies it.
type ProcessorClient interface {
	CreateCheckoutSession(ctx context.Context, req processor.SessionRequest) (processor.Session, error)
	CreateCustomer(ctx context.Context, details processor.CustomerDetails) (string, error)
	UpdateCustomer(ctx context.Context, id string, details processor.CustomerDetails) error
	CreateInvoice(ctx context.Context, customerID string, amountMinor int64, description string) (string, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (string, error)
	GetInvoicePDF(ctx context.Context, invoiceID string) (string, error)
}

// Notifier delivers customer/admin notifications. Rendering and transport
// live elsewhere; the engine only emits the events.
type Notifier interface {
	OrderCreated(ctx context.Context, customer model.Customer, order *model.Order)
	OrderPaid(ctx context.Context, customer model.Customer, order *model.Order)
	TopUpConfirmed(ctx context.Context, customer model.Customer, amount decimal.Decimal)
}

// LogNotifier is the default Notifier: it only records the event. The
// mailer wires in its own implementation.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n *LogNotifier) OrderCreated(ctx context.Context, customer model.Customer, order *model.Order) {
	n.Logger.Infow("order created", "customer", customer.ID, "order", order.Number)
}

func (n *LogNotifier) OrderPaid(ctx context.Context, customer model.Customer, order *model.Order) {
	n.Logger.Infow("order paid", "customer", customer.ID, "order", order.Number)
}

func (n *LogNotifier) TopUpConfirmed(ctx context.Context, customer model.Customer, amount decimal.Decimal) {
	n.Logger.Infow("top-up confirmed", "customer", customer.ID, "amount", amount)
}
