package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/shopspring/decimal"
)

// fakeStore implements the billing storage interfaces with overridable
// funcs. Lookups default to not-found, mutations to success.
type fakeStore struct {
	GetBalanceFunc              func(ctx context.Context, customerID int) (decimal.Decimal, error)
	NextOrderNumberFunc         func(ctx context.Context) (int64, error)
	CreateFundedOrderFunc       func(ctx context.Context, order *model.Order, payment *model.Payment) error
	CreatePendingOrderFunc      func(ctx context.Context, order *model.Order) error
	GetOrderFunc                func(ctx context.Context, id, customerID int) (model.Order, error)
	PayOrderFromBalanceFunc     func(ctx context.Context, order *model.Order, payment *model.Payment) error
	GetPaymentBySessionIDFunc   func(ctx context.Context, sessionID string) (model.Payment, error)
	ApplyTopUpFunc              func(ctx context.Context, payment *model.Payment) error
	ApplyOrderPaymentFunc       func(ctx context.Context, payment *model.Payment, orderID int, debit, credit decimal.Decimal) error
	ApplyDirectOrderPaymentFunc func(ctx context.Context, payment *model.Payment, orderID int) error
	GetOrderByNumberFunc        func(ctx context.Context, number int64) (model.Order, error)
	GetOrderByIDFunc            func(ctx context.Context, id int) (model.Order, error)
	GetCustomerByIDFunc         func(ctx context.Context, id int) (model.Customer, error)

	SetProcessorCustomerIDFunc    func(ctx context.Context, customerID int, processorID string) error
	NextInvoiceNumberFunc         func(ctx context.Context, year int) (int64, error)
	CreateInvoiceFunc             func(ctx context.Context, inv *model.Invoice) error
	GetInvoiceByOrderIDFunc       func(ctx context.Context, orderID int) (model.Invoice, error)
	GetInvoiceByPaymentIDFunc     func(ctx context.Context, paymentID uuid.UUID) (model.Invoice, error)
	SetInvoicePDFFunc             func(ctx context.Context, invoiceID int, pdfURL string) error
	GetInvoicesMissingPDFFunc     func(ctx context.Context, limit int) ([]model.Invoice, error)
	GetPaymentByIDFunc            func(ctx context.Context, id uuid.UUID) (model.Payment, error)
	SetPaymentExternalInvoiceFunc func(ctx context.Context, paymentID uuid.UUID, externalInvoiceID string) error
}

func (f *fakeStore) GetBalance(ctx context.Context, customerID int) (decimal.Decimal, error) {
	if f.GetBalanceFunc != nil {
		return f.GetBalanceFunc(ctx, customerID)
	}
	return decimal.Zero, nil
}

func (f *fakeStore) NextOrderNumber(ctx context.Context) (int64, error) {
	if f.NextOrderNumberFunc != nil {
		return f.NextOrderNumberFunc(ctx)
	}
	return 1, nil
}

func (f *fakeStore) CreateFundedOrder(ctx context.Context, order *model.Order, payment *model.Payment) error {
	if f.CreateFundedOrderFunc != nil {
		return f.CreateFundedOrderFunc(ctx, order, payment)
	}
	return nil
}

func (f *fakeStore) CreatePendingOrder(ctx context.Context, order *model.Order) error {
	if f.CreatePendingOrderFunc != nil {
		return f.CreatePendingOrderFunc(ctx, order)
	}
	return nil
}

func (f *fakeStore) GetOrder(ctx context.Context, id, customerID int) (model.Order, error) {
	if f.GetOrderFunc != nil {
		return f.GetOrderFunc(ctx, id, customerID)
	}
	return model.Order{}, errs.ErrOrderNotFound
}

func (f *fakeStore) PayOrderFromBalance(ctx context.Context, order *model.Order, payment *model.Payment) error {
	if f.PayOrderFromBalanceFunc != nil {
		return f.PayOrderFromBalanceFunc(ctx, order, payment)
	}
	return nil
}

func (f *fakeStore) GetPaymentBySessionID(ctx context.Context, sessionID string) (model.Payment, error) {
	if f.GetPaymentBySessionIDFunc != nil {
		return f.GetPaymentBySessionIDFunc(ctx, sessionID)
	}
	return model.Payment{}, errs.ErrPaymentNotFound
}

func (f *fakeStore) ApplyTopUp(ctx context.Context, payment *model.Payment) error {
	if f.ApplyTopUpFunc != nil {
		return f.ApplyTopUpFunc(ctx, payment)
	}
	return nil
}

func (f *fakeStore) ApplyOrderPayment(ctx context.Context, payment *model.Payment, orderID int, debit, credit decimal.Decimal) error {
	if f.ApplyOrderPaymentFunc != nil {
		return f.ApplyOrderPaymentFunc(ctx, payment, orderID, debit, credit)
	}
	return nil
}

func (f *fakeStore) ApplyDirectOrderPayment(ctx context.Context, payment *model.Payment, orderID int) error {
	if f.ApplyDirectOrderPaymentFunc != nil {
		return f.ApplyDirectOrderPaymentFunc(ctx, payment, orderID)
	}
	return nil
}

func (f *fakeStore) GetOrderByNumber(ctx context.Context, number int64) (model.Order, error) {
	if f.GetOrderByNumberFunc != nil {
		return f.GetOrderByNumberFunc(ctx, number)
	}
	return model.Order{}, errs.ErrOrderNotFound
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id int) (model.Order, error) {
	if f.GetOrderByIDFunc != nil {
		return f.GetOrderByIDFunc(ctx, id)
	}
	return model.Order{}, errs.ErrOrderNotFound
}

func (f *fakeStore) GetCustomerByID(ctx context.Context, id int) (model.Customer, error) {
	if f.GetCustomerByIDFunc != nil {
		return f.GetCustomerByIDFunc(ctx, id)
	}
	return model.Customer{ID: id, Login: "customer", Email: "customer@example.com"}, nil
}

func (f *fakeStore) SetProcessorCustomerID(ctx context.Context, customerID int, processorID string) error {
	if f.SetProcessorCustomerIDFunc != nil {
		return f.SetProcessorCustomerIDFunc(ctx, customerID, processorID)
	}
	return nil
}

func (f *fakeStore) NextInvoiceNumber(ctx context.Context, year int) (int64, error) {
	if f.NextInvoiceNumberFunc != nil {
		return f.NextInvoiceNumberFunc(ctx, year)
	}
	return 1, nil
}

func (f *fakeStore) CreateInvoice(ctx context.Context, inv *model.Invoice) error {
	if f.CreateInvoiceFunc != nil {
		return f.CreateInvoiceFunc(ctx, inv)
	}
	return nil
}

func (f *fakeStore) GetInvoiceByOrderID(ctx context.Context, orderID int) (model.Invoice, error) {
	if f.GetInvoiceByOrderIDFunc != nil {
		return f.GetInvoiceByOrderIDFunc(ctx, orderID)
	}
	return model.Invoice{}, errs.ErrInvoiceNotFound
}

func (f *fakeStore) GetInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (model.Invoice, error) {
	if f.GetInvoiceByPaymentIDFunc != nil {
		return f.GetInvoiceByPaymentIDFunc(ctx, paymentID)
	}
	return model.Invoice{}, errs.ErrInvoiceNotFound
}

func (f *fakeStore) SetInvoicePDF(ctx context.Context, invoiceID int, pdfURL string) error {
	if f.SetInvoicePDFFunc != nil {
		return f.SetInvoicePDFFunc(ctx, invoiceID, pdfURL)
	}
	return nil
}

func (f *fakeStore) GetInvoicesMissingPDF(ctx context.Context, limit int) ([]model.Invoice, error) {
	if f.GetInvoicesMissingPDFFunc != nil {
		return f.GetInvoicesMissingPDFFunc(ctx, limit)
	}
	return nil, nil
}

func (f *fakeStore) GetPaymentByID(ctx context.Context, id uuid.UUID) (model.Payment, error) {
	if f.GetPaymentByIDFunc != nil {
		return f.GetPaymentByIDFunc(ctx, id)
	}
	return model.Payment{}, errs.ErrPaymentNotFound
}

func (f *fakeStore) SetPaymentExternalInvoice(ctx context.Context, paymentID uuid.UUID, externalInvoiceID string) error {
	if f.SetPaymentExternalInvoiceFunc != nil {
		return f.SetPaymentExternalInvoiceFunc(ctx, paymentID, externalInvoiceID)
	}
	return nil
}

// fakeProcessor captures checkout sessions and answers invoice calls.
type fakeProcessor struct {
	CreateCheckoutSessionFunc func(ctx context.Context, req processor.SessionRequest) (processor.Session, error)
	CreateCustomerFunc        func(ctx context.Context, details processor.CustomerDetails) (string, error)
	UpdateCustomerFunc        func(ctx context.Context, id string, details processor.CustomerDetails) error
	CreateInvoiceFunc         func(ctx context.Context, customerID string, amountMinor int64, description string) (string, error)
	FinalizeInvoiceFunc       func(ctx context.Context, invoiceID string) (string, error)
	GetInvoicePDFFunc         func(ctx context.Context, invoiceID string) (string, error)

	sessions []processor.SessionRequest
}

func (f *fakeProcessor) CreateCheckoutSession(ctx context.Context, req processor.SessionRequest) (processor.Session, error) {
	f.sessions = append(f.sessions, req)
	if f.CreateCheckoutSessionFunc != nil {
		return f.CreateCheckoutSessionFunc(ctx, req)
	}
	return processor.Session{ID: "cs_test", URL: "https://checkout.example/cs_test"}, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, details processor.CustomerDetails) (string, error) {
	if f.CreateCustomerFunc != nil {
		return f.CreateCustomerFunc(ctx, details)
	}
	return "cus_test", nil
}

func (f *fakeProcessor) UpdateCustomer(ctx context.Context, id string, details processor.CustomerDetails) error {
	if f.UpdateCustomerFunc != nil {
		return f.UpdateCustomerFunc(ctx, id, details)
	}
	return nil
}

func (f *fakeProcessor) CreateInvoice(ctx context.Context, customerID string, amountMinor int64, description string) (string, error) {
	if f.CreateInvoiceFunc != nil {
		return f.CreateInvoiceFunc(ctx, customerID, amountMinor, description)
	}
	return "in_test", nil
}

func (f *fakeProcessor) FinalizeInvoice(ctx context.Context, invoiceID string) (string, error) {
	if f.FinalizeInvoiceFunc != nil {
		return f.FinalizeInvoiceFunc(ctx, invoiceID)
	}
	return "https://invoices.example/in_test.pdf", nil
}

func (f *fakeProcessor) GetInvoicePDF(ctx context.Context, invoiceID string) (string, error) {
	if f.GetInvoicePDFFunc != nil {
		return f.GetInvoicePDFFunc(ctx, invoiceID)
	}
	return "https://invoices.example/in_test.pdf", nil
}

// recordNotifier counts emitted notifications.
type recordNotifier struct {
	created   int
	paid      int
	toppedUp  int
	lastOrder *model.Order
}

func (n *recordNotifier) OrderCreated(ctx context.Context, customer model.Customer, order *model.Order) {
	n.created++
	n.lastOrder = order
}

func (n *recordNotifier) OrderPaid(ctx context.Context, customer model.Customer, order *model.Order) {
	n.paid++
	n.lastOrder = order
}

func (n *recordNotifier) TopUpConfirmed(ctx context.Context, customer model.Customer, amount decimal.Decimal) {
	n.toppedUp++
}

// fakeIssuer records invoice issuance.
type fakeIssuer struct {
	IssueFunc func(ctx context.Context, customer model.Customer, payment *model.Payment,
		amount, paidAmount decimal.Decimal, orderID *int) (*model.Invoice, error)

	issued int
}

func (f *fakeIssuer) Issue(ctx context.Context, customer model.Customer, payment *model.Payment,
	amount, paidAmount decimal.Decimal, orderID *int) (*model.Invoice, error) {
	f.issued++
	if f.IssueFunc != nil {
		return f.IssueFunc(ctx, customer, payment, amount, paidAmount, orderID)
	}
	return &model.Invoice{Number: "FV/2026/000001", PaymentID: payment.ID, OrderID: orderID}, nil
}
