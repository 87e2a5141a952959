package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/pmichalski/copydesk/internal/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InvoiceStorage interface {
	GetCustomerByID(ctx context.Context, id int) (model.Customer, error)
	SetProcessorCustomerID(ctx context.Context, customerID int, processorID string) error
	NextInvoiceNumber(ctx context.Context, year int) (int64, error)
	CreateInvoice(ctx context.Context, inv *model.Invoice) error
	GetInvoiceByOrderID(ctx context.Context, orderID int) (model.Invoice, error)
	GetInvoiceByPaymentID(ctx context.Context, paymentID uuid.UUID) (model.Invoice, error)
	SetInvoicePDF(ctx context.Context, invoiceID int, pdfURL string) error
	GetInvoicesMissingPDF(ctx context.Context, limit int) ([]model.Invoice, error)
	GetPaymentByID(ctx context.Context, id uuid.UUID) (model.Payment, error)
	GetPaymentBySessionID(ctx context.Context, sessionID string) (model.Payment, error)
	SetPaymentExternalInvoice(ctx context.Context, paymentID uuid.UUID, externalInvoiceID string) error
	GetOrder(ctx context.Context, id, customerID int) (model.Order, error)
}

// Issuer creates local invoices for completed payments, numbered
// FV/<year>/<6-digit sequence> with the sequence scoped to the year.
type Issuer struct {
	store     InvoiceStorage
	processor ProcessorClient
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewIssuer(store InvoiceStorage, proc ProcessorClient, logger *zap.SugaredLogger) *Issuer {
	return &Issuer{
		store:     store,
		processor: proc,
		logger:    logger,
		now:       time.Now,
	}
}

func InvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("FV/%d/%06d", year, seq)
}

func (i *Issuer) ensureProcessorCustomer(ctx context.Context, customer model.Customer) (string, error) {
	name := customer.BillingName
	if name == "" {
		name = customer.Login
	}
	details := processor.CustomerDetails{
		Name:    name,
		Email:   customer.Email,
		Address: customer.BillingAddress,
		TaxID:   customer.TaxID,
	}

	if customer.ProcessorCustomerID != "" {
		// keep the processor record in sync with the current billing
		// details; the invoice prints whatever the processor holds
		if err := i.processor.UpdateCustomer(ctx, customer.ProcessorCustomerID, details); err != nil {
			i.logger.Warnw("processor customer update failed",
				"customer", customer.ID, "error", err)
		}
		return customer.ProcessorCustomerID, nil
	}

	processorID, err := i.processor.CreateCustomer(ctx, details)
	if err != nil {
		return "", err
	}

	if err := i.store.SetProcessorCustomerID(ctx, customer.ID, processorID); err != nil {
		return "", err
	}

	return processorID, nil
}

// Issue persists the local invoice for a completed payment. A processor
// outage leaves pdf_url empty; retrieval retries later (on demand or via
// the backfill worker). The local invoice is created either way.
func (i *Issuer) Issue(ctx context.Context, customer model.Customer, payment *model.Payment,
	amount, paidAmount decimal.Decimal, orderID *int) (*model.Invoice, error) {

	pdfURL := ""
	processorID, err := i.ensureProcessorCustomer(ctx, customer)
	if err != nil {
		i.logger.Errorw("processor customer unavailable, invoice pdf deferred",
			"customer", customer.ID, "error", err)
	} else {
		externalID, err := i.processor.CreateInvoice(ctx, processorID,
			utils.ToMinorUnits(paidAmount), fmt.Sprintf("payment %s", payment.ID))
		if err != nil {
			i.logger.Errorw("processor invoice creation failed, pdf deferred",
				"payment", payment.ID, "error", err)
		} else {
			payment.ExternalInvoiceID = externalID
			if err := i.store.SetPaymentExternalInvoice(ctx, payment.ID, externalID); err != nil {
				return nil, err
			}

			pdfURL, err = i.processor.FinalizeInvoice(ctx, externalID)
			if err != nil {
				i.logger.Errorw("processor invoice finalize failed, pdf deferred",
					"payment", payment.ID, "error", err)
				pdfURL = ""
			}
		}
	}

	now := i.now()
	seq, err := i.store.NextInvoiceNumber(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	inv := &model.Invoice{
		Number:     InvoiceNumber(now.Year(), seq),
		PaymentID:  payment.ID,
		OrderID:    orderID,
		Amount:     amount,
		PaidAmount: paidAmount,
		Status:     "paid",
		PaidDate:   now,
		PDFURL:     pdfURL,
	}

	if err := i.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	return inv, nil
}

// ensurePDF is the reconciliation fallback: fetch (or re-create) the
// processor invoice for a local invoice whose pdf_url is still empty.
func (i *Issuer) ensurePDF(ctx context.Context, inv model.Invoice) (string, error) {
	if inv.PDFURL != "" {
		return inv.PDFURL, nil
	}

	payment, err := i.store.GetPaymentByID(ctx, inv.PaymentID)
	if err != nil {
		return "", err
	}

	var pdfURL string
	if payment.ExternalInvoiceID != "" {
		pdfURL, err = i.processor.GetInvoicePDF(ctx, payment.ExternalInvoiceID)
		if err != nil {
			return "", err
		}
	} else {
		customer, err := i.store.GetCustomerByID(ctx, payment.CustomerID)
		if err != nil {
			return "", err
		}
		processorID, err := i.ensureProcessorCustomer(ctx, customer)
		if err != nil {
			return "", err
		}
		externalID, err := i.processor.CreateInvoice(ctx, processorID,
			utils.ToMinorUnits(inv.PaidAmount), fmt.Sprintf("payment %s", payment.ID))
		if err != nil {
			return "", err
		}
		if err := i.store.SetPaymentExternalInvoice(ctx, payment.ID, externalID); err != nil {
			return "", err
		}
		pdfURL, err = i.processor.FinalizeInvoice(ctx, externalID)
		if err != nil {
			return "", err
		}
	}

	if err := i.store.SetInvoicePDF(ctx, inv.ID, pdfURL); err != nil {
		return "", err
	}

	return pdfURL, nil
}

// InvoiceURLByOrder returns the invoice PDF for the caller's own order,
// fetching it from the processor on first access if needed.
func (i *Issuer) InvoiceURLByOrder(ctx context.Context, customer model.Customer, orderID int) (string, error) {
	if _, err := i.store.GetOrder(ctx, orderID, customer.ID); err != nil {
		return "", err
	}

	inv, err := i.store.GetInvoiceByOrderID(ctx, orderID)
	if err != nil {
		return "", err
	}

	return i.ensurePDF(ctx, inv)
}

func (i *Issuer) InvoiceURLBySession(ctx context.Context, sessionID string) (string, error) {
	payment, err := i.store.GetPaymentBySessionID(ctx, sessionID)
	if err != nil {
		return "", err
	}

	inv, err := i.store.GetInvoiceByPaymentID(ctx, payment.ID)
	if err != nil {
		return "", err
	}

	return i.ensurePDF(ctx, inv)
}

// RunPDFBackfill periodically retries PDF retrieval for invoices issued
// while the processor was down.
func (i *Issuer) RunPDFBackfill(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			invoices, err := i.store.GetInvoicesMissingPDF(ctx, 20)
			if err != nil {
				i.logger.Errorf("pdf backfill: %v", err)
			}
			for _, inv := range invoices {
				if _, err := i.ensurePDF(ctx, inv); err != nil {
					i.logger.Errorw("pdf backfill failed", "invoice", inv.Number, "error", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}
