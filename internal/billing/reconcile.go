package billing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/pmichalski/copydesk/internal/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReconcilerStorage interface {
	GetPaymentBySessionID(ctx context.Context, sessionID string) (model.Payment, error)
	ApplyTopUp(ctx context.Context, payment *model.Payment) error
	ApplyOrderPayment(ctx context.Context, payment *model.Payment, orderID int, debit, credit decimal.Decimal) error
	ApplyDirectOrderPayment(ctx context.Context, payment *model.Payment, orderID int) error
	GetOrderByNumber(ctx context.Context, number int64) (model.Order, error)
	GetOrderByID(ctx context.Context, id int) (model.Order, error)
	GetCustomerByID(ctx context.Context, id int) (model.Customer, error)
}

type InvoiceIssuer interface {
	Issue(ctx context.Context, customer model.Customer, payment *model.Payment,
		amount, paidAmount decimal.Decimal, orderID *int) (*model.Invoice, error)
}

// Reconciler consumes confirmation events and applies exactly one of:
// account top-up, combined top-up-and-pay, or legacy direct order payment.
// Every event is acknowledged; processing failures are counted so silent
// reconciliation drift is observable.
type Reconciler struct {
	store    ReconcilerStorage
	issuer   InvoiceIssuer
	notifier Notifier
	logger   *zap.SugaredLogger
	errCount atomic.Int64
}

func NewReconciler(store ReconcilerStorage, issuer InvoiceIssuer, notifier Notifier, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:    store,
		issuer:   issuer,
		notifier: notifier,
		logger:   logger,
	}
}

// ErrorCount reports how many events failed to fully reconcile.
func (r *Reconciler) ErrorCount() int64 {
	return r.errCount.Load()
}

// RecordMalformed counts an event dropped before dispatch (unparseable
// body) so transport-level rejects show up in the same error count.
func (r *Reconciler) RecordMalformed(err error) {
	r.errCount.Add(1)
	r.logger.Warnw("unprocessable webhook event", "error", err)
}

func (r *Reconciler) fail(op string, err error) error {
	r.errCount.Add(1)
	return fmt.Errorf("%s: %w", op, err)
}

// Handle applies one confirmation event. A session id already recorded as
// a payment means a duplicate delivery: no-op, acknowledged. Malformed
// metadata is logged and dropped, never retried.
func (r *Reconciler) Handle(ctx context.Context, event processor.Event) error {
	_, err := r.store.GetPaymentBySessionID(ctx, event.SessionID)
	if err == nil {
		r.logger.Infow("duplicate webhook delivery", "session", event.SessionID)
		return nil
	}
	if !errors.Is(err, errs.ErrPaymentNotFound) {
		return r.fail("lookup payment", err)
	}

	intent, err := ParseIntent(event.Metadata)
	if err != nil {
		r.errCount.Add(1)
		r.logger.Warnw("unprocessable webhook metadata", "session", event.SessionID, "error", err)
		return nil
	}

	switch in := intent.(type) {
	case TopUpIntent:
		return r.handleTopUp(ctx, event, in)
	case OrderPaymentIntent:
		return r.handleOrderPayment(ctx, event, in)
	case DirectOrderPaymentIntent:
		return r.handleDirectOrderPayment(ctx, event, in)
	default:
		r.errCount.Add(1)
		r.logger.Warnw("unhandled intent", "session", event.SessionID)
		return nil
	}
}

func (r *Reconciler) handleTopUp(ctx context.Context, event processor.Event, in TopUpIntent) error {
	charged := utils.FromMinorUnits(event.AmountTotal)

	// the balance is credited with the nominal amount, not the charged
	// one: the tier discount reduces the charge, not the credit
	payment := &model.Payment{
		ID:                uuid.New(),
		CustomerID:        in.CustomerID,
		Type:              model.TopUp,
		Amount:            in.OriginalAmount,
		PaidAmount:        charged,
		AppliedDiscount:   in.AppliedDiscount,
		Status:            model.PaymentCompleted,
		ExternalSessionID: event.SessionID,
	}

	if err := r.store.ApplyTopUp(ctx, payment); err != nil {
		if errors.Is(err, errs.ErrDuplicatePayment) {
			r.logger.Infow("duplicate top-up delivery", "session", event.SessionID)
			return nil
		}
		return r.fail("apply top-up", err)
	}

	customer, err := r.store.GetCustomerByID(ctx, in.CustomerID)
	if err != nil {
		return r.fail("load customer", err)
	}

	if _, err := r.issuer.Issue(ctx, customer, payment, in.OriginalAmount, charged, nil); err != nil {
		// the credit is already committed; invoice issuance must not
		// block acknowledging the event
		r.errCount.Add(1)
		r.logger.Errorw("invoice issuance failed", "session", event.SessionID, "error", err)
	}

	r.notifier.TopUpConfirmed(ctx, customer, in.OriginalAmount)
	return nil
}

// handleOrderPayment settles the combined top-up-and-pay shape. The session
// charged only the shortfall (plus any floor top-up), so the rest of the
// order total comes off the balance and the extra top-up is credited, all
// in one storage transaction.
func (r *Reconciler) handleOrderPayment(ctx context.Context, event processor.Event, in OrderPaymentIntent) error {
	charged := utils.FromMinorUnits(event.AmountTotal)

	// the session asked for totalPrice - coveredFromBalance + extraTopUp
	coveredFromBalance := in.TotalPrice.Add(in.ExtraTopUp).Sub(charged)
	if coveredFromBalance.IsNegative() {
		return r.fail("order payment",
			fmt.Errorf("%w: charged %s exceeds order total %s plus top-up %s",
				errs.ErrInvariantViolation, charged, in.TotalPrice, in.ExtraTopUp))
	}

	order, err := r.store.GetOrderByNumber(ctx, in.OrderNumber)
	if err != nil {
		return r.fail("load order", err)
	}
	if !order.PaymentStatus.CanTransitionTo(model.PayPaid) {
		r.logger.Infow("order already settled", "order", order.Number, "session", event.SessionID)
		return nil
	}

	payment := &model.Payment{
		ID:                uuid.New(),
		CustomerID:        in.CustomerID,
		Type:              model.OrderPayment,
		Amount:            in.TotalPrice,
		PaidAmount:        charged,
		Status:            model.PaymentCompleted,
		ExternalSessionID: event.SessionID,
	}

	if err := r.store.ApplyOrderPayment(ctx, payment, order.ID, coveredFromBalance, in.ExtraTopUp); err != nil {
		if errors.Is(err, errs.ErrDuplicatePayment) {
			r.logger.Infow("duplicate order payment delivery", "session", event.SessionID)
			return nil
		}
		return r.fail("apply order payment", err)
	}

	customer, err := r.store.GetCustomerByID(ctx, in.CustomerID)
	if err != nil {
		return r.fail("load customer", err)
	}

	if _, err := r.issuer.Issue(ctx, customer, payment, in.TotalPrice, charged, &order.ID); err != nil {
		r.errCount.Add(1)
		r.logger.Errorw("invoice issuance failed", "session", event.SessionID, "error", err)
	}

	r.notifier.OrderPaid(ctx, customer, &order)
	return nil
}

// handleDirectOrderPayment settles the legacy session shape: the order was
// fully priced, the processor charged exactly the order total, and any
// invoice already issued for the order is updated rather than re-created.
func (r *Reconciler) handleDirectOrderPayment(ctx context.Context, event processor.Event, in DirectOrderPaymentIntent) error {
	order, err := r.store.GetOrderByID(ctx, in.OrderID)
	if err != nil {
		return r.fail("load order", err)
	}

	charged := utils.FromMinorUnits(event.AmountTotal)
	payment := &model.Payment{
		ID:                uuid.New(),
		CustomerID:        order.CustomerID,
		Type:              model.OrderPayment,
		Amount:            order.TotalPrice,
		PaidAmount:        charged,
		Status:            model.PaymentCompleted,
		ExternalSessionID: event.SessionID,
	}

	if err := r.store.ApplyDirectOrderPayment(ctx, payment, order.ID); err != nil {
		return r.fail("apply direct order payment", err)
	}

	customer, err := r.store.GetCustomerByID(ctx, order.CustomerID)
	if err != nil {
		return r.fail("load customer", err)
	}

	r.notifier.OrderPaid(ctx, customer, &order)
	return nil
}
