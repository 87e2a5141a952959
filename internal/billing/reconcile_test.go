package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestReconciler(t *testing.T, store *fakeStore, issuer *fakeIssuer, notifier *recordNotifier) *Reconciler {
	t.Helper()
	return NewReconciler(store, issuer, notifier, zaptest.NewLogger(t).Sugar())
}

func topUpEvent(sessionID string, amountMinor int64) processor.Event {
	return processor.Event{
		ID:          "evt_" + sessionID,
		Type:        "checkout.session.completed",
		SessionID:   sessionID,
		AmountTotal: amountMinor,
		Currency:    Currency,
		Metadata: TopUpIntent{
			CustomerID:       3,
			OriginalAmount:   decimal.NewFromInt(200),
			DiscountedAmount: decimal.NewFromInt(180),
			AppliedDiscount:  decimal.NewFromInt(10),
		}.Metadata(),
	}
}

func TestHandleDuplicateSessionIsNoOp(t *testing.T) {
	applied := false
	store := &fakeStore{
		GetPaymentBySessionIDFunc: func(ctx context.Context, sessionID string) (model.Payment, error) {
			return model.Payment{ExternalSessionID: sessionID}, nil
		},
		ApplyTopUpFunc: func(ctx context.Context, payment *model.Payment) error {
			applied = true
			return nil
		},
	}
	r := newTestReconciler(t, store, &fakeIssuer{}, &recordNotifier{})

	err := r.Handle(context.Background(), topUpEvent("cs_dup", 18000))
	require.NoError(t, err)
	require.False(t, applied, "an already recorded session must not be applied again")
	require.Equal(t, int64(0), r.ErrorCount())
}

func TestHandleTopUpCreditsOriginalAmount(t *testing.T) {
	var applied *model.Payment
	store := &fakeStore{
		ApplyTopUpFunc: func(ctx context.Context, payment *model.Payment) error {
			applied = payment
			return nil
		},
	}
	issuer := &fakeIssuer{}
	notifier := &recordNotifier{}
	r := newTestReconciler(t, store, issuer, notifier)

	err := r.Handle(context.Background(), topUpEvent("cs_topup", 18000))
	require.NoError(t, err)

	require.NotNil(t, applied)
	require.Equal(t, model.TopUp, applied.Type)
	require.True(t, applied.Amount.Equal(decimal.NewFromInt(200)), "credit is the nominal amount")
	require.True(t, applied.PaidAmount.Equal(decimal.NewFromInt(180)), "charge is the discounted amount")
	require.Equal(t, "cs_topup", applied.ExternalSessionID)

	require.Equal(t, 1, issuer.issued)
	require.Equal(t, 1, notifier.toppedUp)
}

func TestHandleTopUpDuplicateConstraintIsAcked(t *testing.T) {
	store := &fakeStore{
		ApplyTopUpFunc: func(ctx context.Context, payment *model.Payment) error {
			return errs.ErrDuplicatePayment
		},
	}
	notifier := &recordNotifier{}
	r := newTestReconciler(t, store, &fakeIssuer{}, notifier)

	err := r.Handle(context.Background(), topUpEvent("cs_race", 18000))
	require.NoError(t, err)
	require.Equal(t, 0, notifier.toppedUp)
	require.Equal(t, int64(0), r.ErrorCount())
}

func TestHandleTopUpInvoiceFailureStillAcks(t *testing.T) {
	issuer := &fakeIssuer{
		IssueFunc: func(ctx context.Context, customer model.Customer, payment *model.Payment,
			amount, paidAmount decimal.Decimal, orderID *int) (*model.Invoice, error) {
			return nil, errs.ErrPaymentGateway
		},
	}
	notifier := &recordNotifier{}
	r := newTestReconciler(t, &fakeStore{}, issuer, notifier)

	err := r.Handle(context.Background(), topUpEvent("cs_inv", 18000))
	require.NoError(t, err, "the committed credit must be acknowledged despite the invoice failure")
	require.Equal(t, int64(1), r.ErrorCount())
	require.Equal(t, 1, notifier.toppedUp)
}

// settleCreatedOrder drives the full shortfall flow: Orders.Create opens the
// session, then the confirmation built from that exact session is replayed
// through the reconciler. Returns what ApplyOrderPayment received.
func settleCreatedOrder(t *testing.T, balance int64, req model.CreateOrderRequest) (debit, credit decimal.Decimal, payment *model.Payment) {
	t.Helper()

	var pending model.Order
	createStore := &fakeStore{
		GetBalanceFunc: func(ctx context.Context, customerID int) (decimal.Decimal, error) {
			return decimal.NewFromInt(balance), nil
		},
		NextOrderNumberFunc: func(ctx context.Context) (int64, error) { return 42, nil },
		CreatePendingOrderFunc: func(ctx context.Context, o *model.Order) error {
			pending = *o
			return nil
		},
	}
	proc := &fakeProcessor{}
	orders := newTestOrders(t, createStore, proc, &recordNotifier{})

	_, _, err := orders.Create(context.Background(), model.Customer{ID: 3}, req)
	require.NoError(t, err)
	require.Len(t, proc.sessions, 1)
	session := proc.sessions[0]

	settleStore := &fakeStore{
		GetOrderByNumberFunc: func(ctx context.Context, number int64) (model.Order, error) {
			require.Equal(t, pending.Number, number)
			return pending, nil
		},
		ApplyOrderPaymentFunc: func(ctx context.Context, p *model.Payment, id int, d, c decimal.Decimal) error {
			payment, debit, credit = p, d, c
			return nil
		},
	}
	r := newTestReconciler(t, settleStore, &fakeIssuer{}, &recordNotifier{})

	err = r.Handle(context.Background(), processor.Event{
		SessionID:   "cs_test",
		AmountTotal: session.AmountMinor,
		Metadata:    session.Metadata,
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), r.ErrorCount())
	require.NotNil(t, payment)
	return debit, credit, payment
}

func TestOrderPaymentRoundTripShortfall(t *testing.T) {
	// balance 50, total 80: session charges 30, the other 50 comes off the balance
	debit, credit, payment := settleCreatedOrder(t, 50, orderRequest(1600))

	require.True(t, debit.Equal(decimal.NewFromInt(50)), "debit = %s", debit)
	require.True(t, credit.IsZero(), "credit = %s", credit)
	require.True(t, payment.PaidAmount.Equal(decimal.NewFromInt(30)))
	require.True(t, payment.Amount.Equal(decimal.NewFromInt(80)))
}

func TestOrderPaymentRoundTripFlooredCharge(t *testing.T) {
	// balance 50, total 55: session floored to 20, balance covers 50, 15 credited back
	debit, credit, payment := settleCreatedOrder(t, 50, orderRequest(1100))

	require.True(t, debit.Equal(decimal.NewFromInt(50)), "debit = %s", debit)
	require.True(t, credit.Equal(decimal.NewFromInt(15)), "credit = %s", credit)
	require.True(t, payment.PaidAmount.Equal(decimal.NewFromInt(20)))
}

func TestHandleOrderPaymentOvercharge(t *testing.T) {
	mutated := false
	store := &fakeStore{
		ApplyOrderPaymentFunc: func(ctx context.Context, payment *model.Payment, id int, debit, credit decimal.Decimal) error {
			mutated = true
			return nil
		},
	}
	r := newTestReconciler(t, store, &fakeIssuer{}, &recordNotifier{})

	// charged 20 against a session asking 18
	event := processor.Event{
		SessionID:   "cs_over",
		AmountTotal: 2000,
		Metadata: OrderPaymentIntent{
			CustomerID:  3,
			OrderNumber: 42,
			TotalPrice:  decimal.NewFromInt(18),
		}.Metadata(""),
	}

	err := r.Handle(context.Background(), event)
	require.ErrorIs(t, err, errs.ErrInvariantViolation)
	require.False(t, mutated, "an overcharged event must not touch the order")
	require.Equal(t, int64(1), r.ErrorCount())
}

func TestHandleOrderPaymentAlreadySettled(t *testing.T) {
	mutated := false
	store := &fakeStore{
		GetOrderByNumberFunc: func(ctx context.Context, number int64) (model.Order, error) {
			return model.Order{
				ID: 11, Number: number, CustomerID: 3,
				TotalPrice: decimal.NewFromInt(80), PaymentStatus: model.PayPaid,
			}, nil
		},
		ApplyOrderPaymentFunc: func(ctx context.Context, payment *model.Payment, id int, debit, credit decimal.Decimal) error {
			mutated = true
			return nil
		},
	}
	notifier := &recordNotifier{}
	r := newTestReconciler(t, store, &fakeIssuer{}, notifier)

	event := processor.Event{
		SessionID:   "cs_second",
		AmountTotal: 3000,
		Metadata: OrderPaymentIntent{
			CustomerID:  3,
			OrderNumber: 42,
			TotalPrice:  decimal.NewFromInt(80),
		}.Metadata(""),
	}

	err := r.Handle(context.Background(), event)
	require.NoError(t, err)
	require.False(t, mutated, "a settled order must not be paid again")
	require.Equal(t, 0, notifier.paid)
	require.Equal(t, int64(0), r.ErrorCount())
}

func TestHandleMalformedMetadataIsAcked(t *testing.T) {
	r := newTestReconciler(t, &fakeStore{}, &fakeIssuer{}, &recordNotifier{})

	tests := []map[string]string{
		nil,
		{"type": "subscription"},
		{"type": "top_up", "customer_id": "three"},
		{"type": "order_payment", "customer_id": "3"},
	}

	for i, md := range tests {
		err := r.Handle(context.Background(), processor.Event{SessionID: "cs_bad", Metadata: md})
		if err != nil {
			t.Errorf("case %d: malformed metadata must be acknowledged, got %v", i, err)
		}
	}
	require.Equal(t, int64(len(tests)), r.ErrorCount())
}

func TestRecordMalformedCountsError(t *testing.T) {
	r := newTestReconciler(t, &fakeStore{}, &fakeIssuer{}, &recordNotifier{})

	r.RecordMalformed(errors.New("unreadable body"))
	r.RecordMalformed(errors.New("bad signature payload"))

	require.Equal(t, int64(2), r.ErrorCount())
}

func TestHandleDirectOrderPayment(t *testing.T) {
	var applied *model.Payment
	store := &fakeStore{
		GetOrderByIDFunc: func(ctx context.Context, id int) (model.Order, error) {
			return model.Order{ID: id, CustomerID: 7, TotalPrice: decimal.NewFromInt(80)}, nil
		},
		ApplyDirectOrderPaymentFunc: func(ctx context.Context, payment *model.Payment, orderID int) error {
			applied = payment
			return nil
		},
	}
	issuer := &fakeIssuer{}
	notifier := &recordNotifier{}
	r := newTestReconciler(t, store, issuer, notifier)

	event := processor.Event{
		SessionID:   "cs_legacy",
		AmountTotal: 8000,
		Metadata:    map[string]string{"order_id": "11"},
	}

	err := r.Handle(context.Background(), event)
	require.NoError(t, err)

	require.NotNil(t, applied)
	require.Equal(t, 7, applied.CustomerID)
	require.True(t, applied.PaidAmount.Equal(decimal.NewFromInt(80)))
	require.Equal(t, 0, issuer.issued, "the legacy path issues no new invoice")
	require.Equal(t, 1, notifier.paid)
}
