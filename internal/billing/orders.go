package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/pmichalski/copydesk/internal/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderStorage interface {
	GetBalance(ctx context.Context, customerID int) (decimal.Decimal, error)
	NextOrderNumber(ctx context.Context) (int64, error)
	CreateFundedOrder(ctx context.Context, order *model.Order, payment *model.Payment) error
	CreatePendingOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id, customerID int) (model.Order, error)
	PayOrderFromBalance(ctx context.Context, order *model.Order, payment *model.Payment) error
}

// Orders owns order creation and the funding decision: how much of an
// order the balance covers and how much must go through checkout.
type Orders struct {
	store      OrderStorage
	processor  ProcessorClient
	notifier   Notifier
	logger     *zap.SugaredLogger
	minTopUp   decimal.Decimal
	tiers      []DiscountTier
	successURL string
	cancelURL  string
}

func NewOrders(store OrderStorage, proc ProcessorClient, notifier Notifier, logger *zap.SugaredLogger,
	minTopUp decimal.Decimal, tiers []DiscountTier, successURL, cancelURL string) *Orders {
	return &Orders{
		store:      store,
		processor:  proc,
		notifier:   notifier,
		logger:     logger,
		minTopUp:   minTopUp,
		tiers:      tiers,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// DiscountTier is one volume-discount step on account top-ups.
type DiscountTier struct {
	Min     decimal.Decimal
	Percent decimal.Decimal
}

// ParseTopUpTiers parses the configured tier list, "min:percent" pairs
// separated by commas, e.g. "500:20,200:10". Tiers are returned sorted by
// descending minimum so a top-down scan finds the best match first.
func ParseTopUpTiers(s string) ([]DiscountTier, error) {
	var tiers []DiscountTier
	for _, part := range strings.Split(s, ",") {
		minStr, percentStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("tier %q: want min:percent", part)
		}
		min, err := decimal.NewFromString(minStr)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		percent, err := decimal.NewFromString(percentStr)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("tier %q: percent out of range", part)
		}
		tiers = append(tiers, DiscountTier{Min: min, Percent: percent})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min.GreaterThan(tiers[j].Min) })
	return tiers, nil
}

func TopUpDiscountPercent(tiers []DiscountTier, amount decimal.Decimal) decimal.Decimal {
	for _, tier := range tiers {
		if amount.GreaterThanOrEqual(tier.Min) {
			return tier.Percent
		}
	}
	return decimal.Zero
}

func buildItems(reqs []model.OrderItemRequest, discount decimal.Decimal) ([]model.OrderItem, decimal.Decimal, error) {
	if len(reqs) == 0 {
		return nil, decimal.Zero, errs.Validation("order must contain at least one item")
	}
	if discount.IsNegative() || discount.GreaterThan(decimal.NewFromInt(100)) {
		return nil, decimal.Zero, errs.Validation("discount must be between 0 and 100")
	}

	items := make([]model.OrderItem, 0, len(reqs))
	total := decimal.Zero
	for _, r := range reqs {
		if r.Topic == "" {
			return nil, decimal.Zero, errs.Validation("item topic is required")
		}
		if r.Length <= 0 {
			return nil, decimal.Zero, errs.Validation("item length must be positive")
		}
		if !r.UnitRate.IsPositive() {
			return nil, decimal.Zero, errs.Validation("item unit rate must be positive")
		}

		item := model.OrderItem{
			Topic:       r.Topic,
			Length:      r.Length,
			UnitRate:    r.UnitRate,
			Price:       model.ItemPrice(r.Length, r.UnitRate, discount),
			ContentType: r.ContentType,
			Language:    r.Language,
			Guidelines:  r.Guidelines,
		}
		items = append(items, item)
		total = total.Add(item.Price)
	}

	return items, total, nil
}

// Create runs the funding decision. A fully covered order is debited and
// settled immediately; a shortfall opens a checkout session for
// max(shortfall, minimum top-up) and the order is persisted pending only
// after the session call succeeds.
func (o *Orders) Create(ctx context.Context, customer model.Customer, req model.CreateOrderRequest) (*model.Order, string, error) {
	items, total, err := buildItems(req.Items, req.Discount)
	if err != nil {
		return nil, "", err
	}

	declared, err := time.Parse("2006-01-02", req.DeclaredDelivery)
	if err != nil {
		return nil, "", errs.Validation("declared_delivery must be a YYYY-MM-DD date")
	}

	balance, err := o.store.GetBalance(ctx, customer.ID)
	if err != nil {
		return nil, "", err
	}

	number, err := o.store.NextOrderNumber(ctx)
	if err != nil {
		return nil, "", err
	}

	order := &model.Order{
		Number:           number,
		CustomerID:       customer.ID,
		Items:            items,
		TotalPrice:       total,
		Discount:         req.Discount,
		DeclaredDelivery: declared,
	}

	missing := total.Sub(balance)
	if !missing.IsPositive() {
		order.Status = model.OrderInProgress
		order.PaymentStatus = model.PayPaid

		payment := &model.Payment{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			Type:       model.OrderPayment,
			Amount:     total,
			PaidAmount: total,
			Status:     model.PaymentCompleted,
		}

		if err := o.store.CreateFundedOrder(ctx, order, payment); err != nil {
			return nil, "", err
		}

		o.notifier.OrderCreated(ctx, customer, order)
		return order, "", nil
	}

	actualMissing := decimal.Max(missing, o.minTopUp)
	extraTopUp := actualMissing.Sub(missing)

	sessionURL, err := o.openOrderSession(ctx, customer, order, actualMissing, extraTopUp)
	if err != nil {
		// all-or-nothing: no order row without a session
		return nil, "", err
	}

	order.Status = model.OrderPending
	order.PaymentStatus = model.PayPending
	if err := o.store.CreatePendingOrder(ctx, order); err != nil {
		return nil, "", err
	}

	o.notifier.OrderCreated(ctx, customer, order)
	return order, sessionURL, nil
}

func (o *Orders) openOrderSession(ctx context.Context, customer model.Customer, order *model.Order,
	amount, extraTopUp decimal.Decimal) (string, error) {
	intent := OrderPaymentIntent{
		CustomerID:  customer.ID,
		OrderNumber: order.Number,
		TotalPrice:  order.TotalPrice,
		Discount:    order.Discount,
		ExtraTopUp:  extraTopUp,
	}

	snapshot, err := json.Marshal(order.Items)
	if err != nil {
		return "", fmt.Errorf("marshal items snapshot: %w", err)
	}

	session, err := o.processor.CreateCheckoutSession(ctx, processor.SessionRequest{
		AmountMinor:   utils.ToMinorUnits(amount),
		Currency:      Currency,
		SuccessURL:    o.successURL,
		CancelURL:     o.cancelURL,
		CustomerEmail: customer.Email,
		Reference:     uuid.NewString(),
		Metadata:      intent.Metadata(string(snapshot)),
	})
	if err != nil {
		return "", err
	}

	return session.URL, nil
}

// TopUp opens a checkout session crediting the account. The charged amount
// carries the tier discount; the credited amount stays nominal.
func (o *Orders) TopUp(ctx context.Context, customer model.Customer, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", errs.Validation("top-up amount must be positive")
	}

	percent := TopUpDiscountPercent(o.tiers, amount)
	factor := decimal.NewFromInt(1).Sub(percent.Div(decimal.NewFromInt(100)))
	discounted := amount.Mul(factor).Round(2)

	intent := TopUpIntent{
		CustomerID:       customer.ID,
		OriginalAmount:   amount,
		DiscountedAmount: discounted,
		AppliedDiscount:  percent,
	}

	session, err := o.processor.CreateCheckoutSession(ctx, processor.SessionRequest{
		AmountMinor:   utils.ToMinorUnits(discounted),
		Currency:      Currency,
		SuccessURL:    o.successURL,
		CancelURL:     o.cancelURL,
		CustomerEmail: customer.Email,
		Reference:     uuid.NewString(),
		Metadata:      intent.Metadata(),
	})
	if err != nil {
		return "", err
	}

	return session.URL, nil
}

// ResumePayment re-runs the funding decision for an order still awaiting
// payment. If the balance has grown to cover it, the order settles from
// balance without a new session.
func (o *Orders) ResumePayment(ctx context.Context, customer model.Customer, orderID int) (string, error) {
	order, err := o.store.GetOrder(ctx, orderID, customer.ID)
	if err != nil {
		return "", err
	}
	if !order.PaymentStatus.CanTransitionTo(model.PayPaid) {
		return "", errs.ErrOrderAlreadyPaid
	}

	balance, err := o.store.GetBalance(ctx, customer.ID)
	if err != nil {
		return "", err
	}

	missing := order.TotalPrice.Sub(balance)
	if !missing.IsPositive() {
		payment := &model.Payment{
			ID:         uuid.New(),
			CustomerID: customer.ID,
			Type:       model.OrderPayment,
			Amount:     order.TotalPrice,
			PaidAmount: order.TotalPrice,
			Status:     model.PaymentCompleted,
		}

		if err := o.store.PayOrderFromBalance(ctx, &order, payment); err != nil {
			return "", err
		}

		o.notifier.OrderPaid(ctx, customer, &order)
		return "", nil
	}

	actualMissing := decimal.Max(missing, o.minTopUp)
	return o.openOrderSession(ctx, customer, &order, actualMissing, actualMissing.Sub(missing))
}
