package billing

import (
	"fmt"
	"strconv"

	"github.com/pmichalski/copydesk/internal/model"
	"github.com/shopspring/decimal"
)

// Checkout session metadata keys. The metadata bag is the only state the
// reconciler can rely on when a confirmation arrives, so every business
// fact needed to settle the payment travels in it.
const (
	metaType             = "type"
	metaCustomerID       = "customer_id"
	metaOriginalAmount   = "original_amount"
	metaDiscountedAmount = "discounted_amount"
	metaAppliedDiscount  = "applied_discount"
	metaOrderNumber      = "order_number"
	metaOrderID          = "order_id"
	metaTotalPrice       = "total_price"
	metaDiscount         = "discount"
	metaExtraTopUp       = "extra_top_up"
	metaItemsSnapshot    = "items_snapshot"
)

// Intent is the parsed form of session metadata: a tagged union dispatched
// on the "type" key. Events with no "type" but an "order_id" are the legacy
// direct-payment shape kept for sessions opened by older releases.
type Intent interface {
	intent()
}

type TopUpIntent struct {
	CustomerID       int
	OriginalAmount   decimal.Decimal
	DiscountedAmount decimal.Decimal
	AppliedDiscount  decimal.Decimal
}

type OrderPaymentIntent struct {
	CustomerID  int
	OrderNumber int64
	TotalPrice  decimal.Decimal
	Discount    decimal.Decimal
	ExtraTopUp  decimal.Decimal
}

type DirectOrderPaymentIntent struct {
	OrderID int
}

func (TopUpIntent) intent()              {}
func (OrderPaymentIntent) intent()       {}
func (DirectOrderPaymentIntent) intent() {}

func (i TopUpIntent) Metadata() map[string]string {
	return map[string]string{
		metaType:             string(model.TopUp),
		metaCustomerID:       strconv.Itoa(i.CustomerID),
		metaOriginalAmount:   i.OriginalAmount.String(),
		metaDiscountedAmount: i.DiscountedAmount.String(),
		metaAppliedDiscount:  i.AppliedDiscount.String(),
	}
}

func (i OrderPaymentIntent) Metadata(itemsSnapshot string) map[string]string {
	md := map[string]string{
		metaType:        string(model.OrderPayment),
		metaCustomerID:  strconv.Itoa(i.CustomerID),
		metaOrderNumber: strconv.FormatInt(i.OrderNumber, 10),
		metaTotalPrice:  i.TotalPrice.String(),
		metaDiscount:    i.Discount.String(),
		metaExtraTopUp:  i.ExtraTopUp.String(),
	}
	if itemsSnapshot != "" {
		md[metaItemsSnapshot] = itemsSnapshot
	}
	return md
}

func metaInt(md map[string]string, key string) (int, error) {
	v, ok := md[key]
	if !ok {
		return 0, fmt.Errorf("metadata missing %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("metadata %q: %w", key, err)
	}
	return n, nil
}

func metaDecimal(md map[string]string, key string) (decimal.Decimal, error) {
	v, ok := md[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("metadata missing %q", key)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("metadata %q: %w", key, err)
	}
	return d, nil
}

// ParseIntent validates the metadata once at the boundary. Anything it
// rejects is acknowledged without side effects.
func ParseIntent(md map[string]string) (Intent, error) {
	switch md[metaType] {
	case string(model.TopUp):
		customerID, err := metaInt(md, metaCustomerID)
		if err != nil {
			return nil, err
		}
		original, err := metaDecimal(md, metaOriginalAmount)
		if err != nil {
			return nil, err
		}
		discounted, err := metaDecimal(md, metaDiscountedAmount)
		if err != nil {
			return nil, err
		}
		applied, err := metaDecimal(md, metaAppliedDiscount)
		if err != nil {
			return nil, err
		}
		return TopUpIntent{
			CustomerID:       customerID,
			OriginalAmount:   original,
			DiscountedAmount: discounted,
			AppliedDiscount:  applied,
		}, nil

	case string(model.OrderPayment):
		customerID, err := metaInt(md, metaCustomerID)
		if err != nil {
			return nil, err
		}
		numberStr, ok := md[metaOrderNumber]
		if !ok {
			return nil, fmt.Errorf("metadata missing %q", metaOrderNumber)
		}
		number, err := strconv.ParseInt(numberStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", metaOrderNumber, err)
		}
		total, err := metaDecimal(md, metaTotalPrice)
		if err != nil {
			return nil, err
		}
		discount, err := metaDecimal(md, metaDiscount)
		if err != nil {
			return nil, err
		}
		extra, err := metaDecimal(md, metaExtraTopUp)
		if err != nil {
			return nil, err
		}
		return OrderPaymentIntent{
			CustomerID:  customerID,
			OrderNumber: number,
			TotalPrice:  total,
			Discount:    discount,
			ExtraTopUp:  extra,
		}, nil

	case "":
		// legacy sessions carry only the order id
		if _, ok := md[metaOrderID]; ok {
			orderID, err := metaInt(md, metaOrderID)
			if err != nil {
				return nil, err
			}
			return DirectOrderPaymentIntent{OrderID: orderID}, nil
		}
		return nil, fmt.Errorf("metadata missing %q", metaType)

	default:
		return nil, fmt.Errorf("unknown metadata type %q", md[metaType])
	}
}
