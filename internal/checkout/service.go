// Package checkout creates orders from confirmed payment triggers. Creation
// is the saga's only transactional part: idempotency check, stock
// reservation and the order insert commit together, before any external
// service is called.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atelierluna/fulfillment/internal/domain/catalog"
	"github.com/atelierluna/fulfillment/internal/domain/discount"
	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems              = errors.New("items required")
	ErrShippingDetailsRequired = errors.New("shipping details required")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	VariantID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for variant %s", e.VariantID)
}

// ItemRequest is one cart line in a creation request.
type ItemRequest struct {
	VariantID string
	Quantity  int
}

// CreateRequest holds the input for creating an order from a confirmed
// payment trigger.
type CreateRequest struct {
	// SessionKey is the payment-session key for card orders; it doubles as
	// the idempotency key. Empty for cash-on-delivery.
	SessionKey        string
	PaymentMethod     order.PaymentMethod
	ShippingDetailsID string
	Items             []ItemRequest
	DiscountCodes     []string
}

// CreateResult reports the order and whether this call created it. Created
// is false when the idempotency guard found an existing order for the
// trigger key.
type CreateResult struct {
	Order   *order.Order
	Created bool
}

// Service encapsulates order creation business logic.
type Service struct {
	variants  catalog.Repository
	shipping  order.ShippingRepository
	discounts discount.Repository
	orders    order.Repository

	shippingCost decimal.Decimal
	now          func() time.Time
}

// NewService creates a checkout Service. shippingCost is the fixed shipping
// fee added to every order unless a free_shipping discount applies.
func NewService(
	variants catalog.Repository,
	shipping order.ShippingRepository,
	discounts discount.Repository,
	orders order.Repository,
	shippingCost decimal.Decimal,
) *Service {
	return &Service{
		variants:     variants,
		shipping:     shipping,
		discounts:    discounts,
		orders:       orders,
		shippingCost: shippingCost,
		now:          time.Now,
	}
}

// CreateOrder validates the cart, snapshots prices and weights, evaluates
// discounts, and persists the order atomically with its stock reservation.
// For a SessionKey that already has an order the existing order is returned
// with Created=false and nothing is validated or written: a replayed
// trigger must not fail on state its first run consumed.
func (s *Service) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.SessionKey != "" {
		if existing, err := s.orders.GetBySessionKey(ctx, req.SessionKey); err == nil {
			return &CreateResult{Order: existing, Created: false}, nil
		} else if !errors.Is(err, order.ErrNotFound) {
			return nil, errors.Wrap(err, "idempotency lookup")
		}
	}

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{VariantID: item.VariantID}
		}
		ids[i] = item.VariantID
	}

	if req.ShippingDetailsID == "" {
		return nil, ErrShippingDetailsRequired
	}
	details, err := s.shipping.GetShippingDetails(ctx, req.ShippingDetailsID)
	if err != nil {
		return nil, errors.Wrap(err, "load shipping details")
	}

	// Batch fetch all variants in a single query.
	fetched, err := s.variants.GetVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}
	byID := make(map[string]catalog.Variant, len(fetched))
	for _, v := range fetched {
		byID[v.ID] = v
	}

	// Snapshot price and weight per line; historical orders never track
	// later catalog changes.
	items := make([]order.LineItem, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		v, ok := byID[item.VariantID]
		if !ok {
			return nil, &catalog.NotFoundError{VariantID: item.VariantID}
		}
		items[i] = order.LineItem{
			ProductID: v.ProductID,
			VariantID: v.ID,
			Name:      v.ProductName,
			Size:      v.Size,
			UnitPrice: v.Price,
			Weight:    v.Weight,
			Quantity:  item.Quantity,
		}
		subtotal = subtotal.Add(items[i].LineTotal())
	}

	applied, err := s.resolveDiscounts(ctx, req.DiscountCodes)
	if err != nil {
		return nil, err
	}
	totals := discount.Evaluate(subtotal, s.shippingCost, toApplied(applied))

	paymentStatus := order.PaymentCompleted
	if req.PaymentMethod == order.MethodCashOnDelivery {
		// COD orders await the success-page confirmation before stock moves.
		paymentStatus = order.PaymentPending
	}

	o := &order.Order{
		ID:            uuid.New().String(),
		Subtotal:      totals.Subtotal,
		Discount:      totals.Discount,
		ShippingCost:  totals.Shipping,
		Total:         totals.Total,
		PaymentStatus: paymentStatus,
		PaymentMethod: req.PaymentMethod,
		Status:        order.StatusPending,
		SessionKey:    req.SessionKey,
		Items:         items,
		Shipping:      *details,
		Applied:       applied,
		CreatedAt:     s.now(),
	}

	out, created, err := s.orders.CreateWithItems(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return &CreateResult{Order: out, Created: created}, nil
}

// ConfirmCashOnDelivery finalizes a cash-on-delivery order from the success
// page: the first call flips payment to COMPLETED and reserves stock;
// revisits return the order unchanged with confirmed=false.
func (s *Service) ConfirmCashOnDelivery(ctx context.Context, orderID string) (*order.Order, bool, error) {
	return s.orders.ConfirmCashOnDelivery(ctx, orderID)
}

// GetBySessionKey loads the order created for a payment session, for the
// card flow's success page.
func (s *Service) GetBySessionKey(ctx context.Context, key string) (*order.Order, error) {
	return s.orders.GetBySessionKey(ctx, key)
}

// GetByID loads an order by its identifier.
func (s *Service) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) resolveDiscounts(ctx context.Context, codes []string) ([]order.AppliedDiscount, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rules, err := s.discounts.FindByCodes(ctx, codes)
	if err != nil {
		return nil, errors.Wrap(err, "lookup discount codes")
	}
	if err := discount.Validate(rules, s.now()); err != nil {
		return nil, err
	}

	applied := make([]order.AppliedDiscount, len(rules))
	for i, r := range rules {
		applied[i] = order.AppliedDiscount{
			Code:  r.Code,
			Kind:  string(r.Kind),
			Value: r.Value,
		}
	}
	return applied, nil
}

func toApplied(in []order.AppliedDiscount) []discount.Applied {
	out := make([]discount.Applied, len(in))
	for i, a := range in {
		out[i] = discount.Applied{
			Code:  a.Code,
			Kind:  discount.Kind(a.Kind),
			Value: a.Value,
		}
	}
	return out
}
