// Package discount evaluates discount codes against a cart. Evaluation is
// pure: code lookup, expiry and stackability checks happen before codes
// reach Evaluate.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes value% (0–100) off the original subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes an absolute RON amount off the original subtotal.
	KindFixed Kind = "fixed"
	// KindFreeShipping zeroes the shipping cost.
	KindFreeShipping Kind = "free_shipping"
)

// Sentinel errors for code validation.
var (
	ErrInvalidCode       = errors.New("invalid discount code")
	ErrExpired           = errors.New("discount code expired")
	ErrUsageLimitReached = errors.New("discount code usage limit reached")
	ErrNotStackable      = errors.New("discount codes cannot be combined")
)

// Code is a discount code row as stored by admin CRUD.
type Code struct {
	Code string
	Kind Kind
	// Value is a percentage for KindPercentage, an absolute amount for
	// KindFixed, and unused for KindFreeShipping.
	Value decimal.Decimal
	// RemainingUses of 0 means exhausted; negative means unlimited.
	RemainingUses int
	ExpiresAt     *time.Time
	Stackable     bool
}

// Applied is the evaluator's view of a code: a snapshot of kind and value,
// detached from the mutable code row.
type Applied struct {
	Code  string
	Kind  Kind
	Value decimal.Decimal
}

// Totals is the result of evaluating a cart with its applied discounts.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Evaluate computes order totals. Every applied discount acts on the
// *original* subtotal and shipping cost independently; discounts never
// compound. The total is floored at zero before shipping is added.
func Evaluate(subtotal, shippingCost decimal.Decimal, applied []Applied) Totals {
	discount := decimal.Zero
	shipping := shippingCost

	for _, a := range applied {
		switch a.Kind {
		case KindPercentage:
			discount = discount.Add(subtotal.Mul(a.Value).Div(decimal.NewFromInt(100)))
		case KindFixed:
			discount = discount.Add(a.Value)
		case KindFreeShipping:
			shipping = decimal.Zero
		}
	}

	discounted := subtotal.Sub(discount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Discount: discount.Round(2),
		Shipping: shipping,
		Total:    discounted.Add(shipping).Round(2),
	}
}

// Validate gates a set of looked-up codes before evaluation: expiry, usage
// limits, and the stackability flag when more than one code is applied.
func Validate(codes []Code, now time.Time) error {
	for _, c := range codes {
		if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
			return errors.Wrapf(ErrExpired, "code %s", c.Code)
		}
		if c.RemainingUses == 0 {
			return errors.Wrapf(ErrUsageLimitReached, "code %s", c.Code)
		}
	}
	if len(codes) > 1 {
		for _, c := range codes {
			if !c.Stackable {
				return errors.Wrapf(ErrNotStackable, "code %s", c.Code)
			}
		}
	}
	return nil
}

// Repository provides discount code lookup. Remaining-uses decrements happen
// inside the order-creation transaction, not here.
type Repository interface {
	// FindByCodes returns the rows for the given codes. A missing code is
	// reported as ErrInvalidCode.
	FindByCodes(ctx context.Context, codes []string) ([]Code, error)
}
