package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentStatus tracks whether the customer's payment has been confirmed.
type PaymentStatus string

const (
	// PaymentPending marks an order that is awaiting payment confirmation.
	// Cash-on-delivery orders stay PENDING until the customer confirms on
	// the success page.
	PaymentPending PaymentStatus = "PENDING"
	// PaymentCompleted marks an order whose payment trigger has been
	// observed; stock has been reserved and the fulfillment saga has run.
	PaymentCompleted PaymentStatus = "COMPLETED"
)

// PaymentMethod enumerates the supported payment flows.
type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Status is the order's fulfillment state label.
//
// pending → shipment_provisioned | shipment_failed happens automatically
// after order creation. The terminal labels (fulfilled, cancelled,
// refunded) are set only by explicit admin action.
type Status string

const (
	StatusPending             Status = "pending"
	StatusShipmentProvisioned Status = "shipment_provisioned"
	StatusShipmentFailed      Status = "shipment_failed"
	StatusFulfilled           Status = "fulfilled"
	StatusCancelled           Status = "cancelled"
	StatusRefunded            Status = "refunded"
)

// Terminal reports whether s can only be left by another admin action.
func (s Status) Terminal() bool {
	switch s {
	case StatusFulfilled, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Sentinel errors for order persistence.
var (
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict indicates the order row changed between read and
	// write (admin editing concurrently with the saga).
	ErrVersionConflict = errors.New("order version conflict")
)

// InsufficientStockError aborts order creation when a variant cannot cover
// the requested quantity and its product does not allow overselling.
type InsufficientStockError struct {
	VariantID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s", e.VariantID)
}

// Order is the aggregate root for a customer order. After creation it is
// mutated only by the fulfillment saga and by admin actions.
type Order struct {
	ID            string
	Number        string
	Total         decimal.Decimal
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	ShippingCost  decimal.Decimal
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Status        Status
	// SessionKey is the external payment-session key for card orders and
	// the idempotency key for the creation transaction. Empty for
	// cash-on-delivery orders, which use the order ID itself as trigger key.
	SessionKey string

	CourierName    string
	TrackingID     string
	ShipmentID     string
	TrackingStatus string

	InvoiceID     string
	InvoiceNumber string
	InvoiceURL    string

	Items    []LineItem
	Shipping ShippingDetails
	Applied  []AppliedDiscount

	// Version guards concurrent updates to the same row.
	Version   int64
	CreatedAt time.Time
}

// LineItem captures a product variant at order time. UnitPrice and Weight
// are snapshots; they are never recomputed from the current catalog.
type LineItem struct {
	ProductID string
	VariantID string
	Name      string
	Size      string
	UnitPrice decimal.Decimal
	Weight    decimal.Decimal
	Quantity  int
}

// LineTotal returns UnitPrice × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// ShippingDetails holds the recipient contact and postal address, filled in
// by the customer before the order exists and immutable afterwards. The
// company fields are optional and switch invoicing to a fiscal entity.
type ShippingDetails struct {
	ID          string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Country     string
	County      string
	City        string
	PostalCode  string
	Street      string
	StreetNo    string
	CompanyName string
	CompanyCIF  string
	CompanyReg  string
}

// RecipientName returns the full recipient name for carrier and email use.
func (d ShippingDetails) RecipientName() string {
	return d.FirstName + " " + d.LastName
}

// IsCompany reports whether invoices should be issued to a fiscal entity.
func (d ShippingDetails) IsCompany() bool {
	return d.CompanyCIF != ""
}

// AppliedDiscount records a discount code snapshot used on this order.
type AppliedDiscount struct {
	Code  string
	Kind  string
	Value decimal.Decimal
}

// FormatNumber renders the human-readable order number for a sequence value.
func FormatNumber(seq int64) string {
	return fmt.Sprintf("LN-%06d", seq)
}

// ShipmentRef carries the carrier identifiers produced by a successful
// shipment provisioning step.
type ShipmentRef struct {
	CourierName    string
	TrackingID     string
	ShipmentID     string
	TrackingStatus string
}

// InvoiceRef carries the identifiers produced by a successful invoice issue.
type InvoiceRef struct {
	ID     string
	Number string
	URL    string
}

// Repository defines persistence operations for orders. CreateWithItems is
// the idempotency guard: for a given SessionKey it creates at most one row,
// reserving stock in the same transaction.
type Repository interface {
	// CreateWithItems atomically inserts the order, its line items and
	// discount applications, and decrements stock for every item. When an
	// order already references o.SessionKey the existing order is returned
	// with created=false and nothing is written.
	CreateWithItems(ctx context.Context, o *Order) (out *Order, created bool, err error)

	GetByID(ctx context.Context, id string) (*Order, error)
	GetBySessionKey(ctx context.Context, key string) (*Order, error)

	// ConfirmCashOnDelivery flips payment status PENDING→COMPLETED and
	// decrements stock, both exactly once. Revisits return the order with
	// confirmed=false and touch nothing.
	ConfirmCashOnDelivery(ctx context.Context, id string) (out *Order, confirmed bool, err error)

	// SetShipment records carrier references and the shipment_provisioned
	// status, guarded by the version check.
	SetShipment(ctx context.Context, id string, version int64, ref ShipmentRef) error
	// SetInvoice attaches invoice references without touching the
	// fulfillment status.
	SetInvoice(ctx context.Context, id string, version int64, ref InvoiceRef) error
	// SetStatus moves the order to the given fulfillment status, guarded by
	// the version check.
	SetStatus(ctx context.Context, id string, version int64, status Status) error

	// Restock returns every line item's quantity to its variant. Used by
	// admin cancel/refund.
	Restock(ctx context.Context, id string) error
}

// ShippingRepository loads shipping-details rows created by the storefront
// before checkout starts.
type ShippingRepository interface {
	GetShippingDetails(ctx context.Context, id string) (*ShippingDetails, error)
}
