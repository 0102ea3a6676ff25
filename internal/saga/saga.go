// Package saga runs the post-commit fulfillment steps for an order:
// shipment provisioning, invoice issuance and customer/admin notification.
// The steps run in that order, but each one is wrapped in its own failure
// boundary: a failed step is logged and recorded, and the next step always
// runs. Nothing here ever rolls back the committed order.
package saga

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/carrier"
	"github.com/atelierluna/fulfillment/internal/domain/order"
	"github.com/atelierluna/fulfillment/internal/invoice"
)

// Notifier sends the order's confirmation and admin alert emails.
// *mailer.Notifier satisfies it.
type Notifier interface {
	NotifyOrder(ctx context.Context, o *order.Order) error
}

// Config holds the shop-side constants for outgoing shipments.
type Config struct {
	SenderName  string
	SenderPhone string
	SenderEmail string
	// CourierName is the label stored on orders for the configured carrier.
	CourierName string
	// ServiceTier is the fixed carrier service level for all shipments.
	ServiceTier string
}

// Saga orchestrates the fulfillment side effects for committed orders.
type Saga struct {
	orders   order.Repository
	carrier  carrier.API
	invoices invoice.API
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// New constructs a Saga.
func New(orders order.Repository, api carrier.API, invoices invoice.API, notifier Notifier, cfg Config) *Saga {
	return &Saga{
		orders:   orders,
		carrier:  api,
		invoices: invoices,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// StepResult records one step's outcome for logging and admin surfacing.
type StepResult struct {
	Step string
	Err  error
}

// Run executes the full fulfillment sequence for an order that has just
// committed (or is being re-run by an admin). Step failures are collected,
// never propagated: the returned error is non-nil only when the order
// itself cannot be loaded.
func (s *Saga) Run(ctx context.Context, orderID string) ([]StepResult, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "load order")
	}

	lg := zctx.From(ctx).With(zap.String("order_number", o.Number))
	results := make([]StepResult, 0, 3)

	steps := []struct {
		name string
		fn   func(context.Context, *order.Order) error
	}{
		{"shipment", s.ProvisionShipment},
		{"invoice", s.IssueInvoice},
		{"notify", s.Notify},
	}
	for _, st := range steps {
		err := st.fn(ctx, o)
		if err != nil {
			lg.Error("fulfillment step failed, continuing",
				zap.String("step", st.name), zap.Error(err))
		}
		results = append(results, StepResult{Step: st.name, Err: err})
	}

	return results, nil
}

// ProvisionShipment resolves the shipping address, creates the carrier
// shipment and stores the tracking references on the order. When the whole
// resolution-and-create chain fails the order is marked shipment_failed for
// manual handling; the error is returned for recording but the saga's later
// steps are unaffected.
func (s *Saga) ProvisionShipment(ctx context.Context, o *order.Order) error {
	lg := zctx.From(ctx)

	res := carrier.ResolveAddress(ctx, s.carrier, shippingAddress(o.Shipping))

	req := s.buildShipmentRequest(o, res)
	resp, err := s.carrier.CreateShipment(ctx, req)
	if err != nil {
		if statusErr := s.orders.SetStatus(ctx, o.ID, o.Version, order.StatusShipmentFailed); statusErr != nil {
			lg.Error("marking order shipment_failed", zap.Error(statusErr))
		} else {
			o.Status = order.StatusShipmentFailed
			o.Version++
		}
		return errors.Wrap(err, "create shipment")
	}

	ref := order.ShipmentRef{
		CourierName: s.cfg.CourierName,
		TrackingID:  resp.TrackingID,
		ShipmentID:  resp.ShipmentID,
	}

	// Seed a first human-readable tracking status; failures here are not
	// worth degrading the shipment over.
	if status, err := s.carrier.TrackShipment(ctx, resp.ShipmentID); err != nil {
		lg.Warn("initial tracking poll failed", zap.String("shipment_id", resp.ShipmentID), zap.Error(err))
	} else {
		ref.TrackingStatus = status
	}

	stored, err := s.writeVersioned(ctx, o, func(version int64) error {
		return s.orders.SetShipment(ctx, o.ID, version, ref)
	})
	if err != nil {
		return errors.Wrap(err, "store shipment refs")
	}
	if !stored {
		return nil
	}

	o.CourierName = ref.CourierName
	o.TrackingID = ref.TrackingID
	o.ShipmentID = ref.ShipmentID
	o.TrackingStatus = ref.TrackingStatus
	o.Status = order.StatusShipmentProvisioned
	o.Version++
	return nil
}

// IssueInvoice creates the invoice and attaches its references to the order.
// Already-invoiced orders (admin re-trigger after a partial failure) are a
// no-op.
func (s *Saga) IssueInvoice(ctx context.Context, o *order.Order) error {
	if o.InvoiceID != "" {
		return nil
	}

	inv, err := s.invoices.CreateInvoice(ctx, invoice.BuildRequest(o, s.now()))
	if err != nil {
		return errors.Wrap(err, "create invoice")
	}

	ref := order.InvoiceRef{ID: inv.ID, Number: inv.Number, URL: inv.URL}
	stored, err := s.writeVersioned(ctx, o, func(version int64) error {
		return s.orders.SetInvoice(ctx, o.ID, version, ref)
	})
	if err != nil {
		return errors.Wrap(err, "store invoice refs")
	}
	if !stored {
		return nil
	}

	o.InvoiceID = inv.ID
	o.InvoiceNumber = inv.Number
	o.InvoiceURL = inv.URL
	o.Version++
	return nil
}

// writeVersioned runs a version-guarded write for o. When a concurrent
// admin edit wins the race it reloads the order and retries once with the
// fresh version; an order the admin moved to a terminal status meanwhile
// is left as the admin set it and the write is skipped (stored=false).
func (s *Saga) writeVersioned(ctx context.Context, o *order.Order, write func(version int64) error) (stored bool, err error) {
	err = write(o.Version)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, order.ErrVersionConflict) {
		return false, err
	}

	cur, err := s.orders.GetByID(ctx, o.ID)
	if err != nil {
		return false, errors.Wrap(err, "reload after version conflict")
	}
	*o = *cur
	if o.Status.Terminal() {
		return false, nil
	}
	if err := write(o.Version); err != nil {
		return false, err
	}
	return true, nil
}

// Notify sends the customer confirmation and admin alert.
func (s *Saga) Notify(ctx context.Context, o *order.Order) error {
	return s.notifier.NotifyOrder(ctx, o)
}

// CancelShipment voids the order's shipment at the carrier. Used by admin
// cancellation; a missing shipment is a no-op.
func (s *Saga) CancelShipment(ctx context.Context, o *order.Order) error {
	if o.ShipmentID == "" {
		return nil
	}
	return s.carrier.CancelShipment(ctx, o.ShipmentID)
}

func (s *Saga) buildShipmentRequest(o *order.Order, res carrier.Resolution) carrier.ShipmentRequest {
	collect := decimal.Zero
	if o.PaymentMethod == order.MethodCashOnDelivery {
		collect = o.Total
	}

	contents := contentsLabel(o)
	if res.Notes != "" {
		contents = contents + " / Adresa: " + res.Notes
	}

	return carrier.ShipmentRequest{
		Sender: carrier.Contact{
			Name:  s.cfg.SenderName,
			Phone: s.cfg.SenderPhone,
			Email: s.cfg.SenderEmail,
		},
		Recipient: carrier.Contact{
			Name:  o.Shipping.RecipientName(),
			Phone: o.Shipping.Phone,
			Email: o.Shipping.Email,
		},
		CountryID:         res.CountryID,
		LocalityID:        res.LocalityID,
		StreetID:          res.StreetID,
		StreetNo:          o.Shipping.StreetNo,
		PostalCode:        o.Shipping.PostalCode,
		Packages:          1,
		WeightKg:          carrier.PackageWeight(o.Items),
		ServiceTier:       s.cfg.ServiceTier,
		Contents:          contents,
		CollectOnDelivery: collect,
		Reference:         o.Number,
	}
}

func shippingAddress(d order.ShippingDetails) carrier.Address {
	return carrier.Address{
		Country:    d.Country,
		County:     d.County,
		City:       d.City,
		PostalCode: d.PostalCode,
		Street:     d.Street,
		StreetNo:   d.StreetNo,
	}
}

func contentsLabel(o *order.Order) string {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	if count == 1 {
		return "1 articol"
	}
	return strconv.Itoa(count) + " articole"
}
