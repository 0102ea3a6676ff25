package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierluna/fulfillment/internal/domain/discount"
	"github.com/atelierluna/fulfillment/internal/domain/order"
)

const orderColumns = `o.id, o.number, o.subtotal, o.discount, o.shipping_cost, o.total,
	o.payment_status, o.payment_method, o.status, COALESCE(o.session_key, ''),
	o.courier_name, o.tracking_id, o.shipment_id, o.tracking_status,
	o.invoice_id, o.invoice_number, o.invoice_url, o.version, o.created_at,
	d.id, d.first_name, d.last_name, d.email, d.phone, d.country, d.county,
	d.city, d.postal_code, d.street, d.street_no, d.company_name, d.company_cif, d.company_reg`

const selectOrderSQL = `SELECT ` + orderColumns + `
	FROM orders o JOIN shipping_details d ON d.id = o.shipping_details_id`

const insertOrderSQL = `INSERT INTO orders (
		id, number, subtotal, discount, shipping_cost, total,
		payment_status, payment_method, status, session_key, shipping_details_id
	) VALUES (
		$1, 'LN-' || lpad(nextval('order_number_seq')::text, 6, '0'),
		$2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10
	)
	ON CONFLICT (session_key) DO NOTHING
	RETURNING number, created_at`

const insertItemSQL = `INSERT INTO order_items
	(order_id, product_id, variant_id, name, size, unit_price, weight, quantity)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectItemsSQL = `SELECT product_id, variant_id, name, size, unit_price, weight, quantity
	FROM order_items WHERE order_id = $1 ORDER BY id`

const insertAppliedSQL = `INSERT INTO order_discounts (order_id, code, kind, value)
	VALUES ($1, $2, $3, $4)`

const selectAppliedSQL = `SELECT code, kind, value FROM order_discounts WHERE order_id = $1 ORDER BY code`

// reserveStockSQL decrements a variant's stock only when it can cover the
// quantity or the product allows overselling. Zero rows affected means the
// reservation failed and the whole transaction must roll back.
const reserveStockSQL = `UPDATE size_variants sv
	SET stock = sv.stock - $2
	FROM products p
	WHERE sv.id = $1 AND p.id = sv.product_id AND (sv.stock >= $2 OR p.allow_out_of_stock)`

const restockSQL = `UPDATE size_variants sv
	SET stock = sv.stock + oi.quantity
	FROM order_items oi
	WHERE oi.order_id = $1 AND sv.id = oi.variant_id`

// useDiscountSQL burns one use of a code. Codes with negative remaining_uses
// are unlimited and keep their counter. Zero rows affected means the last
// use went to a racing order after this one was validated.
const useDiscountSQL = `UPDATE discount_codes
	SET remaining_uses = CASE WHEN remaining_uses < 0 THEN remaining_uses ELSE remaining_uses - 1 END
	WHERE code = $1 AND remaining_uses <> 0`

const confirmCashOnDeliverySQL = `UPDATE orders
	SET payment_status = 'COMPLETED', version = version + 1
	WHERE id = $1 AND payment_status = 'PENDING'`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// idempotency guard lives in the unique session_key index plus the
// insert-or-fetch in CreateWithItems; it is never an application-level
// read-then-write.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateWithItems atomically inserts the order with its line items and
// discount applications and reserves stock. When another transaction already
// created an order for the same session key, that order is returned with
// created=false.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *order.Order) (*order.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, insertOrderSQL,
		o.ID, o.Subtotal, o.Discount, o.ShippingCost, o.Total,
		o.PaymentStatus, o.PaymentMethod, o.Status, o.SessionKey, o.Shipping.ID,
	)
	if err := row.Scan(&o.Number, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the insert race: another trigger owns this session key.
			existing, ferr := r.GetBySessionKey(ctx, o.SessionKey)
			if ferr != nil {
				return nil, false, errors.Wrap(ferr, "fetch existing order")
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	for _, it := range o.Items {
		if _, err := tx.Exec(ctx, insertItemSQL,
			o.ID, it.ProductID, it.VariantID, it.Name, it.Size, it.UnitPrice, it.Weight, it.Quantity,
		); err != nil {
			return nil, false, fmt.Errorf("inserting item %q: %w", it.VariantID, err)
		}
	}

	// Card orders arrive payment-confirmed and reserve stock immediately;
	// cash-on-delivery waits for the success-page confirmation.
	if o.PaymentStatus == order.PaymentCompleted {
		if err := reserveStock(ctx, tx, o.Items); err != nil {
			return nil, false, err
		}
	}

	for _, a := range o.Applied {
		if _, err := tx.Exec(ctx, insertAppliedSQL, o.ID, a.Code, a.Kind, a.Value); err != nil {
			return nil, false, fmt.Errorf("recording discount %q: %w", a.Code, err)
		}
		tag, err := tx.Exec(ctx, useDiscountSQL, a.Code)
		if err != nil {
			return nil, false, fmt.Errorf("decrementing uses for %q: %w", a.Code, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, false, errors.Wrapf(discount.ErrUsageLimitReached, "code %s", a.Code)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit")
	}
	return o, true, nil
}

// ConfirmCashOnDelivery flips the order to COMPLETED and reserves stock,
// both exactly once. Revisits observe the already-completed marker and
// return confirmed=false without touching stock.
func (r *OrderRepository) ConfirmCashOnDelivery(ctx context.Context, id string) (*order.Order, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, confirmCashOnDeliverySQL, id)
	if err != nil {
		return nil, false, fmt.Errorf("confirming order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Already confirmed, or unknown id; either way nothing to decrement.
		o, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	}

	items, err := loadItems(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := reserveStock(ctx, tx, items); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit")
	}

	o, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// GetByID loads a full order aggregate.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE o.id = $1`, id)
}

// GetBySessionKey loads the order created for a payment session.
func (r *OrderRepository) GetBySessionKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, selectOrderSQL+` WHERE o.session_key = $1`, key)
}

// SetShipment records carrier references and moves the order to
// shipment_provisioned, guarded by the version check.
func (r *OrderRepository) SetShipment(ctx context.Context, id string, version int64, ref order.ShipmentRef) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders
		SET courier_name = $3, tracking_id = $4, shipment_id = $5, tracking_status = $6,
			status = $7, version = version + 1
		WHERE id = $1 AND version = $2`,
		id, version, ref.CourierName, ref.TrackingID, ref.ShipmentID, ref.TrackingStatus,
		order.StatusShipmentProvisioned,
	)
	if err != nil {
		return fmt.Errorf("storing shipment for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrVersionConflict
	}
	return nil
}

// SetInvoice attaches invoice references without touching fulfillment status.
func (r *OrderRepository) SetInvoice(ctx context.Context, id string, version int64, ref order.InvoiceRef) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders
		SET invoice_id = $3, invoice_number = $4, invoice_url = $5, version = version + 1
		WHERE id = $1 AND version = $2`,
		id, version, ref.ID, ref.Number, ref.URL,
	)
	if err != nil {
		return fmt.Errorf("storing invoice for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrVersionConflict
	}
	return nil
}

// SetStatus moves the order to the given fulfillment status.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, version int64, status order.Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE orders
		SET status = $3, version = version + 1
		WHERE id = $1 AND version = $2`,
		id, version, status,
	)
	if err != nil {
		return fmt.Errorf("updating status for %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrVersionConflict
	}
	return nil
}

// Restock returns every line item's quantity to its variant.
func (r *OrderRepository) Restock(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, restockSQL, id); err != nil {
		return fmt.Errorf("restocking order %q: %w", id, err)
	}
	return nil
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	var o order.Order
	row := r.pool.QueryRow(ctx, query, arg)
	err := row.Scan(
		&o.ID, &o.Number, &o.Subtotal, &o.Discount, &o.ShippingCost, &o.Total,
		&o.PaymentStatus, &o.PaymentMethod, &o.Status, &o.SessionKey,
		&o.CourierName, &o.TrackingID, &o.ShipmentID, &o.TrackingStatus,
		&o.InvoiceID, &o.InvoiceNumber, &o.InvoiceURL, &o.Version, &o.CreatedAt,
		&o.Shipping.ID, &o.Shipping.FirstName, &o.Shipping.LastName, &o.Shipping.Email,
		&o.Shipping.Phone, &o.Shipping.Country, &o.Shipping.County, &o.Shipping.City,
		&o.Shipping.PostalCode, &o.Shipping.Street, &o.Shipping.StreetNo,
		&o.Shipping.CompanyName, &o.Shipping.CompanyCIF, &o.Shipping.CompanyReg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("loading order: %w", err)
	}

	o.Items, err = loadItems(ctx, r.pool, o.ID)
	if err != nil {
		return nil, err
	}
	o.Applied, err = loadApplied(ctx, r.pool, o.ID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// pgxQuerier is the subset of pgx executors shared by pools and transactions.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q pgxQuerier, orderID string) ([]order.LineItem, error) {
	rows, err := q.Query(ctx, selectItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	defer rows.Close()

	var items []order.LineItem
	for rows.Next() {
		var it order.LineItem
		if err := rows.Scan(&it.ProductID, &it.VariantID, &it.Name, &it.Size,
			&it.UnitPrice, &it.Weight, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadApplied(ctx context.Context, q pgxQuerier, orderID string) ([]order.AppliedDiscount, error) {
	rows, err := q.Query(ctx, selectAppliedSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading discounts: %w", err)
	}
	defer rows.Close()

	var applied []order.AppliedDiscount
	for rows.Next() {
		var a order.AppliedDiscount
		if err := rows.Scan(&a.Code, &a.Kind, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning discount: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

func reserveStock(ctx context.Context, q pgxQuerier, items []order.LineItem) error {
	for _, it := range items {
		tag, err := q.Exec(ctx, reserveStockSQL, it.VariantID, it.Quantity)
		if err != nil {
			return fmt.Errorf("reserving stock for %q: %w", it.VariantID, err)
		}
		if tag.RowsAffected() == 0 {
			return &order.InsufficientStockError{VariantID: it.VariantID}
		}
	}
	return nil
}
