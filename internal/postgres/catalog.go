package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierluna/fulfillment/internal/domain/catalog"
	"github.com/atelierluna/fulfillment/internal/domain/order"
)

const selectVariantsSQL = `SELECT sv.id, p.id, p.name, sv.size, sv.price, p.weight, sv.stock, p.allow_out_of_stock
	FROM size_variants sv JOIN products p ON p.id = sv.product_id
	WHERE sv.id = ANY($1)`

const selectShippingSQL = `SELECT id, first_name, last_name, email, phone, country, county,
		city, postal_code, street, street_no, company_name, company_cif, company_reg
	FROM shipping_details WHERE id = $1`

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository reads product variants from PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariants loads the requested variants in one query. Missing ids are
// simply absent from the result; checkout reports them.
func (r *CatalogRepository) GetVariants(ctx context.Context, ids []string) ([]catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, selectVariantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	defer rows.Close()

	variants := make([]catalog.Variant, 0, len(ids))
	for rows.Next() {
		var v catalog.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.Size,
			&v.Price, &v.Weight, &v.Stock, &v.AllowOutOfStock); err != nil {
			return nil, errors.Wrap(err, "scan variant")
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

var _ order.ShippingRepository = (*ShippingRepository)(nil)

// ShippingRepository reads saved shipping details.
type ShippingRepository struct {
	pool *pgxpool.Pool
}

func NewShippingRepository(pool *pgxpool.Pool) *ShippingRepository {
	return &ShippingRepository{pool: pool}
}

func (r *ShippingRepository) GetShippingDetails(ctx context.Context, id string) (*order.ShippingDetails, error) {
	var d order.ShippingDetails
	err := r.pool.QueryRow(ctx, selectShippingSQL, id).Scan(
		&d.ID, &d.FirstName, &d.LastName, &d.Email, &d.Phone,
		&d.Country, &d.County, &d.City, &d.PostalCode, &d.Street, &d.StreetNo,
		&d.CompanyName, &d.CompanyCIF, &d.CompanyReg,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("loading shipping details %q: %w", id, err)
	}
	return &d, nil
}
