// Package catalog exposes the read-side of the product catalog needed by
// checkout: variant price, weight and stock snapshots. Catalog CRUD itself
// lives outside this service.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Variant is a sellable (product, size) unit.
type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	Size        string
	Price       decimal.Decimal
	// Weight is the per-unit shipping weight in kilograms.
	Weight decimal.Decimal
	Stock  int
	// AllowOutOfStock permits selling below zero stock (product-level flag).
	AllowOutOfStock bool
}

// NotFoundError indicates a requested variant does not exist.
type NotFoundError struct {
	VariantID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

// Repository provides batch variant lookup for checkout.
type Repository interface {
	// GetVariants returns the variants for the given IDs in one query.
	// Missing IDs are simply absent from the result.
	GetVariants(ctx context.Context, ids []string) ([]Variant, error)
}
