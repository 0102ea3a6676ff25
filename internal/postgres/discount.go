package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierluna/fulfillment/internal/domain/discount"
)

const selectCodesSQL = `SELECT code, kind, value, remaining_uses, stackable, expires_at
	FROM discount_codes WHERE code = ANY($1)`

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository reads discount codes from PostgreSQL. Use counting
// happens inside the order transaction, not here.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCodes returns the rows for the given codes; a code with no row is
// reported as ErrInvalidCode.
func (r *DiscountRepository) FindByCodes(ctx context.Context, codes []string) ([]discount.Code, error) {
	rows, err := r.pool.Query(ctx, selectCodesSQL, codes)
	if err != nil {
		return nil, errors.Wrap(err, "query codes")
	}
	defer rows.Close()

	found := make(map[string]discount.Code, len(codes))
	for rows.Next() {
		var c discount.Code
		if err := rows.Scan(&c.Code, &c.Kind, &c.Value, &c.RemainingUses, &c.Stackable, &c.ExpiresAt); err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		found[c.Code] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]discount.Code, 0, len(codes))
	for _, code := range codes {
		c, ok := found[code]
		if !ok {
			return nil, errors.Wrapf(discount.ErrInvalidCode, "code %s", code)
		}
		out = append(out, c)
	}
	return out, nil
}
