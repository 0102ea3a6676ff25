// Command seed-db prepares a database for local development: it applies the
// schema, loads the product catalog from a JSON file, seeds a couple of
// discount codes, and registers an admin API key.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atelierluna/fulfillment/internal/postgres"
)

type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Weight          decimal.Decimal `json:"weight"`
	AllowOutOfStock bool            `json:"allowOutOfStock"`
	Variants        []struct {
		ID    string          `json:"id"`
		Size  string          `json:"size"`
		Price decimal.Decimal `json:"price"`
		Stock int             `json:"stock"`
	} `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, pool); err != nil {
		return errors.Wrap(err, "seed discounts")
	}
	if apiKey != "" {
		if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
			return errors.Wrap(err, "seed api key")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if _, err := pool.Exec(ctx, `INSERT INTO products (id, name, weight, allow_out_of_stock)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
				SET name = EXCLUDED.name, weight = EXCLUDED.weight,
					allow_out_of_stock = EXCLUDED.allow_out_of_stock`,
			p.ID, p.Name, p.Weight, p.AllowOutOfStock,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		for _, v := range p.Variants {
			if _, err := pool.Exec(ctx, `INSERT INTO size_variants (id, product_id, size, price, stock)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE
					SET size = EXCLUDED.size, price = EXCLUDED.price, stock = EXCLUDED.stock`,
				v.ID, p.ID, v.Size, v.Price, v.Stock,
			); err != nil {
				return errors.Wrapf(err, "upsert variant %s", v.ID)
			}
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedDiscounts(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding discount codes")

	codes := []struct {
		code      string
		kind      string
		value     decimal.Decimal
		uses      int
		stackable bool
	}{
		{"WELCOME10", "percentage", decimal.NewFromInt(10), -1, true},
		{"SHIPFREE", "free_shipping", decimal.Zero, -1, true},
	}

	for _, c := range codes {
		if _, err := pool.Exec(ctx, `INSERT INTO discount_codes (code, kind, value, remaining_uses, stackable)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO UPDATE
				SET kind = EXCLUDED.kind, value = EXCLUDED.value,
					remaining_uses = EXCLUDED.remaining_uses, stackable = EXCLUDED.stackable`,
			c.code, c.kind, c.value, c.uses, c.stackable,
		); err != nil {
			return errors.Wrapf(err, "upsert code %s", c.code)
		}

		slog.Info("upserted discount code", slog.String("code", c.code))
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if _, err := pool.Exec(ctx, `INSERT INTO api_keys (key_hash, label)
		VALUES ($1, $2) ON CONFLICT (key_hash) DO NOTHING`,
		keyHash, "Default admin key",
	); err != nil {
		return errors.Wrap(err, "upsert admin API key")
	}

	return nil
}
