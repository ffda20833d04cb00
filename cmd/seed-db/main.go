// Command seed-db loads development fixtures: a small product catalog from a
// JSON file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const upsertProductSQL = `INSERT INTO products
	(id, title, sku, price, sale_price, stock_quantity, track_stock, allow_backorder, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	ON CONFLICT (sku) DO UPDATE SET
		title = EXCLUDED.title,
		price = EXCLUDED.price,
		sale_price = EXCLUDED.sale_price,
		stock_quantity = EXCLUDED.stock_quantity,
		track_stock = EXCLUDED.track_stock,
		allow_backorder = EXCLUDED.allow_backorder,
		updated_at = now()`

type productJSON struct {
	SKU            string           `json:"sku"`
	Title          string           `json:"title"`
	Price          decimal.Decimal  `json:"price"`
	SalePrice      *decimal.Decimal `json:"sale_price,omitempty"`
	StockQuantity  int              `json:"stock_quantity"`
	TrackStock     bool             `json:"track_stock"`
	AllowBackorder bool             `json:"allow_backorder"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
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

	return seedProducts(ctx, pool, productsFile)
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
		_, err := pool.Exec(ctx, upsertProductSQL,
			uuid.New().String(), p.Title, p.SKU,
			p.Price, p.SalePrice, p.StockQuantity,
			p.TrackStock, p.AllowBackorder,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.SKU)
		}

		slog.Info("upserted product", slog.String("sku", p.SKU), slog.String("title", p.Title))
	}

	return nil
}
