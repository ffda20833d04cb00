// Command catalog-ingest bulk-loads the product catalog from gzip-compressed
// JSONL supplier feeds. Feeds overlap: the same SKU can appear in several
// files and repeatedly within one file, so SKUs are deduplicated during the
// load (first occurrence wins). A bloom filter keeps the common
// "definitely new" case cheap; only possible duplicates hit the exact set.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	recordBuffer  = 1024
)

const upsertProductSQL = `INSERT INTO products
	(id, title, sku, price, sale_price, stock_quantity, track_stock, allow_backorder, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (sku) DO UPDATE SET
		title = EXCLUDED.title,
		price = EXCLUDED.price,
		sale_price = EXCLUDED.sale_price,
		stock_quantity = EXCLUDED.stock_quantity,
		track_stock = EXCLUDED.track_stock,
		allow_backorder = EXCLUDED.allow_backorder,
		active = EXCLUDED.active,
		updated_at = now()`

// productRecord is one line of a supplier feed.
type productRecord struct {
	SKU            string           `json:"sku"`
	Title          string           `json:"title"`
	Price          decimal.Decimal  `json:"price"`
	SalePrice      *decimal.Decimal `json:"sale_price,omitempty"`
	StockQuantity  int              `json:"stock_quantity"`
	TrackStock     *bool            `json:"track_stock,omitempty"`
	AllowBackorder bool             `json:"allow_backorder"`
	Active         *bool            `json:"active,omitempty"`
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz catalog feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("ingesting catalog feeds", slog.Int("files", len(files)))

	records := make(chan productRecord, recordBuffer)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(writeProducts(ctx, pool, records))

	readers, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		readers.Go(streamFeedFile(ctx, i, f, records))
	}

	readErr := readers.Wait()
	close(records)
	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

// streamFeedFile parses one gzip JSONL feed and sends its records downstream.
func streamFeedFile(ctx context.Context, idx int, path string, records chan<- productRecord) func() error {
	return func() error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		defer func() { _ = f.Close() }()

		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()

		var count uint64
		scanner := bufio.NewScanner(gz)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var rec productRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				return errors.Wrapf(err, "parse line %d of %s", count+1, path)
			}
			if rec.SKU == "" || rec.Title == "" {
				continue
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("feed progress",
					slog.Int("file", idx+1),
					slog.Uint64("records", count),
				)
			}

			select {
			case records <- rec:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrapf(err, "scan %s", path)
		}

		slog.Info("feed complete", slog.Int("file", idx+1), slog.Uint64("records", count))
		return nil
	}
}

// writeProducts is the single writer: it deduplicates SKUs and upserts the
// first occurrence of each into the database.
func writeProducts(ctx context.Context, pool *pgxpool.Pool, records <-chan productRecord) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		seen := make(map[string]struct{})
		var written uint64

		for rec := range records {
			if filter.TestString(rec.SKU) {
				// Possible duplicate; the exact set decides.
				if _, dup := seen[rec.SKU]; dup {
					continue
				}
			}
			filter.AddString(rec.SKU)
			seen[rec.SKU] = struct{}{}

			trackStock := true
			if rec.TrackStock != nil {
				trackStock = *rec.TrackStock
			}
			active := true
			if rec.Active != nil {
				active = *rec.Active
			}

			_, err := pool.Exec(ctx, upsertProductSQL,
				uuid.New().String(), rec.Title, rec.SKU,
				rec.Price, rec.SalePrice, rec.StockQuantity,
				trackStock, rec.AllowBackorder, active,
			)
			if err != nil {
				return errors.Wrapf(err, "upsert product %s", rec.SKU)
			}

			written++
			if written%progressEvery == 0 {
				slog.Info("write progress", slog.Uint64("written", written))
			}
		}

		slog.Info("write complete", slog.Uint64("products", written))
		return nil
	}
}
