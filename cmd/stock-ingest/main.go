// Command stock-ingest applies gzip-compressed warehouse delivery
// manifests to the catalog. Each manifest line is "sku,quantity"; the
// quantities from all files are summed per SKU and added to stock.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/legacyshop/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// fileResult holds the per-SKU quantity sums from a single manifest.
type fileResult struct {
	quantities map[string]int
	skipped    uint64
}

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("at least one manifest file is required: stock-ingest [flags] manifest.gz ...")
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	products := repository.NewProductRepository(pool)

	// Known-SKU filter: manifests from the warehouse contain lines for
	// SKUs this shop never carried, so pre-screen them without a
	// database round-trip per line.
	knownSKUs, err := buildSKUFilter(ctx, products)
	if err != nil {
		return errors.Wrap(err, "build SKU filter")
	}

	slog.Info("parsing manifests", slog.Int("files", len(files)))

	results, err := parseManifests(ctx, files, knownSKUs)
	if err != nil {
		return errors.Wrap(err, "parse manifests")
	}

	// Merge per-file sums.
	merged := make(map[string]int)
	var skipped uint64
	for _, r := range results {
		for sku, qty := range r.quantities {
			merged[sku] += qty
		}
		skipped += r.skipped
	}

	slog.Info("manifests parsed",
		slog.Int("skus", len(merged)),
		slog.Uint64("skipped_lines", skipped),
	)

	return applyDeliveries(ctx, products, merged)
}

func buildSKUFilter(ctx context.Context, products *repository.ProductRepository) (*bloom.BloomFilter, error) {
	catalog, err := products.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list catalog")
	}

	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	for _, p := range catalog {
		filter.AddString(p.SKU)
	}

	slog.Info("catalog filter built", slog.Int("products", len(catalog)))
	return filter, nil
}

// parseManifests streams every file concurrently, summing quantities
// for SKUs that pass the catalog filter.
func parseManifests(ctx context.Context, files []string, known *bloom.BloomFilter) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(parseManifestFile(ctx, i, f, known, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func parseManifestFile(
	ctx context.Context,
	idx int,
	path string,
	known *bloom.BloomFilter,
	results []fileResult,
) func() error {
	return func() error {
		quantities := make(map[string]int)
		var count, skipped uint64

		if err := streamGzFile(ctx, path, func(line string) {
			count++
			if count%progressEvery == 0 {
				slog.Info("parse progress",
					slog.Int("file", idx+1),
					slog.Uint64("lines", count),
				)
			}

			sku, qtyStr, ok := strings.Cut(line, ",")
			if !ok {
				skipped++
				return
			}
			qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
			if err != nil || qty <= 0 {
				skipped++
				return
			}
			sku = strings.TrimSpace(sku)
			if !known.TestString(sku) {
				skipped++
				return
			}
			quantities[sku] += qty
		}); err != nil {
			return errors.Wrapf(err, "parse file %d", idx+1)
		}

		slog.Info("parse complete",
			slog.Int("file", idx+1),
			slog.Uint64("total_lines", count),
			slog.Int("skus", len(quantities)),
		)

		results[idx] = fileResult{quantities: quantities, skipped: skipped}
		return nil
	}
}

// applyDeliveries increments stock per SKU. Bloom false positives for
// unknown SKUs surface here as not-found and are logged, not fatal.
func applyDeliveries(ctx context.Context, products *repository.ProductRepository, deliveries map[string]int) error {
	slog.Info("applying deliveries", slog.Int("skus", len(deliveries)))

	var applied int
	for sku, qty := range deliveries {
		if err := products.IncrementStock(ctx, sku, qty); err != nil {
			slog.Warn("skipping SKU",
				slog.String("sku", sku),
				slog.String("error", err.Error()),
			)
			continue
		}

		applied++
		if applied%100 == 0 || applied == len(deliveries) {
			slog.Info("apply progress", slog.Int("applied", applied), slog.Int("total", len(deliveries)))
		}
	}

	return nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
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

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
