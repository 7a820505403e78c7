package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		pattern     string
		databaseURL string
		dryRun      bool
		scan        scanOptions
		tmpl        campaignFlags
	)

	flag.StringVar(&pattern, "files", "data/couponbase*.gz", "glob of gzip-compressed partner code dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "report accepted codes without writing them")
	flag.IntVar(&scan.minFiles, "min-files", 2, "number of dumps a code must appear in")
	flag.IntVar(&scan.minLen, "min-len", 8, "minimum code length")
	flag.IntVar(&scan.maxLen, "max-len", 10, "maximum code length")
	flag.UintVar(&scan.capacity, "bloom-capacity", 120_000_000, "expected codes per dump")
	flag.Float64Var(&scan.fpRate, "bloom-fpr", 0.001, "bloom filter false positive rate")
	tmpl.register(flag.CommandLine)
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, pattern, databaseURL, dryRun, scan, tmpl); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, pattern, databaseURL string, dryRun bool, scan scanOptions, flags campaignFlags) error {
	campaign, err := flags.campaign(time.Now())
	if err != nil {
		return errors.Wrap(err, "campaign")
	}

	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %q", pattern)
	}
	if err := scan.validate(len(files)); err != nil {
		return err
	}
	slices.Sort(files)

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, scan)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find codes appearing in enough files.
	slog.Info("pass 2: finding candidate codes")

	codes, err := findValidCodes(ctx, files, filters, scan)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}
	if dryRun {
		slog.Info("dry run, skipping database write", slog.String("sample", codes[0]))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, postgres.NewCouponRepository(pool), campaign, codes, flags.batchSize); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}
