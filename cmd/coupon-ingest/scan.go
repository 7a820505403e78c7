package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const progressEvery = 10_000_000

// A file's membership is one bit of a uint mask.
const maxFiles = bits.UintSize

type scanOptions struct {
	minFiles int
	minLen   int
	maxLen   int
	capacity uint
	fpRate   float64
}

func (o scanOptions) validate(files int) error {
	switch {
	case files == 0:
		return errors.New("no files matched")
	case files > maxFiles:
		return errors.Errorf("at most %d files are supported, got %d", maxFiles, files)
	case o.minFiles < 1 || o.minFiles > files:
		return errors.Errorf("min-files must be between 1 and %d", files)
	case o.minLen < 1 || o.maxLen < o.minLen:
		return errors.Errorf("invalid code length range %d..%d", o.minLen, o.maxLen)
	case o.capacity == 0 || o.fpRate <= 0 || o.fpRate >= 1:
		return errors.New("invalid bloom filter estimates")
	}
	return nil
}

// accept normalizes a raw line into a code, or reports false when the
// line cannot be one.
func (o scanOptions) accept(line string) (string, bool) {
	code := coupon.NormalizeCode(line)
	if len(code) < o.minLen || len(code) > o.maxLen {
		return "", false
	}
	return code, true
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, o scanOptions) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(o.capacity, o.fpRate)
			var count uint64

			if err := streamGzFile(ctx, f, func(line string) {
				code, ok := o.accept(line)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Uint64("total_codes", count))

			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and keeps codes whose presence across
// files, counting the bloom hits of the others, reaches minFiles. Bloom
// false positives can only admit a code, never drop one. Codes are sorted.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, o scanOptions) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			var count uint64

			if err := streamGzFile(ctx, f, func(line string) {
				code, ok := o.accept(line)
				if !ok {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", f), slog.Uint64("codes", count))
				}

				if _, seen := candidates[code]; seen {
					return
				}
				mask := uint(1) << uint(i)
				for j, filter := range filters {
					if j != i && filter.TestString(code) {
						mask |= uint(1) << uint(j)
					}
				}
				if bits.OnesCount(mask) >= o.minFiles {
					candidates[code] = mask
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", f)
			}

			slog.Info("pass 2 complete",
				slog.String("file", f),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)

			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	valid := make([]string, 0, len(merged))
	for code, mask := range merged {
		if bits.OnesCount(mask) >= o.minFiles {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
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
