package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pointshop/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
	maxFiles      = 64
)

// scanner collects codes that appear in at least minFiles of the input files.
type scanner struct {
	lg       *slog.Logger
	files    []string
	minFiles int
	// capacity sizes each bloom filter.
	capacity uint
}

func normalizeCode(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", false
	}
	return code, true
}

// scan runs both passes and returns the accepted codes sorted.
func (s *scanner) scan(ctx context.Context) ([]string, error) {
	if len(s.files) == 0 {
		return nil, errors.New("no input files")
	}
	if len(s.files) > maxFiles {
		return nil, errors.Errorf("at most %d input files are supported", maxFiles)
	}
	if s.minFiles < 1 || s.minFiles > len(s.files) {
		return nil, errors.Errorf("min files must be between 1 and %d", len(s.files))
	}

	s.lg.Info("Pass 1: building bloom filters", slog.Int("files", len(s.files)))
	filters, err := s.buildFilters(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	s.lg.Info("Pass 2: finding candidate codes")
	masks, err := s.findCandidates(ctx, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find candidates")
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= s.minFiles {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *scanner) buildFilters(ctx context.Context) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(s.files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range s.files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(s.capacity, bloomFPR)
			var n uint64
			err := streamGzFile(ctx, path, func(line string) {
				code, ok := normalizeCode(line)
				if !ok {
					return
				}
				filter.AddString(code)
				if n++; n%progressEvery == 0 {
					s.lg.Info("Pass 1 progress", slog.String("file", path), slog.Uint64("codes", n))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "filter %s", path)
			}
			s.lg.Info("Pass 1 complete", slog.String("file", path), slog.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findCandidates re-reads every file and records, per code, a bitmask of the
// files it was seen in. Codes a bloom filter rules out of every other file
// are dropped early unless a single file is enough.
func (s *scanner) findCandidates(ctx context.Context, filters []*bloom.BloomFilter) ([]map[string]uint, error) {
	results := make([]map[string]uint, len(s.files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range s.files {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamGzFile(ctx, path, func(line string) {
				code, ok := normalizeCode(line)
				if !ok {
					return
				}
				if s.minFiles == 1 {
					found[code] |= bit
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			s.lg.Info("Pass 2 complete", slog.String("file", path), slog.Int("candidates", len(found)))
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// streamGzFile calls fn for every line of a gzip-compressed file.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read")
	}
	return nil
}

// inserter stores a coupon, reporting false when the code already existed.
type inserter interface {
	Insert(ctx context.Context, rule coupon.Rule) (bool, error)
}

// writeCoupons stores every code with the template rule.
func writeCoupons(ctx context.Context, lg *slog.Logger, repo inserter, tmpl coupon.Rule, codes []string) (inserted int, err error) {
	lg.Info("Writing coupons", slog.Int("count", len(codes)))
	for i, code := range codes {
		rule := tmpl
		rule.Code = code
		ok, err := repo.Insert(ctx, rule)
		if err != nil {
			return inserted, errors.Wrapf(err, "insert coupon %s", code)
		}
		if ok {
			inserted++
		}
		if (i+1)%1000 == 0 || i+1 == len(codes) {
			lg.Info("Write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return inserted, nil
}
