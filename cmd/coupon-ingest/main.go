// Command coupon-ingest publishes promo codes that appear in at least N of the
// given gzip code lists, all sharing one discount rule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/internal/domain/coupon"
	"github.com/xenking/pointshop/internal/repository"
)

type options struct {
	databaseURL    string
	minFiles       int
	capacity       uint
	discountType   string
	value          string
	minOrder       string
	maxUses        int
	maxUsesPerUser int
	validDays      int
	description    string
}

func (o options) rule(now time.Time) (coupon.Rule, error) {
	rule := coupon.Rule{
		DiscountType:   coupon.DiscountType(o.discountType),
		Description:    o.description,
		MaxUses:        o.maxUses,
		MaxUsesPerUser: o.maxUsesPerUser,
		Active:         true,
	}
	if !rule.DiscountType.Valid() {
		return rule, errors.Errorf("unknown discount type %q", o.discountType)
	}
	var err error
	if rule.Value, err = decimal.NewFromString(o.value); err != nil {
		return rule, errors.Wrap(err, "value")
	}
	if rule.MinOrderAmount, err = decimal.NewFromString(o.minOrder); err != nil {
		return rule, errors.Wrap(err, "min order")
	}
	if rule.Value.IsNegative() || rule.MinOrderAmount.IsNegative() {
		return rule, errors.New("value and min order must not be negative")
	}
	if rule.DiscountType == coupon.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		return rule, errors.New("percentage must not exceed 100")
	}
	if o.validDays > 0 {
		from := now.UTC()
		until := from.AddDate(0, 0, o.validDays)
		rule.ValidFrom, rule.ValidUntil = &from, &until
	}
	return rule, nil
}

func main() {
	var o options
	flag.StringVar(&o.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&o.minFiles, "min-files", 2, "publish codes present in at least this many files")
	flag.UintVar(&o.capacity, "capacity", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.StringVar(&o.discountType, "type", string(coupon.DiscountPercentage), "percentage, fixed_amount or free_shipping")
	flag.StringVar(&o.value, "value", "10", "discount value")
	flag.StringVar(&o.minOrder, "min-order", "0", "minimum order subtotal")
	flag.IntVar(&o.maxUses, "max-uses", 1, "global usage limit per code, 0 for unlimited")
	flag.IntVar(&o.maxUsesPerUser, "max-uses-per-user", 1, "usage limit per member, 0 for unlimited")
	flag.IntVar(&o.validDays, "valid-days", 0, "days the codes stay valid, 0 for no expiry")
	flag.StringVar(&o.description, "description", "Promo code", "coupon description")
	flag.Parse()

	lg := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(lg)

	if o.databaseURL == "" {
		o.databaseURL = os.Getenv("DATABASE_URL")
	}
	if o.databaseURL == "" {
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, o, flag.Args()); err != nil {
		lg.Error("Coupon ingest failed", tint.Err(err))
		os.Exit(1)
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *slog.Logger, o options, files []string) error {
	tmpl, err := o.rule(time.Now())
	if err != nil {
		return errors.Wrap(err, "coupon template")
	}

	s := &scanner{lg: lg, files: files, minFiles: o.minFiles, capacity: o.capacity}
	codes, err := s.scan(ctx)
	if err != nil {
		return err
	}
	lg.Info("Accepted codes", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	pool, err := repository.NewPool(ctx, o.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	inserted, err := writeCoupons(ctx, lg, repository.NewCouponRepository(pool), tmpl, codes)
	if err != nil {
		return err
	}
	lg.Info("Coupons stored",
		slog.Int("inserted", inserted),
		slog.Int("existing", len(codes)-inserted),
	)
	return nil
}
