// Command seed-db loads the product catalog, promotional coupons, the point
// price and an admin API key into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/lmittmann/tint"
	"github.com/shopspring/decimal"

	"github.com/xenking/pointshop/db"
	"github.com/xenking/pointshop/internal/repository"
	"github.com/xenking/pointshop/internal/seed"
)

func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
		pointPrice   string
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "products JSON file (default: built-in catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or POINTS_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or POINTS_API_KEY_PEPPER env)")
	flag.StringVar(&pointPrice, "point-price", "1000", "currency price of one point, 0 to leave unchanged")
	flag.Parse()

	lg := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(lg)

	databaseURL = envOr(databaseURL, "DATABASE_URL")
	apiKey = envOr(apiKey, "POINTS_SEED_API_KEY")
	apiKeyPepper = envOr(apiKeyPepper, "POINTS_API_KEY_PEPPER")
	if databaseURL == "" {
		lg.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	price, err := decimal.NewFromString(pointPrice)
	if err != nil || price.IsNegative() {
		lg.Error("invalid point price", slog.String("value", pointPrice))
		os.Exit(1)
	}

	products := db.Products
	if productsFile != "" {
		if products, err = os.ReadFile(productsFile); err != nil {
			lg.Error("read products file", tint.Err(err))
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := seed.Options{
		Products:   products,
		PointPrice: price,
		AdminKey:   apiKey,
		Pepper:     []byte(apiKeyPepper),
	}
	if err := run(ctx, lg, databaseURL, opts); err != nil {
		lg.Error("Seed failed", tint.Err(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *slog.Logger, databaseURL string, opts seed.Options) error {
	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if opts.AdminKey == "" {
		lg.Warn("No admin API key given, admin endpoints stay locked")
	}
	sum, err := seed.Run(ctx, seed.PostgresSink(pool), opts)
	if err != nil {
		return err
	}
	lg.Info("Seeded",
		slog.Int("products", sum.Products),
		slog.Int("coupons", sum.Coupons),
		slog.Int("api_keys", sum.APIKeys),
		slog.String("point_price", opts.PointPrice.String()),
	)
	return nil
}
