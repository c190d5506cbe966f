package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
	"github.com/GaryWong163/Online-shop/internal/identity"
	"github.com/GaryWong163/Online-shop/internal/storage/postgres"
)

// defaultCatalog is seeded when no products file is given.
var defaultCatalog = []product.Product{
	{ID: 1, Name: "Ceramic Mug", Price: decimal.RequireFromString("12.50")},
	{ID: 2, Name: "Desk Lamp", Price: decimal.RequireFromString("50.00")},
	{ID: 3, Name: "Sticker Pack", Price: decimal.RequireFromString("4.00")},
	{ID: 4, Name: "Notebook", Price: decimal.RequireFromString("8.75")},
}

var defaultDiscounts = []discount.Rule{
	{
		ProductID:    3,
		Type:         discount.TypeBuyXGetYFree,
		Description:  "Buy 2 sticker packs, get 1 free",
		BuyXGetYFree: &discount.BuyXGetYFree{Buy: 2, Free: 1},
	},
	{
		ProductID:   1,
		Type:        discount.TypeTiered,
		Description: "3 mugs for 30.00, 6 for 55.00",
		Tiers: []discount.Tier{
			{Quantity: 3, TotalPrice: decimal.RequireFromString("30.00")},
			{Quantity: 6, TotalPrice: decimal.RequireFromString("55.00")},
		},
	},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		jwtSecret    string
		tokenTTL     time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "optional JSON array of {id,name,price} replacing the built-in catalog")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "identity token secret; prints admin and user tokens when set (or SHOP_AUTH_JWT_SECRET env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("SHOP_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if jwtSecret != "" {
		if err := printTokens(jwtSecret, tokenTTL); err != nil {
			slog.Error("mint tokens failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
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

	catalog := defaultCatalog
	if productsFile != "" {
		if catalog, err = readProducts(productsFile); err != nil {
			return errors.Wrap(err, "read products")
		}
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedDiscounts(ctx, postgres.NewDiscountRepository(pool), catalog); err != nil {
		return errors.Wrap(err, "seed discounts")
	}

	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}

	var out []product.Product
	if err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var p product.Product
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				v, err := d.Int64()
				p.ID = v
				return err
			case "name":
				v, err := d.Str()
				p.Name = v
				return err
			case "price":
				var raw string
				if d.Next() == jx.String {
					s, err := d.Str()
					if err != nil {
						return err
					}
					raw = s
				} else {
					n, err := d.Num()
					if err != nil {
						return err
					}
					raw = n.String()
				}
				v, err := decimal.NewFromString(raw)
				p.Price = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		out = append(out, p)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return out, nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, catalog []product.Product) error {
	slog.Info("upserting products", slog.Int("count", len(catalog)))

	for i := range catalog {
		p := &catalog[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %q", p.Name)
		}

		slog.Info("upserted product", slog.Int64("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

// seedDiscounts attaches the built-in rules to the products that exist in
// catalog.
func seedDiscounts(ctx context.Context, repo *postgres.DiscountRepository, catalog []product.Product) error {
	slog.Info("seeding discounts")

	known := make(map[int64]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}

	for _, rule := range defaultDiscounts {
		if !known[rule.ProductID] {
			slog.Info("skipping discount for missing product", slog.Int64("product_id", rule.ProductID))
			continue
		}
		if err := repo.Upsert(ctx, &rule); err != nil {
			return errors.Wrapf(err, "upsert discount for product %d", rule.ProductID)
		}

		slog.Info("upserted discount", slog.Int64("product_id", rule.ProductID), slog.String("description", rule.Description))
	}

	return nil
}

// printTokens writes ready-to-use identity tokens for local testing.
func printTokens(secret string, ttl time.Duration) error {
	v := identity.NewVerifier(identity.Config{Secret: secret})
	now := time.Now()

	for _, id := range []identity.Identity{
		{UserID: "admin@example.com", Role: identity.RoleAdmin},
		{UserID: "user@example.com", Role: identity.RoleUser},
	} {
		token, err := v.Mint(id, now, ttl)
		if err != nil {
			return errors.Wrapf(err, "mint %s token", id.Role)
		}
		fmt.Printf("%s\t%s\t%s\n", id.Role, id.UserID, token)
	}

	return nil
}
