package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
	"github.com/GaryWong163/Online-shop/internal/domain/product"
)

// Line is one cart entry to be priced.
type Line struct {
	ProductID int64
	Quantity  int
}

// LineQuote is the priced form of a Line.
type LineQuote struct {
	ProductID int64
	Quantity  int
	// CatalogPrice is the undiscounted unit price.
	CatalogPrice decimal.Decimal
	// LineTotal is the discounted, unrounded line price.
	LineTotal decimal.Decimal
	// BilledUnitPrice is LineTotal / Quantity rounded to cents, for line
	// breakdowns sent to the payment provider.
	BilledUnitPrice decimal.Decimal
	Discount        *discount.Rule
}

// Quote is a fully priced cart.
type Quote struct {
	Lines []LineQuote
	// Total is the sum of line totals rounded to 2 decimal places.
	Total decimal.Decimal
}

// Engine prices carts against the catalog and its discount rules.
type Engine struct {
	products  product.Repository
	discounts discount.Repository
}

// NewEngine creates a pricing Engine.
func NewEngine(products product.Repository, discounts discount.Repository) *Engine {
	return &Engine{products: products, discounts: discounts}
}

// Price looks up every product and its discount rule in one batch each and
// prices the lines in input order. All unknown products are reported together
// as *product.NotFoundError values combined with multierr.
func (e *Engine) Price(ctx context.Context, lines []Line) (*Quote, error) {
	ids := uniqueIDs(lines)

	var (
		products []product.Product
		rules    []discount.Rule
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if products, err = e.products.GetByIDs(gctx, ids); err != nil {
			return errors.Wrap(err, "get products")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if rules, err = e.discounts.ListByProductIDs(gctx, ids); err != nil {
			return errors.Wrap(err, "get discounts")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	productMap := make(map[int64]product.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	ruleMap := make(map[int64]*discount.Rule, len(rules))
	for i := range rules {
		ruleMap[rules[i].ProductID] = &rules[i]
	}

	var missing error
	for _, id := range ids {
		if _, ok := productMap[id]; !ok {
			missing = multierr.Append(missing, &product.NotFoundError{ProductID: id})
		}
	}
	if missing != nil {
		return nil, missing
	}

	q := &Quote{Lines: make([]LineQuote, len(lines))}
	sum := zero
	for i, l := range lines {
		p := productMap[l.ProductID]
		rule := ruleMap[l.ProductID]
		lineTotal := LineTotal(rule, p.Price, l.Quantity)

		lq := LineQuote{
			ProductID:    l.ProductID,
			Quantity:     l.Quantity,
			CatalogPrice: p.Price,
			LineTotal:    lineTotal,
			Discount:     rule,
		}
		if l.Quantity > 0 {
			lq.BilledUnitPrice = lineTotal.DivRound(decimal.NewFromInt(int64(l.Quantity)), 2)
		}
		q.Lines[i] = lq
		sum = sum.Add(lineTotal)
	}
	q.Total = sum.Round(2)

	return q, nil
}

func uniqueIDs(lines []Line) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}
