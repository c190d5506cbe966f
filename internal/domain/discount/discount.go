// Package discount describes per-product quantity discount rules.
package discount

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Type identifies how a discount rule prices a line.
type Type string

// Supported discount types.
const (
	TypeBuyXGetYFree Type = "buy_x_get_y_free"
	TypeTiered       Type = "tiered_pricing"
)

// BuyXGetYFree bills Buy units and gives Free units away in every block of
// Buy+Free units.
type BuyXGetYFree struct {
	Buy  int
	Free int
}

// Tier prices a whole block of Quantity units at TotalPrice.
type Tier struct {
	Quantity   int
	TotalPrice decimal.Decimal
}

// Rule is the single discount attached to a product. At most one of
// BuyXGetYFree and Tiers is set, matching Type.
type Rule struct {
	ID           int64
	ProductID    int64
	Type         Type
	Description  string
	BuyXGetYFree *BuyXGetYFree
	Tiers        []Tier
}

// SortedTiers returns the usable tiers ordered by descending threshold.
// Tiers with a non-positive threshold are dropped.
func (r *Rule) SortedTiers() []Tier {
	out := make([]Tier, 0, len(r.Tiers))
	for _, t := range r.Tiers {
		if t.Quantity > 0 {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Quantity > out[j].Quantity
	})
	return out
}

// Repository defines read operations for discount rules.
type Repository interface {
	List(ctx context.Context) ([]Rule, error)
	ListByProductIDs(ctx context.Context, ids []int64) ([]Rule, error)
}
