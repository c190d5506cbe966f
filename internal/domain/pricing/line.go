// Package pricing computes cart totals with per-product quantity discounts.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/GaryWong163/Online-shop/internal/domain/discount"
)

var zero = decimal.Zero

// LineTotal returns the unrounded price of qty units at unit price under the
// given rule. A nil rule, an unknown rule type or a malformed rule bills every
// unit at the unit price.
func LineTotal(rule *discount.Rule, unit decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return zero
	}
	if rule == nil {
		return fullPrice(unit, qty)
	}

	switch rule.Type {
	case discount.TypeBuyXGetYFree:
		return buyXGetYFree(rule.BuyXGetYFree, unit, qty)
	case discount.TypeTiered:
		return tiered(rule.SortedTiers(), unit, qty)
	default:
		return fullPrice(unit, qty)
	}
}

// buyXGetYFree bills sets*buy + remainder units, where a set is buy+free
// units and the remainder is whatever does not fill a whole set.
func buyXGetYFree(b *discount.BuyXGetYFree, unit decimal.Decimal, qty int) decimal.Decimal {
	if b == nil || b.Buy <= 0 || b.Free < 0 {
		return fullPrice(unit, qty)
	}
	block := b.Buy + b.Free
	sets := qty / block
	rem := qty % block
	return fullPrice(unit, sets*b.Buy+rem)
}

// tiered greedily consumes the largest tier that still fits, billing each
// consumed block at its fixed total. Units below every threshold are billed
// at the unit price. tiers must be sorted by descending threshold.
func tiered(tiers []discount.Tier, unit decimal.Decimal, qty int) decimal.Decimal {
	total := zero
	remaining := qty
	for _, t := range tiers {
		if remaining < t.Quantity {
			continue
		}
		blocks := remaining / t.Quantity
		total = total.Add(t.TotalPrice.Mul(decimal.NewFromInt(int64(blocks))))
		remaining -= blocks * t.Quantity
	}
	return total.Add(fullPrice(unit, remaining))
}

func fullPrice(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}
