// Package pricing computes cart line prices, order totals, and deposits.
// Everything here is pure so the server can re-derive any client-side figure.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/example/cakeshop/internal/models"
)

// DepositPercent is the share of the order total collected up front.
const DepositPercent = 80

var depositRate = decimal.NewFromInt(DepositPercent).Div(decimal.NewFromInt(100))

// Catalog maps option ids to their surcharges.
type Catalog struct {
	Flavors  map[string]decimal.Decimal
	Sizes    map[string]decimal.Decimal
	Colors   map[string]decimal.Decimal
	Toppings map[string]decimal.Decimal
}

// NewCatalog indexes an option set by id.
func NewCatalog(set models.OptionSet) Catalog {
	c := Catalog{
		Flavors:  make(map[string]decimal.Decimal, len(set.Flavors)),
		Sizes:    make(map[string]decimal.Decimal, len(set.Sizes)),
		Colors:   make(map[string]decimal.Decimal, len(set.Colors)),
		Toppings: make(map[string]decimal.Decimal, len(set.Toppings)),
	}
	for _, f := range set.Flavors {
		c.Flavors[f.ID] = f.Price
	}
	for _, s := range set.Sizes {
		c.Sizes[s.ID] = s.Price
	}
	for _, col := range set.Colors {
		c.Colors[col.ID] = col.Price
	}
	for _, t := range set.Toppings {
		c.Toppings[t.ID] = t.Price
	}
	return c
}

// UnitPrice returns base plus every selected surcharge. Ids missing from
// the catalog add nothing. Non-customizable cakes always cost base.
func UnitPrice(base decimal.Decimal, customizable bool, sel *models.Customizations, cat Catalog) decimal.Decimal {
	price := base
	if !customizable || sel == nil {
		return price
	}
	price = price.Add(lookup(cat.Flavors, sel.Flavor))
	price = price.Add(lookup(cat.Sizes, sel.Size))
	price = price.Add(lookup(cat.Colors, sel.Color))

	seen := make(map[string]struct{}, len(sel.Toppings))
	for _, id := range sel.Toppings {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		price = price.Add(cat.Toppings[id])
	}
	return price
}

func lookup(m map[string]decimal.Decimal, id *string) decimal.Decimal {
	if id == nil {
		return decimal.Zero
	}
	return m[*id]
}

// Line is anything with a unit price and a quantity.
type Line interface {
	UnitPrice() decimal.Decimal
	Qty() int
}

// Total sums price × quantity over lines.
func Total[L Line](lines []L) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Qty()))))
	}
	return total
}

// Deposit is round(total × 0.8) to whole currency units, half away from zero.
func Deposit(total decimal.Decimal) decimal.Decimal {
	return total.Mul(depositRate).Round(0)
}

// MinorUnits converts an amount to the gateway's minor units (×100).
// ok is false when the amount has sub-minor precision or is not positive.
func MinorUnits(amount decimal.Decimal) (int64, bool) {
	minor := amount.Shift(2)
	if !minor.IsInteger() || !minor.IsPositive() {
		return 0, false
	}
	return minor.IntPart(), true
}
