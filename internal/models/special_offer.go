package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SpecialOffer is the single promoted cake. There should be at most one row.
type SpecialOffer struct {
	BaseModel
	CakeID             string          `gorm:"size:128;not null" json:"cake_id"`
	Cake               *Cake           `gorm:"foreignKey:CakeID" json:"cake,omitempty"`
	DiscountPercentage decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"discount_percentage"`
}

// SpecialPrice applies the discount to base, rounded to cents.
func SpecialPrice(base, discountPercentage decimal.Decimal) decimal.Decimal {
	factor := hundred.Sub(discountPercentage).Div(hundred)
	return base.Mul(factor).Round(2)
}

// Savings is base minus the special price.
func Savings(base, discountPercentage decimal.Decimal) decimal.Decimal {
	return base.Sub(SpecialPrice(base, discountPercentage))
}

// ValidDiscount reports whether d lies within 0..100.
func ValidDiscount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred)
}
