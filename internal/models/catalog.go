package models

import "github.com/shopspring/decimal"

type Cake struct {
	SlugModel
	Name            string          `gorm:"not null" json:"name"`
	Description     string          `json:"description"`
	BasePrice       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"base_price"`
	Image           string          `json:"image"`
	Rating          float64         `json:"rating"`
	Category        string          `gorm:"index" json:"category"`
	OrdersCount     int             `gorm:"not null;default:0" json:"orders_count"`
	ReadyTime       string          `json:"ready_time"`
	Customizable    bool            `json:"customizable"`
	DefaultFlavorID *string         `gorm:"size:128" json:"default_flavor_id"`
}

// OptionBase holds the columns every customization option shares.
type OptionBase struct {
	SlugModel
	Name  string          `gorm:"not null" json:"name"`
	Price decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"price"`
}

type Flavor struct {
	OptionBase
	Description string `json:"description"`
	Swatch      string `json:"swatch"`
}

type Size struct {
	OptionBase
	Serves string `json:"serves"`
}

type Color struct {
	OptionBase
	Hex string `gorm:"size:16" json:"hex"`
}

type Topping struct {
	OptionBase
}

// OptionCategory names one of the customization option tables.
type OptionCategory string

const (
	CategoryFlavors  OptionCategory = "flavors"
	CategorySizes    OptionCategory = "sizes"
	CategoryColors   OptionCategory = "colors"
	CategoryToppings OptionCategory = "toppings"
)

// OptionCategories lists the categories in display order.
var OptionCategories = []OptionCategory{CategoryFlavors, CategorySizes, CategoryColors, CategoryToppings}

// ParseOptionCategory validates a category taken from a URL segment.
func ParseOptionCategory(raw string) (OptionCategory, bool) {
	for _, c := range OptionCategories {
		if string(c) == raw {
			return c, true
		}
	}
	return "", false
}

// NewOption returns a pointer to an empty row of the category's model.
func (c OptionCategory) NewOption() any {
	switch c {
	case CategoryFlavors:
		return &Flavor{}
	case CategorySizes:
		return &Size{}
	case CategoryColors:
		return &Color{}
	case CategoryToppings:
		return &Topping{}
	}
	return nil
}

// NewOptionSlice returns a pointer to an empty slice of the category's model.
func (c OptionCategory) NewOptionSlice() any {
	switch c {
	case CategoryFlavors:
		return &[]Flavor{}
	case CategorySizes:
		return &[]Size{}
	case CategoryColors:
		return &[]Color{}
	case CategoryToppings:
		return &[]Topping{}
	}
	return nil
}

// OptionSet is the full customization catalog.
type OptionSet struct {
	Flavors  []Flavor  `json:"flavors"`
	Sizes    []Size    `json:"sizes"`
	Colors   []Color   `json:"colors"`
	Toppings []Topping `json:"toppings"`
}
