// Package seed loads the starter catalog into an empty database.
package seed

import (
	"context"
	_ "embed"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
)

//go:embed catalog.yaml
var catalogYAML []byte

type cakeEntry struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Description     string  `yaml:"description"`
	BasePrice       float64 `yaml:"base_price"`
	Image           string  `yaml:"image"`
	Rating          float64 `yaml:"rating"`
	Category        string  `yaml:"category"`
	ReadyTime       string  `yaml:"ready_time"`
	Customizable    bool    `yaml:"customizable"`
	DefaultFlavorID string  `yaml:"default_flavor_id"`
}

type optionEntry struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Price       float64 `yaml:"price"`
	Description string  `yaml:"description"`
	Swatch      string  `yaml:"swatch"`
	Serves      string  `yaml:"serves"`
	Hex         string  `yaml:"hex"`
}

func (o optionEntry) base() models.OptionBase {
	return models.OptionBase{
		SlugModel: models.SlugModel{ID: o.ID},
		Name:      o.Name,
		Price:     decimal.NewFromFloat(o.Price),
	}
}

// Catalog mirrors catalog.yaml.
type Catalog struct {
	Cakes        []cakeEntry   `yaml:"cakes"`
	Flavors      []optionEntry `yaml:"flavors"`
	Sizes        []optionEntry `yaml:"sizes"`
	Colors       []optionEntry `yaml:"colors"`
	Toppings     []optionEntry `yaml:"toppings"`
	SpecialOffer *struct {
		CakeID             string  `yaml:"cake_id"`
		DiscountPercentage float64 `yaml:"discount_percentage"`
	} `yaml:"special_offer"`
}

// Parse decodes a catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	return &c, nil
}

// Default returns the embedded starter catalog.
func Default() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Apply inserts the catalog when no cakes exist yet. It reports whether
// anything was written.
func Apply(ctx context.Context, db *gorm.DB, c *Catalog) (bool, error) {
	var count int64
	if err := db.WithContext(ctx).Unscoped().Model(&models.Cake{}).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "count cakes")
	}
	if count > 0 {
		return false, nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, f := range c.Flavors {
			if err := tx.Create(&models.Flavor{OptionBase: f.base(), Description: f.Description, Swatch: f.Swatch}).Error; err != nil {
				return errors.Wrapf(err, "flavor %s", f.ID)
			}
		}
		for _, s := range c.Sizes {
			if err := tx.Create(&models.Size{OptionBase: s.base(), Serves: s.Serves}).Error; err != nil {
				return errors.Wrapf(err, "size %s", s.ID)
			}
		}
		for _, col := range c.Colors {
			if err := tx.Create(&models.Color{OptionBase: col.base(), Hex: col.Hex}).Error; err != nil {
				return errors.Wrapf(err, "color %s", col.ID)
			}
		}
		for _, t := range c.Toppings {
			if err := tx.Create(&models.Topping{OptionBase: t.base()}).Error; err != nil {
				return errors.Wrapf(err, "topping %s", t.ID)
			}
		}

		for _, e := range c.Cakes {
			cake := models.Cake{
				SlugModel:    models.SlugModel{ID: e.ID},
				Name:         e.Name,
				Description:  e.Description,
				BasePrice:    decimal.NewFromFloat(e.BasePrice),
				Image:        e.Image,
				Rating:       e.Rating,
				Category:     e.Category,
				ReadyTime:    e.ReadyTime,
				Customizable: e.Customizable,
			}
			if e.DefaultFlavorID != "" {
				id := e.DefaultFlavorID
				cake.DefaultFlavorID = &id
			}
			if err := tx.Create(&cake).Error; err != nil {
				return errors.Wrapf(err, "cake %s", e.ID)
			}
		}

		if c.SpecialOffer != nil && c.SpecialOffer.CakeID != "" {
			offer := models.SpecialOffer{
				CakeID:             c.SpecialOffer.CakeID,
				DiscountPercentage: decimal.NewFromFloat(c.SpecialOffer.DiscountPercentage),
			}
			if err := tx.Create(&offer).Error; err != nil {
				return errors.Wrap(err, "special offer")
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	logrus.WithField("component", "seed").WithFields(logrus.Fields{
		"cakes":    len(c.Cakes),
		"flavors":  len(c.Flavors),
		"sizes":    len(c.Sizes),
		"colors":   len(c.Colors),
		"toppings": len(c.Toppings),
	}).Info("catalog seeded")
	return true, nil
}
