package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
)

// CatalogService reads and mutates cakes, customization options and the
// special offer.
type CatalogService struct {
	db *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

// CakeFilter narrows ListCakes.
type CakeFilter struct {
	Category     string
	Customizable *bool
	Search       string
	Limit        int
	Offset       int
}

// ListCakes returns a page of cakes plus the unpaged total.
func (s *CatalogService) ListCakes(ctx context.Context, f CakeFilter) ([]models.Cake, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Cake{})
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.Customizable != nil {
		query = query.Where("customizable = ?", *f.Customizable)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("LOWER(name) LIKE LOWER(?) OR LOWER(description) LIKE LOWER(?)", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count cakes")
	}

	var cakes []models.Cake
	q := query.Order("orders_count desc").Order("name asc")
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	if err := q.Find(&cakes).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list cakes")
	}
	return cakes, total, nil
}

func (s *CatalogService) GetCake(ctx context.Context, id string) (*models.Cake, error) {
	return findCake(s.db.WithContext(ctx), id)
}

func findCake(db *gorm.DB, id string) (*models.Cake, error) {
	var cake models.Cake
	if err := db.First(&cake, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCakeNotFound
		}
		return nil, errors.Wrap(err, "load cake")
	}
	return &cake, nil
}

// DeleteCake soft-deletes a cake unless it is the promoted one.
func (s *CatalogService) DeleteCake(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCake(tx, id); err != nil {
			return err
		}
		var promoted int64
		if err := tx.Model(&models.SpecialOffer{}).Where("cake_id = ?", id).Count(&promoted).Error; err != nil {
			return errors.Wrap(err, "check special offer")
		}
		if promoted > 0 {
			return ErrCakeInOffer
		}
		return tx.Delete(&models.Cake{}, "id = ?", id).Error
	})
}

// Options returns the live customization catalog.
func (s *CatalogService) Options(ctx context.Context) (models.OptionSet, error) {
	return loadOptionSet(s.db.WithContext(ctx))
}

// OptionsForDisplay also returns soft-deleted options so that historical
// orders can still resolve names.
func (s *CatalogService) OptionsForDisplay(ctx context.Context) (models.OptionSet, error) {
	return loadOptionSet(s.db.WithContext(ctx).Unscoped())
}

func loadOptionSet(db *gorm.DB) (models.OptionSet, error) {
	// Each Find below must start from its own statement.
	db = db.Session(&gorm.Session{})
	var set models.OptionSet
	if err := db.Order("price asc").Order("name asc").Find(&set.Flavors).Error; err != nil {
		return set, errors.Wrap(err, "load flavors")
	}
	if err := db.Order("price asc").Order("name asc").Find(&set.Sizes).Error; err != nil {
		return set, errors.Wrap(err, "load sizes")
	}
	if err := db.Order("price asc").Order("name asc").Find(&set.Colors).Error; err != nil {
		return set, errors.Wrap(err, "load colors")
	}
	if err := db.Order("price asc").Order("name asc").Find(&set.Toppings).Error; err != nil {
		return set, errors.Wrap(err, "load toppings")
	}
	return set, nil
}

// ActiveOffer returns the current special offer with its cake, or
// ErrOfferNotFound.
func (s *CatalogService) ActiveOffer(ctx context.Context) (*models.SpecialOffer, error) {
	return activeOffer(s.db.WithContext(ctx))
}

func activeOffer(db *gorm.DB) (*models.SpecialOffer, error) {
	var offer models.SpecialOffer
	if err := db.Preload("Cake").Order("created_at desc").First(&offer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, errors.Wrap(err, "load special offer")
	}
	if offer.Cake == nil {
		return nil, ErrOfferNotFound
	}
	return &offer, nil
}

// ReplaceOffer deletes any existing offer and promotes cakeID.
func (s *CatalogService) ReplaceOffer(ctx context.Context, cakeID string, discount decimal.Decimal) (*models.SpecialOffer, error) {
	if cakeID == "" {
		return nil, invalid("cake_id", "is required")
	}
	if !models.ValidDiscount(discount) {
		return nil, invalid("discount_percentage", "must be between 0 and 100")
	}

	var offer *models.SpecialOffer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cake, err := findCake(tx, cakeID)
		if err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&models.SpecialOffer{}).Error; err != nil {
			return errors.Wrap(err, "delete special offer")
		}
		offer = &models.SpecialOffer{CakeID: cake.ID, DiscountPercentage: discount}
		if err := tx.Create(offer).Error; err != nil {
			return errors.Wrap(err, "create special offer")
		}
		offer.Cake = cake
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// PricedLine is a cake line priced from the live catalog.
type PricedLine struct {
	Cake           *models.Cake
	UnitPrice      decimal.Decimal
	Customizations *models.Customizations
}

// PriceLine prices one cake with its selection. Promotional lines start
// from the special price of the active offer, which must promote cakeID.
func (s *CatalogService) PriceLine(ctx context.Context, cakeID string, sel *models.Customizations, specialOffer bool) (*PricedLine, error) {
	db := s.db.WithContext(ctx)
	options, err := loadOptionSet(db)
	if err != nil {
		return nil, err
	}
	var offer *models.SpecialOffer
	if specialOffer {
		if offer, err = activeOffer(db); err != nil && !errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}
	}
	return priceLine(db, pricing.NewCatalog(options), offer, cakeID, sel, specialOffer)
}

func priceLine(db *gorm.DB, cat pricing.Catalog, offer *models.SpecialOffer, cakeID string, sel *models.Customizations, specialOffer bool) (*PricedLine, error) {
	cake, err := findCake(db, cakeID)
	if err != nil {
		if errors.Is(err, ErrCakeNotFound) {
			return nil, invalid("cake_id", "unknown cake "+cakeID)
		}
		return nil, err
	}

	base := cake.BasePrice
	if specialOffer {
		if offer == nil || offer.CakeID != cake.ID {
			return nil, invalid("special_offer", "cake "+cakeID+" is not on special offer")
		}
		base = models.SpecialPrice(cake.BasePrice, offer.DiscountPercentage)
	}

	sel = sel.Normalized()
	if !cake.Customizable {
		sel = nil
	}
	return &PricedLine{
		Cake:           cake,
		UnitPrice:      pricing.UnitPrice(base, cake.Customizable, sel, cat),
		Customizations: sel,
	}, nil
}
