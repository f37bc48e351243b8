package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/example/cakeshop/internal/models"
)

// CakeInput carries writable cake fields. Nil fields are left unchanged on
// update.
type CakeInput struct {
	ID              *string          `json:"id"`
	Name            *string          `json:"name"`
	Description     *string          `json:"description"`
	BasePrice       *decimal.Decimal `json:"base_price"`
	Image           *string          `json:"image"`
	Rating          *float64         `json:"rating"`
	Category        *string          `json:"category"`
	ReadyTime       *string          `json:"ready_time"`
	Customizable    *bool            `json:"customizable"`
	DefaultFlavorID *string          `json:"default_flavor_id"`
}

// OptionInput carries writable option fields; category-specific fields are
// ignored where they do not apply.
type OptionInput struct {
	ID          *string          `json:"id"`
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
	Swatch      *string          `json:"swatch"`
	Serves      *string          `json:"serves"`
	Hex         *string          `json:"hex"`
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func requireSlug(field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", invalid(field, "is required")
	}
	return strings.TrimSpace(*v), nil
}

func (s *CatalogService) applyCake(tx *gorm.DB, cake *models.Cake, in CakeInput) error {
	set(&cake.Name, in.Name)
	set(&cake.Description, in.Description)
	set(&cake.BasePrice, in.BasePrice)
	set(&cake.Image, in.Image)
	set(&cake.Rating, in.Rating)
	set(&cake.Category, in.Category)
	set(&cake.ReadyTime, in.ReadyTime)
	set(&cake.Customizable, in.Customizable)

	if strings.TrimSpace(cake.Name) == "" {
		return invalid("name", "is required")
	}
	if cake.BasePrice.IsNegative() {
		return invalid("base_price", "must not be negative")
	}
	if cake.Rating < 0 || cake.Rating > 5 {
		return invalid("rating", "must be between 0 and 5")
	}
	if in.DefaultFlavorID != nil {
		if *in.DefaultFlavorID == "" {
			cake.DefaultFlavorID = nil
			return nil
		}
		var n int64
		if err := tx.Model(&models.Flavor{}).Where("id = ?", *in.DefaultFlavorID).Count(&n).Error; err != nil {
			return errors.Wrap(err, "check default flavor")
		}
		if n == 0 {
			return invalid("default_flavor_id", "unknown flavor "+*in.DefaultFlavorID)
		}
		id := *in.DefaultFlavorID
		cake.DefaultFlavorID = &id
	}
	return nil
}

// CreateCake adds a cake under a caller-chosen slug.
func (s *CatalogService) CreateCake(ctx context.Context, in CakeInput) (*models.Cake, error) {
	id, err := requireSlug("id", in.ID)
	if err != nil {
		return nil, err
	}
	if in.BasePrice == nil {
		return nil, invalid("base_price", "is required")
	}

	cake := &models.Cake{SlugModel: models.SlugModel{ID: id}}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.applyCake(tx, cake, in); err != nil {
			return err
		}
		if err := tx.Create(cake).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyExists
			}
			return errors.Wrap(err, "create cake")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cake, nil
}

// UpdateCake applies the non-nil fields of in. The id is immutable.
func (s *CatalogService) UpdateCake(ctx context.Context, id string, in CakeInput) (*models.Cake, error) {
	var cake *models.Cake
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if cake, err = findCake(tx, id); err != nil {
			return err
		}
		if err := s.applyCake(tx, cake, in); err != nil {
			return err
		}
		return errors.Wrap(tx.Save(cake).Error, "update cake")
	})
	if err != nil {
		return nil, err
	}
	return cake, nil
}

// SetCakeImage points the cake at an uploaded image.
func (s *CatalogService) SetCakeImage(ctx context.Context, id, url string) (*models.Cake, error) {
	return s.UpdateCake(ctx, id, CakeInput{Image: &url})
}

func applyOption(row any, in OptionInput) error {
	var base *models.OptionBase
	switch r := row.(type) {
	case *models.Flavor:
		base = &r.OptionBase
		set(&r.Description, in.Description)
		set(&r.Swatch, in.Swatch)
	case *models.Size:
		base = &r.OptionBase
		set(&r.Serves, in.Serves)
	case *models.Color:
		base = &r.OptionBase
		set(&r.Hex, in.Hex)
	case *models.Topping:
		base = &r.OptionBase
	default:
		return errors.Errorf("unsupported option type %T", row)
	}

	set(&base.Name, in.Name)
	set(&base.Price, in.Price)
	if strings.TrimSpace(base.Name) == "" {
		return invalid("name", "is required")
	}
	if base.Price.IsNegative() {
		return invalid("price", "must not be negative")
	}
	return nil
}

func optionID(row any) *models.SlugModel {
	switch r := row.(type) {
	case *models.Flavor:
		return &r.SlugModel
	case *models.Size:
		return &r.SlugModel
	case *models.Color:
		return &r.SlugModel
	case *models.Topping:
		return &r.SlugModel
	}
	return nil
}

// CreateOption adds an option to the category's table.
func (s *CatalogService) CreateOption(ctx context.Context, category models.OptionCategory, in OptionInput) (any, error) {
	id, err := requireSlug("id", in.ID)
	if err != nil {
		return nil, err
	}
	row := category.NewOption()
	if row == nil {
		return nil, invalid("category", "unknown category "+string(category))
	}
	optionID(row).ID = id
	if err := applyOption(row, in); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrAlreadyExists
		}
		return nil, errors.Wrapf(err, "create %s option", category)
	}
	return row, nil
}

// UpdateOption applies the non-nil fields of in. Existing orders keep the
// price they were placed at.
func (s *CatalogService) UpdateOption(ctx context.Context, category models.OptionCategory, id string, in OptionInput) (any, error) {
	row := category.NewOption()
	if row == nil {
		return nil, invalid("category", "unknown category "+string(category))
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOptionNotFound
			}
			return errors.Wrapf(err, "load %s option", category)
		}
		if err := applyOption(row, in); err != nil {
			return err
		}
		return errors.Wrapf(tx.Save(row).Error, "update %s option", category)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteOption soft-deletes an option. Order summaries still resolve its name.
func (s *CatalogService) DeleteOption(ctx context.Context, category models.OptionCategory, id string) error {
	row := category.NewOption()
	if row == nil {
		return invalid("category", "unknown category "+string(category))
	}
	res := s.db.WithContext(ctx).Delete(row, "id = ?", id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete %s option", category)
	}
	if res.RowsAffected == 0 {
		return ErrOptionNotFound
	}
	return nil
}
