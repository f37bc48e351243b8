package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/services"
	"github.com/example/cakeshop/internal/utils"
)

// CatalogHandler serves cakes, customization options and the special offer.
type CatalogHandler struct {
	catalog *services.CatalogService
	images  services.ImageStore
}

// NewCatalogHandler constructs CatalogHandler. images may be nil when
// object storage is not configured.
func NewCatalogHandler(catalog *services.CatalogService, images services.ImageStore) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, images: images}
}

// ListCakes returns paginated cakes, most ordered first.
func (h *CatalogHandler) ListCakes(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	filter := services.CakeFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Search:   strings.TrimSpace(c.Query("search")),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if raw := c.Query("customizable"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid customizable")
		}
		filter.Customizable = &v
	}

	cakes, total, err := h.catalog.ListCakes(c.UserContext(), filter)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    cakes,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// GetCake returns a single cake by slug.
func (h *CatalogHandler) GetCake(c *fiber.Ctx) error {
	cake, err := h.catalog.GetCake(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": cake})
}

// CreateCake persists a new cake.
func (h *CatalogHandler) CreateCake(c *fiber.Ctx) error {
	var payload services.CakeInput
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	cake, err := h.catalog.CreateCake(c.UserContext(), payload)
	if err != nil {
		return err
	}
	audit(c).WithField("cake_id", cake.ID).Info("cake created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": cake})
}

// UpdateCake updates an existing cake.
func (h *CatalogHandler) UpdateCake(c *fiber.Ctx) error {
	var payload services.CakeInput
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	cake, err := h.catalog.UpdateCake(c.UserContext(), c.Params("id"), payload)
	if err != nil {
		return err
	}
	audit(c).WithField("cake_id", cake.ID).Info("cake updated")
	return c.JSON(fiber.Map{"success": true, "data": cake})
}

// DeleteCake removes a cake from the storefront.
func (h *CatalogHandler) DeleteCake(c *fiber.Ctx) error {
	if err := h.catalog.DeleteCake(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	audit(c).WithField("cake_id", c.Params("id")).Info("cake deleted")
	return c.JSON(fiber.Map{"success": true})
}

// UploadCakeImage stores the multipart "image" file and sets it as the
// cake's picture.
func (h *CatalogHandler) UploadCakeImage(c *fiber.Ctx) error {
	if h.images == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "image storage is not configured")
	}

	id := c.Params("id")
	if _, err := h.catalog.GetCake(c.UserContext(), id); err != nil {
		return err
	}

	file, err := c.FormFile("image")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "image file is required")
	}
	contentType := file.Header.Get(fiber.HeaderContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return fiber.NewError(fiber.StatusBadRequest, "file must be an image")
	}

	src, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "open upload")
	}
	defer src.Close()

	url, err := h.images.Upload(c.UserContext(), "cakes/"+id, file.Filename, src, file.Size, contentType)
	if err != nil {
		return err
	}

	cake, err := h.catalog.SetCakeImage(c.UserContext(), id, url)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": cake})
}

// ListCustomizations returns every option grouped by category.
func (h *CatalogHandler) ListCustomizations(c *fiber.Ctx) error {
	options, err := h.catalog.Options(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": options})
}

func optionCategory(c *fiber.Ctx) (models.OptionCategory, error) {
	category, ok := models.ParseOptionCategory(c.Params("category"))
	if !ok {
		return "", fiber.NewError(fiber.StatusNotFound, "unknown customization category")
	}
	return category, nil
}

// CreateCustomization adds an option to a category.
func (h *CatalogHandler) CreateCustomization(c *fiber.Ctx) error {
	category, err := optionCategory(c)
	if err != nil {
		return err
	}
	var payload services.OptionInput
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	row, err := h.catalog.CreateOption(c.UserContext(), category, payload)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": row})
}

// UpdateCustomization edits an option.
func (h *CatalogHandler) UpdateCustomization(c *fiber.Ctx) error {
	category, err := optionCategory(c)
	if err != nil {
		return err
	}
	var payload services.OptionInput
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	row, err := h.catalog.UpdateOption(c.UserContext(), category, c.Params("id"), payload)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": row})
}

// DeleteCustomization removes an option.
func (h *CatalogHandler) DeleteCustomization(c *fiber.Ctx) error {
	category, err := optionCategory(c)
	if err != nil {
		return err
	}
	if err := h.catalog.DeleteOption(c.UserContext(), category, c.Params("id")); err != nil {
		return err
	}
	audit(c).WithField("option", string(category)+"/"+c.Params("id")).Info("customization deleted")
	return c.JSON(fiber.Map{"success": true})
}

type specialOfferView struct {
	*models.SpecialOffer
	SpecialPrice decimal.Decimal `json:"special_price"`
	Savings      decimal.Decimal `json:"savings"`
}

func newSpecialOfferView(offer *models.SpecialOffer) specialOfferView {
	view := specialOfferView{SpecialOffer: offer}
	if offer.Cake != nil {
		view.SpecialPrice = models.SpecialPrice(offer.Cake.BasePrice, offer.DiscountPercentage)
		view.Savings = models.Savings(offer.Cake.BasePrice, offer.DiscountPercentage)
	}
	return view
}

// GetSpecialOffer returns the promoted cake or null.
func (h *CatalogHandler) GetSpecialOffer(c *fiber.Ctx) error {
	offer, err := h.catalog.ActiveOffer(c.UserContext())
	if errors.Is(err, services.ErrOfferNotFound) {
		return c.JSON(fiber.Map{"success": true, "data": nil})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": newSpecialOfferView(offer)})
}

type specialOfferRequest struct {
	CakeID             string          `json:"cake_id"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// ReplaceSpecialOffer swaps the promoted cake.
func (h *CatalogHandler) ReplaceSpecialOffer(c *fiber.Ctx) error {
	var req specialOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	offer, err := h.catalog.ReplaceOffer(c.UserContext(), strings.TrimSpace(req.CakeID), req.DiscountPercentage)
	if err != nil {
		return err
	}
	audit(c).WithFields(logrus.Fields{
		"cake_id":  offer.CakeID,
		"discount": offer.DiscountPercentage.String(),
	}).Info("special offer replaced")
	return c.JSON(fiber.Map{"success": true, "data": newSpecialOfferView(offer)})
}
