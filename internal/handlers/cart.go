package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/cakeshop/internal/cart"
	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/pricing"
	"github.com/example/cakeshop/internal/services"
)

// CartHandler exposes server-side carts keyed by a client-chosen id.
type CartHandler struct {
	carts   *cart.Manager
	catalog *services.CatalogService
}

// NewCartHandler constructs CartHandler.
func NewCartHandler(carts *cart.Manager, catalog *services.CatalogService) *CartHandler {
	return &CartHandler{carts: carts, catalog: catalog}
}

func cartID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("cartId"))
	if id == "" || len(id) > 128 {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid cart id")
	}
	return id, nil
}

func cartResponse(c *fiber.Ctx, status int, ct *cart.Cart) error {
	total := ct.TotalPrice()
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"id":             ct.ID,
			"items":          ct.Items,
			"item_count":     ct.ItemCount(),
			"total_price":    total,
			"deposit_amount": pricing.Deposit(total),
			"updated_at":     ct.UpdatedAt,
		},
	})
}

// GetCart returns the cart with computed totals.
func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	return cartResponse(c, fiber.StatusOK, h.carts.Get(c.UserContext(), id))
}

type addCartItemRequest struct {
	CakeID         string                 `json:"cake_id"`
	Quantity       int                    `json:"quantity"`
	SpecialOffer   bool                   `json:"special_offer"`
	Customizations *models.Customizations `json:"customizations"`
}

// AddItem prices the cake from the live catalog and appends it.
func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req addCartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Quantity < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "quantity must be at least 1")
	}

	line, err := h.catalog.PriceLine(c.UserContext(), req.CakeID, req.Customizations, req.SpecialOffer)
	if err != nil {
		return err
	}

	product := cart.Product{CakeID: line.Cake.ID, Name: line.Cake.Name}
	ct := h.carts.Mutate(c.UserContext(), id, func(ct *cart.Cart) {
		ct.AddItem(product, req.Quantity, line.UnitPrice, line.Customizations, req.SpecialOffer)
	})
	return cartResponse(c, fiber.StatusCreated, ct)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateItem sets a line's quantity; zero removes the line.
func (h *CartHandler) UpdateItem(c *fiber.Ctx) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	var req updateCartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	itemID := c.Params("itemId")
	ct := h.carts.Mutate(c.UserContext(), id, func(ct *cart.Cart) {
		ct.UpdateQuantity(itemID, req.Quantity)
	})
	return cartResponse(c, fiber.StatusOK, ct)
}

// RemoveItem deletes a line.
func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	itemID := c.Params("itemId")
	ct := h.carts.Mutate(c.UserContext(), id, func(ct *cart.Cart) {
		ct.RemoveItem(itemID)
	})
	return cartResponse(c, fiber.StatusOK, ct)
}

// ClearCart drops the whole cart.
func (h *CartHandler) ClearCart(c *fiber.Ctx) error {
	id, err := cartID(c)
	if err != nil {
		return err
	}
	h.carts.Discard(c.UserContext(), id)
	return cartResponse(c, fiber.StatusOK, cart.New(id))
}
