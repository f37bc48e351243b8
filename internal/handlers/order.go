package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/example/cakeshop/internal/models"
	"github.com/example/cakeshop/internal/services"
	"github.com/example/cakeshop/internal/utils"
)

// OrderHandler serves order submission, tracking and admin order views.
type OrderHandler struct {
	orders    *services.OrderService
	summaries *services.SummaryService
}

// NewOrderHandler constructs OrderHandler.
func NewOrderHandler(orders *services.OrderService, summaries *services.SummaryService) *OrderHandler {
	return &OrderHandler{orders: orders, summaries: summaries}
}

type submitOrderRequest struct {
	Items          []services.SubmitItem `json:"items"`
	DeliveryInfo   services.DeliveryInfo `json:"deliveryInfo"`
	TotalPrice     decimal.Decimal       `json:"totalPrice"`
	DepositAmount  decimal.Decimal       `json:"depositAmount"`
	IdempotencyKey string                `json:"idempotencyKey"`
}

// CreateOrder submits the checkout. A repeated idempotency key returns the
// original order with 200 instead of 201.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req submitOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.Get("Idempotency-Key"))
	}

	result, err := h.orders.SubmitOrder(c.UserContext(), services.SubmitOrderInput{
		Items:          req.Items,
		Delivery:       req.DeliveryInfo,
		TotalPrice:     req.TotalPrice,
		DepositAmount:  req.DepositAmount,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	status := fiber.StatusCreated
	if result.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"success":       true,
		"orderNumber":   result.Order.OrderNumber,
		"depositAmount": result.Order.DepositAmount,
		"data":          result.Order,
	})
}

// ListOrders returns paginated orders for the admin.
func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	orders, total, err := h.orders.List(c.UserContext(), services.OrderFilter{
		Status:        strings.TrimSpace(c.Query("status")),
		PaymentStatus: strings.TrimSpace(c.Query("payment_status")),
		Search:        strings.TrimSpace(c.Query("search")),
		Limit:         pg.Limit,
		Offset:        pg.Offset,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    orders,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

func orderID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// GetOrder returns a single order with its items.
func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	order, err := h.orders.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": order})
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// UpdateStatus moves the order through its lifecycle.
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := orderID(c)
	if err != nil {
		return err
	}
	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	order, err := h.orders.UpdateStatus(c.UserContext(), id, req.Status)
	if err != nil {
		return err
	}
	audit(c).WithFields(logrus.Fields{
		"order_number": order.OrderNumber,
		"status":       order.OrderStatus,
	}).Info("order status changed")
	return c.JSON(fiber.Map{"success": true, "data": order})
}

// Summary returns the human-readable order text and a WhatsApp link to the
// merchant.
func (h *OrderHandler) Summary(c *fiber.Ctx) error {
	order, err := h.orders.GetByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	summary, err := h.summaries.Build(c.UserContext(), order)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"order_number": summary.OrderNumber,
			"text":         summary.Text,
			"whatsapp_url": summary.WhatsAppURL,
		},
	})
}

// Track is the public order lookup by number.
func (h *OrderHandler) Track(c *fiber.Ctx) error {
	order, err := h.orders.GetByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"order_number":    order.OrderNumber,
			"order_status":    order.OrderStatus,
			"payment_status":  order.PaymentStatus,
			"total_price":     order.TotalPrice,
			"deposit_amount":  order.DepositAmount,
			"currency":        order.Currency,
			"delivery_method": order.DeliveryMethod,
			"delivery_date":   order.DeliveryDate,
			"created_at":      order.CreatedAt,
		},
	})
}

// QRCode renders the order number as a PNG.
func (h *OrderHandler) QRCode(c *fiber.Ctx) error {
	order, err := h.orders.GetByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return err
	}
	png, err := qrcode.Encode(order.OrderNumber, qrcode.Medium, 256)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
