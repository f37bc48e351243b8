package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/cakeshop/internal/services"
)

// PaymentHandler starts deposit payments and receives client callbacks.
type PaymentHandler struct {
	payments *services.PaymentService
	stripe   *services.StripeGateway
}

// NewPaymentHandler constructs PaymentHandler. stripe may be nil when the
// Stripe webhook is not in use.
func NewPaymentHandler(payments *services.PaymentService, stripe *services.StripeGateway) *PaymentHandler {
	return &PaymentHandler{payments: payments, stripe: stripe}
}

type initiatePaymentRequest struct {
	Phone string `json:"phone"`
}

// Initiate returns the gateway checkout for the order's deposit.
func (h *PaymentHandler) Initiate(c *fiber.Ctx) error {
	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	checkout, err := h.payments.Initiate(c.UserContext(), c.Params("number"), req.Phone)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": checkout})
}

type paymentCallbackRequest struct {
	Event string `json:"event"`
}

// Callback records what the payment widget reported. It never marks the
// order paid.
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	var req paymentCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.payments.ClientCallback(c.UserContext(), c.Params("number"), req.Event)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": result})
}

// StripeWebhook verifies and applies a Stripe event.
func (h *PaymentHandler) StripeWebhook(c *fiber.Ctx) error {
	if h.stripe == nil || !h.stripe.Configured() {
		return fiber.NewError(fiber.StatusNotFound, "stripe is not enabled")
	}
	if err := h.stripe.HandleWebhook(c.UserContext(), c.Body(), c.Get("Stripe-Signature")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"received": true})
}
