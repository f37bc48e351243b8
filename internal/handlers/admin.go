package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/example/cakeshop/internal/middleware"
	"github.com/example/cakeshop/internal/services"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	orders *services.OrderService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(orders *services.OrderService) *AdminHandler {
	return &AdminHandler{orders: orders}
}

// audit returns a log entry tagged with the admin making the request.
func audit(c *fiber.Ctx) *logrus.Entry {
	entry := logrus.WithFields(logrus.Fields{"component": "admin", "path": c.Path()})
	if id, ok := middleware.CurrentAdminID(c); ok {
		entry = entry.WithField("admin_id", id.String())
	}
	return entry
}

// DashboardStats returns aggregate order statistics.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	stats, err := h.orders.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": stats})
}
