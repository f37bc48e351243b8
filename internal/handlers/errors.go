package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/example/cakeshop/internal/services"
)

// ErrorHandler maps service errors to HTTP responses of the form
// {"success": false, "error": "..."}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status, message := classify(err)
	if status >= fiber.StatusInternalServerError {
		logrus.WithField("component", "http").WithError(err).
			WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).
			Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return fiber.StatusBadRequest, ve.Error()
	}

	switch {
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrCakeNotFound),
		errors.Is(err, services.ErrOptionNotFound),
		errors.Is(err, services.ErrOfferNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrCakeInOffer),
		errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, services.ErrAlreadyPaid):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrPriceMismatch):
		return fiber.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, services.ErrInvalidSignature):
		return fiber.StatusBadRequest, services.ErrInvalidSignature.Error()
	case errors.Is(err, services.ErrGatewayNotConfigured):
		return fiber.StatusServiceUnavailable, services.ErrGatewayNotConfigured.Error()
	case errors.Is(err, services.ErrGateway):
		return fiber.StatusBadGateway, services.ErrGateway.Error()
	}
	return fiber.StatusInternalServerError, "internal server error"
}
