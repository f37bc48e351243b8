package services

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrCakeNotFound         = errors.New("cake not found")
	ErrOptionNotFound       = errors.New("option not found")
	ErrOfferNotFound        = errors.New("special offer not found")
	ErrInvalidTransition    = errors.New("order status transition not allowed")
	ErrPriceMismatch        = errors.New("submitted price does not match catalog price")
	ErrAlreadyPaid          = errors.New("order is already paid")
	ErrCakeInOffer          = errors.New("cake is referenced by the special offer")
	ErrAlreadyExists        = errors.New("record with this id already exists")
	ErrGatewayNotConfigured = errors.New("payment gateway is not configured")
	ErrGateway              = errors.New("payment gateway error")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
)

// ValidationError reports malformed input detected before any persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
