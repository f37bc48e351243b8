package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/cakeshop/internal/services"
)

// Payme authenticates merchant API calls with Basic "Paycom:<key>".
const paymeLogin = "Paycom"

type paymeRequestID struct {
	ID any `json:"id"`
}

// PaymeAuth validates the Payme Authorization header. Failures are answered
// in JSON-RPC form with HTTP 200, as the Payme merchant API expects.
func PaymeAuth(merchantKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var reqID paymeRequestID
		_ = json.Unmarshal(c.Body(), &reqID)

		if merchantKey == "" {
			return writePaymeAuthError(c, reqID.ID)
		}

		parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Basic") {
			return writePaymeAuthError(c, reqID.ID)
		}

		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil {
			return writePaymeAuthError(c, reqID.ID)
		}

		expected := paymeLogin + ":" + merchantKey
		if subtle.ConstantTimeCompare(decoded, []byte(expected)) != 1 {
			return writePaymeAuthError(c, reqID.ID)
		}

		return c.Next()
	}
}

func writePaymeAuthError(c *fiber.Ctx, id any) error {
	return c.JSON(fiber.Map{
		"error": fiber.Map{
			"code":    services.PaymeErrorInvalidAuthorization.Code,
			"message": services.PaymeErrorInvalidAuthorization.Message,
			"data":    nil,
		},
		"id": id,
	})
}
