package middleware

import (
	"crypto/subtle"
	"log"

	"github.com/gofiber/fiber/v2"
)

// APIKey guards the mutating endpoints with the shared key from the
// configuration. An empty configured key disables the check, which is the
// expected setup when the service only listens inside a private network.
func APIKey(configuredKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if configuredKey == "" {
			return c.Next()
		}

		provided := c.Get("X-API-Key")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing API key. Include X-API-Key header.",
			})
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(configuredKey)) != 1 {
			log.Printf("❌ [APIKEY-AUTH] Rejected request to %s: key mismatch", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
