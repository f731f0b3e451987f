package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func keyedApp(key string) *fiber.App {
	app := fiber.New()
	app.Post("/guarded", APIKey(key), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestAPIKeyRejectsMissingHeader(t *testing.T) {
	app := keyedApp("secret")
	req := httptest.NewRequest("POST", "/guarded", nil)

	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIKeyRejectsWrongKey(t *testing.T) {
	app := keyedApp("secret")
	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set("X-API-Key", "not-the-secret")

	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIKeyAcceptsMatchingKey(t *testing.T) {
	app := keyedApp("secret")
	req := httptest.NewRequest("POST", "/guarded", nil)
	req.Header.Set("X-API-Key", "secret")

	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestAPIKeyDisabledWhenUnconfigured(t *testing.T) {
	app := keyedApp("")
	req := httptest.NewRequest("POST", "/guarded", nil)

	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
