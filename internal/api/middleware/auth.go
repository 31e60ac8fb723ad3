package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

const apiKeyHeader = "X-API-Key"

// Auth checks a static API key sent as "Authorization: Bearer <key>" or
// X-API-Key. An empty key disables the check.
func Auth(apiKey string) fiber.Handler {
	if apiKey == "" {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	want := hashAPIKey(apiKey)

	return func(c *fiber.Ctx) error {
		key := extractBearerToken(c)
		if key == "" {
			key = strings.TrimSpace(c.Get(apiKeyHeader))
		}
		if key == "" {
			return domain.ErrUnauthorized
		}

		got := hashAPIKey(key)
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return domain.ErrUnauthorized
		}

		return c.Next()
	}
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// hashAPIKey gives both sides the same length before comparing
func hashAPIKey(apiKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(apiKey))
}
