package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func newCorrelationApp(seen *string) *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		*seen = CorrelationIDFromContext(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestCorrelationIDReusesIncomingHeader(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "req-123")

	resp, err := newCorrelationApp(&seen).Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-123", resp.Header.Get(HeaderCorrelationID))
	require.Equal(t, "req-123", seen)
}

func TestCorrelationIDReplacesUnsafeHeader(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "bad id with spaces")

	resp, err := newCorrelationApp(&seen).Test(req)
	require.NoError(t, err)
	require.NotEqual(t, "bad id with spaces", seen)
	require.Len(t, seen, 36)
	require.Equal(t, seen, resp.Header.Get(HeaderCorrelationID))

	require.Empty(t, sanitizeCorrelationID(strings.Repeat("a", maxCorrelationIDLength+1)))
}
