package handler_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/handler"
	"github.com/noah-isme/gema-action-engine/internal/service"
)

func TestEventStreamHandler_RequiresUpgrade(t *testing.T) {
	app := fiber.New()
	handler.NewEventStreamHandler(service.NewEventHub(), zerolog.New(io.Discard)).Register(app.Group("/api/v1/events"))

	resp := doJSON(t, app, http.MethodGet, "/api/v1/events/ws", nil)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}
