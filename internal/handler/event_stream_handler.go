package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/observability"
	"github.com/noah-isme/gema-action-engine/internal/service"
)

const eventStreamPingInterval = 30 * time.Second

// EventStreamHandler streams the caller's action lifecycle events over a websocket.
type EventStreamHandler struct {
	hub    *service.EventHub
	logger zerolog.Logger
}

// NewEventStreamHandler constructs the handler.
func NewEventStreamHandler(hub *service.EventHub, logger zerolog.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		hub:    hub,
		logger: logger.With().Str("component", "event_stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade route.
func (h *EventStreamHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.stream))
}

func (h *EventStreamHandler) stream(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	events, cancel := h.hub.Subscribe(userID)
	defer cancel()

	observability.EventStreamClients().Inc()
	defer observability.EventStreamClients().Dec()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventStreamPingInterval)
	defer ticker.Stop()

	h.logger.Info().Str("user_id", userID).Msg("event stream connected")
	defer h.logger.Info().Str("user_id", userID).Msg("event stream disconnected")

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Msg("failed to write lifecycle event")
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
