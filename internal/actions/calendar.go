package actions

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

const maxCalendarEventDuration = 14 * 24 * time.Hour

// CalendarHandler creates calendar events and deletes them on rollback.
type CalendarHandler struct {
	client   CalendarClient
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewCalendarHandler constructs the create_calendar_event handler.
func NewCalendarHandler(client CalendarClient, validate *validator.Validate, logger zerolog.Logger) *CalendarHandler {
	return &CalendarHandler{
		client:   client,
		validate: validate,
		logger:   logger.With().Str("component", "calendar_handler").Logger(),
	}
}

func (h *CalendarHandler) Validate(payload CalendarEventPayload) error {
	if strings.TrimSpace(payload.Title) == "" {
		return invalid(models.ActionCreateCalendarEvent, "title", "is required")
	}
	if err := validateStruct(h.validate, models.ActionCreateCalendarEvent, payload); err != nil {
		return err
	}
	if payload.End.Sub(payload.Start) > maxCalendarEventDuration {
		return invalid(models.ActionCreateCalendarEvent, "end", "event cannot last longer than 14 days")
	}
	return nil
}

func (h *CalendarHandler) Execute(ctx context.Context, payload CalendarEventPayload) (Outcome[CalendarEventRollback], error) {
	eventID, err := h.client.CreateEvent(ctx, payload)
	if err != nil {
		return Outcome[CalendarEventRollback]{}, executionFailed(models.ActionCreateCalendarEvent, "create event", err)
	}

	h.logger.Info().Str("event_id", eventID).Int("attendees", len(payload.Attendees)).Msg("calendar event created")

	return Outcome[CalendarEventRollback]{
		Result: map[string]interface{}{
			"event_id": eventID,
			"title":    payload.Title,
			"start":    payload.Start.UTC(),
			"end":      payload.End.UTC(),
		},
		Rollback: &CalendarEventRollback{EventID: eventID},
	}, nil
}

func (h *CalendarHandler) Rollback(ctx context.Context, data CalendarEventRollback) error {
	if data.EventID == "" {
		return invalid(models.ActionCreateCalendarEvent, "event_id", "missing from rollback data")
	}
	if err := h.client.DeleteEvent(ctx, data.EventID); err != nil {
		return executionFailed(models.ActionCreateCalendarEvent, "delete event", err)
	}
	h.logger.Info().Str("event_id", data.EventID).Msg("calendar event deleted")
	return nil
}
