package actions

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

const maxEmailRecipients = 100

// EmailHandler sends email. Sent mail cannot be recalled, so rollback only records the attempt.
type EmailHandler struct {
	mailer   Mailer
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEmailHandler constructs the send_email handler.
func NewEmailHandler(mailer Mailer, validate *validator.Validate, logger zerolog.Logger) *EmailHandler {
	return &EmailHandler{
		mailer:   mailer,
		validate: validate,
		logger:   logger.With().Str("component", "email_handler").Logger(),
		now:      time.Now,
	}
}

func (h *EmailHandler) Validate(payload EmailPayload) error {
	if err := validateStruct(h.validate, models.ActionSendEmail, payload); err != nil {
		return err
	}
	if strings.TrimSpace(payload.Subject) == "" {
		return invalid(models.ActionSendEmail, "subject", "is required")
	}
	if len(payload.Recipients()) > maxEmailRecipients {
		return invalid(models.ActionSendEmail, "to", "too many recipients")
	}
	return nil
}

func (h *EmailHandler) Execute(ctx context.Context, payload EmailPayload) (Outcome[EmailRollback], error) {
	messageID, err := h.mailer.Send(ctx, payload)
	if err != nil {
		return Outcome[EmailRollback]{}, executionFailed(models.ActionSendEmail, "send", err)
	}

	sentAt := h.now().UTC()
	recipients := payload.Recipients()

	return Outcome[EmailRollback]{
		Result: map[string]interface{}{
			"message_id": messageID,
			"recipients": len(recipients),
			"sent_at":    sentAt,
		},
		Rollback: &EmailRollback{
			MessageID:  messageID,
			Recipients: recipients,
			Subject:    payload.Subject,
			SentAt:     sentAt,
		},
	}, nil
}

// Rollback cannot unsend a message; it records the request and reports success.
func (h *EmailHandler) Rollback(_ context.Context, data EmailRollback) error {
	h.logger.Warn().
		Str("message_id", data.MessageID).
		Int("recipients", len(data.Recipients)).
		Time("sent_at", data.SentAt).
		Msg("email rollback requested; message already delivered and cannot be recalled")
	return nil
}
