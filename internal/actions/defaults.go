package actions

import (
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Integrations groups the external systems the default handlers act upon.
type Integrations struct {
	Calendar  CalendarClient
	Mailer    Mailer
	Files     FileStore
	Documents DocumentStore
	Payments  PaymentGateway
}

// NewDefaultRegistry registers a handler for every action type in the catalogue.
func NewDefaultRegistry(integrations Integrations, validate *validator.Validate, logger zerolog.Logger) (*Registry, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	registrations := []func() error{
		func() error {
			return Register[CalendarEventPayload, CalendarEventRollback](registry, NewCalendarHandler(integrations.Calendar, validate, logger))
		},
		func() error {
			return Register[EmailPayload, EmailRollback](registry, NewEmailHandler(integrations.Mailer, validate, logger))
		},
		func() error {
			return Register[MoveFilePayload, MoveFileRollback](registry, NewMoveFileHandler(integrations.Files, validate, logger))
		},
		func() error {
			return Register[DocumentPayload, DocumentRollback](registry, NewDocumentHandler(integrations.Documents, validate, logger))
		},
		func() error {
			return Register[PaymentPayload, PaymentRollback](registry, NewPaymentHandler(integrations.Payments, validate, logger))
		},
		func() error {
			return Register[PurchasePayload, PurchaseRollback](registry, NewPurchaseHandler(integrations.Payments, validate, logger))
		},
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
