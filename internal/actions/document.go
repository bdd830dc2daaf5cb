package actions

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

const maxDocumentBytes = 5 << 20

// DocumentHandler creates documents and deletes them on rollback.
type DocumentHandler struct {
	store    DocumentStore
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewDocumentHandler constructs the create_document handler.
func NewDocumentHandler(store DocumentStore, validate *validator.Validate, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{
		store:    store,
		validate: validate,
		logger:   logger.With().Str("component", "document_handler").Logger(),
	}
}

func (h *DocumentHandler) Validate(payload DocumentPayload) error {
	if err := validateStruct(h.validate, models.ActionCreateDocument, payload); err != nil {
		return err
	}
	if len(payload.Content) > maxDocumentBytes {
		return invalid(models.ActionCreateDocument, "content", "exceeds 5MB")
	}
	if strings.TrimSpace(payload.Title) == "" {
		return invalid(models.ActionCreateDocument, "title", "is required")
	}
	return nil
}

func (h *DocumentHandler) Execute(ctx context.Context, payload DocumentPayload) (Outcome[DocumentRollback], error) {
	contentType := documentContentType(payload)

	doc, err := h.store.Create(ctx, payload, contentType)
	if err != nil {
		return Outcome[DocumentRollback]{}, executionFailed(models.ActionCreateDocument, "create", err)
	}

	h.logger.Info().Str("document_id", doc.ID).Str("content_type", contentType).Msg("document created")

	return Outcome[DocumentRollback]{
		Result: map[string]interface{}{
			"document_id":  doc.ID,
			"url":          doc.URL,
			"format":       payload.Format,
			"content_type": contentType,
			"bytes":        len(payload.Content),
		},
		Rollback: &DocumentRollback{DocumentID: doc.ID},
	}, nil
}

func (h *DocumentHandler) Rollback(ctx context.Context, data DocumentRollback) error {
	if data.DocumentID == "" {
		return invalid(models.ActionCreateDocument, "document_id", "missing from rollback data")
	}
	if err := h.store.Delete(ctx, data.DocumentID); err != nil {
		return executionFailed(models.ActionCreateDocument, "delete", err)
	}
	h.logger.Info().Str("document_id", data.DocumentID).Msg("document deleted")
	return nil
}

// documentContentType sniffs the content and falls back to the declared format
// when detection only yields a generic text type.
func documentContentType(payload DocumentPayload) string {
	detected := mimetype.Detect([]byte(payload.Content))
	if payload.Format == FormatHTML && detected.Is("text/html") {
		return detected.String()
	}
	switch payload.Format {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return detected.String()
	}
}
