package actions

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// MoveFileHandler moves files and moves them back on rollback.
type MoveFileHandler struct {
	store    FileStore
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

// NewMoveFileHandler constructs the move_file handler.
func NewMoveFileHandler(store FileStore, validate *validator.Validate, logger zerolog.Logger) *MoveFileHandler {
	return &MoveFileHandler{
		store:    store,
		validate: validate,
		logger:   logger.With().Str("component", "move_file_handler").Logger(),
		now:      time.Now,
	}
}

func (h *MoveFileHandler) Validate(payload MoveFilePayload) error {
	if err := validateStruct(h.validate, models.ActionMoveFile, payload); err != nil {
		return err
	}
	if hasTraversal(payload.Source) {
		return invalid(models.ActionMoveFile, "source", "must not contain parent directory references")
	}
	if hasTraversal(payload.Destination) {
		return invalid(models.ActionMoveFile, "destination", "must not contain parent directory references")
	}
	if path.Clean(payload.Source) == path.Clean(payload.Destination) {
		return invalid(models.ActionMoveFile, "destination", "must differ from source")
	}
	return nil
}

func (h *MoveFileHandler) Execute(ctx context.Context, payload MoveFilePayload) (Outcome[MoveFileRollback], error) {
	rollback := MoveFileRollback{Source: payload.Source, Destination: payload.Destination}

	if payload.CreateBackup {
		rollback.BackupPath = backupPath(payload.Source, h.now())
		if err := h.store.Copy(ctx, payload.Source, rollback.BackupPath); err != nil {
			return Outcome[MoveFileRollback]{}, executionFailed(models.ActionMoveFile, "backup", err)
		}
	}

	if err := h.store.Move(ctx, payload.Source, payload.Destination); err != nil {
		return Outcome[MoveFileRollback]{}, executionFailed(models.ActionMoveFile, "move", err)
	}

	h.logger.Info().Str("source", payload.Source).Str("destination", payload.Destination).Msg("file moved")

	result := map[string]interface{}{
		"source":      payload.Source,
		"destination": payload.Destination,
	}
	if rollback.BackupPath != "" {
		result["backup_path"] = rollback.BackupPath
	}
	return Outcome[MoveFileRollback]{Result: result, Rollback: &rollback}, nil
}

func (h *MoveFileHandler) Rollback(ctx context.Context, data MoveFileRollback) error {
	if data.Source == "" || data.Destination == "" {
		return invalid(models.ActionMoveFile, "", "rollback data is incomplete")
	}
	if err := h.store.Move(ctx, data.Destination, data.Source); err != nil {
		return executionFailed(models.ActionMoveFile, "move back", err)
	}
	h.logger.Info().Str("source", data.Destination).Str("destination", data.Source).Msg("file moved back")
	return nil
}

func hasTraversal(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

func backupPath(source string, at time.Time) string {
	return source + ".backup-" + at.UTC().Format("20060102T150405Z")
}
