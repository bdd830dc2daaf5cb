package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/repository"
)

const (
	defaultAuditPageSize = 25
	maxAuditPageSize     = 200
)

// AuditLogService lists the audit trail for administrators.
type AuditLogService interface {
	List(ctx context.Context, req dto.AuditLogListRequest) (dto.AuditLogListResponse, error)
}

type auditLogService struct {
	repo   repository.AuditLogRepository
	logger zerolog.Logger
}

// NewAuditLogService constructs the audit log reader.
func NewAuditLogService(repo repository.AuditLogRepository, logger zerolog.Logger) AuditLogService {
	return &auditLogService{
		repo:   repo,
		logger: logger.With().Str("component", "audit_log_service").Logger(),
	}
}

func (s *auditLogService) List(ctx context.Context, req dto.AuditLogListRequest) (dto.AuditLogListResponse, error) {
	eventType := models.AuditEventType(strings.TrimSpace(req.EventType))
	if eventType != "" && !eventType.Valid() {
		return dto.AuditLogListResponse{}, &actions.ValidationError{Field: "event_type", Message: "unknown event type"}
	}
	source := models.AuditSource(strings.TrimSpace(req.Source))
	if source != "" && !source.Valid() {
		return dto.AuditLogListResponse{}, &actions.ValidationError{Field: "source", Message: "unknown source"}
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditPageSize
	} else if pageSize > maxAuditPageSize {
		pageSize = maxAuditPageSize
	}

	entries, total, err := s.repo.List(ctx, repository.AuditLogFilter{
		Page:      page,
		PageSize:  pageSize,
		UserID:    strings.TrimSpace(req.UserID),
		EventType: eventType,
		Source:    source,
	})
	if err != nil {
		return dto.AuditLogListResponse{}, err
	}

	return dto.AuditLogListResponse{
		Items:      dto.NewAuditLogResponseSlice(entries),
		Pagination: dto.PagePagination{Page: page, PageSize: pageSize, Total: total},
	}, nil
}
