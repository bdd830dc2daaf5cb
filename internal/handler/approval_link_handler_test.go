package handler_test

import (
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-action-engine/internal/dto"
	"github.com/noah-isme/gema-action-engine/internal/handler"
	"github.com/noah-isme/gema-action-engine/internal/models"
	"github.com/noah-isme/gema-action-engine/internal/service"
)

func newApprovalLinkApp(svc service.ActionService) *fiber.App {
	app := fiber.New()
	handler.NewApprovalLinkHandler(svc, zerolog.New(io.Discard)).Register(app.Group("/api/v1/approvals"))
	return app
}

func TestApprovalLinkHandler_ApproveUsesEmailLinkSource(t *testing.T) {
	svc := newMockActionService()
	svc.actions["a-1"] = dto.ActionResponse{ID: "a-1", UserID: "user-1", Status: models.StatusPending}

	resp := doJSON(t, newApprovalLinkApp(svc), http.MethodGet, "/api/v1/approvals/tok123/approve", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload envelope[dto.ActionResponse]
	decodeResponse(t, resp, &payload)
	require.Equal(t, models.StatusApproved, payload.Data.Status)
	require.Equal(t, "tok123", svc.lastToken)
	require.Equal(t, models.SourceEmailLink, svc.lastMeta.Source)
	require.Empty(t, svc.lastMeta.Actor)
}

func TestApprovalLinkHandler_RejectPassesReason(t *testing.T) {
	svc := newMockActionService()
	svc.actions["a-1"] = dto.ActionResponse{ID: "a-1", UserID: "user-1", Status: models.StatusPending}

	resp := doJSON(t, newApprovalLinkApp(svc), http.MethodGet, "/api/v1/approvals/tok123/reject?reason=looks+wrong", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "looks wrong", svc.lastReason)
}

func TestApprovalLinkHandler_ExpiredAndReusedTokens(t *testing.T) {
	svc := newMockActionService()
	svc.decisionErr = service.ErrApprovalExpired
	resp := doJSON(t, newApprovalLinkApp(svc), http.MethodGet, "/api/v1/approvals/tok/approve", nil)
	require.Equal(t, fiber.StatusGone, resp.StatusCode)

	svc.decisionErr = &service.InvalidStateTransitionError{ActionID: "a-1", From: models.StatusApproved, To: models.StatusApproved}
	resp = doJSON(t, newApprovalLinkApp(svc), http.MethodGet, "/api/v1/approvals/tok/approve", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	svc.decisionErr = service.ErrActionNotFound
	resp = doJSON(t, newApprovalLinkApp(svc), http.MethodGet, "/api/v1/approvals/unknown/reject", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
