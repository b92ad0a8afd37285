package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/leadlineai/leadline/internal/auth"
	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/delivery"
	"github.com/leadlineai/leadline/internal/message"
)

type inspectContactStore interface {
	Get(ctx context.Context, tenantID, id string) (contact.Contact, error)
	SetAutomationDisabled(ctx context.Context, tenantID, id string, disabled bool) error
}

type inspectConversationStore interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	SetState(ctx context.Context, id string, next conversation.State) error
}

type transcriptReader interface {
	Transcript(ctx context.Context, tenantID, contactID string, limit int) ([]message.Message, error)
}

type deliveryLister interface {
	ListPending(ctx context.Context, tenantID string) ([]delivery.Delivery, error)
}

// InspectHandler exposes operator endpoints for looking into contacts,
// transcripts, the delivery queue, and for manual state overrides.
type InspectHandler struct {
	contacts      inspectContactStore
	conversations inspectConversationStore
	messages      transcriptReader
	deliveries    deliveryLister
	logger        *slog.Logger
}

func NewInspectHandler(log *slog.Logger, contacts inspectContactStore, conversations inspectConversationStore, messages transcriptReader, deliveries deliveryLister) *InspectHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InspectHandler{
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		deliveries:    deliveries,
		logger:        log.With(slog.String("handler", "inspect")),
	}
}

func (h *InspectHandler) Register(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/tenants/:tenant_id/contacts/:contact_id", h.GetContact)
	g.GET("/tenants/:tenant_id/contacts/:contact_id/transcript", h.GetTranscript)
	g.GET("/tenants/:tenant_id/deliveries", h.ListDeliveries)
	g.POST("/tenants/:tenant_id/contacts/:contact_id/automation", h.SetAutomation)
	g.POST("/conversations/:conversation_id/state", h.SetConversationState)
}

func (h *InspectHandler) GetContact(c echo.Context) error {
	resolved, err := h.contacts.Get(c.Request().Context(), c.Param("tenant_id"), c.Param("contact_id"))
	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "contact not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "load contact failed")
	}
	return c.JSON(http.StatusOK, resolved)
}

func (h *InspectHandler) GetTranscript(c echo.Context) error {
	transcript, err := h.messages.Transcript(c.Request().Context(), c.Param("tenant_id"), c.Param("contact_id"), 100)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load transcript failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": transcript})
}

func (h *InspectHandler) ListDeliveries(c echo.Context) error {
	pending, err := h.deliveries.ListPending(c.Request().Context(), c.Param("tenant_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list deliveries failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"deliveries": pending})
}

type automationRequest struct {
	Disabled bool `json:"disabled"`
}

func (h *InspectHandler) SetAutomation(c echo.Context) error {
	var req automationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := h.contacts.SetAutomationDisabled(c.Request().Context(), c.Param("tenant_id"), c.Param("contact_id"), req.Disabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "update automation flag failed")
	}
	operatorID, _ := auth.OperatorIDFromContext(c)
	h.logger.Info("automation flag changed",
		slog.String("contact_id", c.Param("contact_id")),
		slog.Bool("disabled", req.Disabled),
		slog.String("operator_id", operatorID),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type stateRequest struct {
	State string `json:"state"`
}

// SetConversationState is the explicit reactivation path out of terminal
// states, and the manual override into them.
func (h *InspectHandler) SetConversationState(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	next := conversation.State(req.State)
	if !next.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown state")
	}
	id := c.Param("conversation_id")
	if _, err := h.conversations.Get(c.Request().Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "load conversation failed")
	}
	if err := h.conversations.SetState(c.Request().Context(), id, next); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "set state failed")
	}
	operatorID, _ := auth.OperatorIDFromContext(c)
	h.logger.Info("conversation state overridden",
		slog.String("conversation_id", id),
		slog.String("state", req.State),
		slog.String("operator_id", operatorID),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
