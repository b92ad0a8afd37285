package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/tenant"
)

// Action names accepted by the internal actions API.
const (
	ActionCreateContact   = "create-contact"
	ActionScheduleMeeting = "schedule-meeting"
	ActionUpdateExternal  = "update-external-system"
	ActionTransferToHuman = "transfer-to-human"
)

type tenantAuthenticator interface {
	Authenticate(ctx context.Context, id, apiKey string, requireSubscription bool) (tenant.Tenant, error)
}

type actionContactStore interface {
	Get(ctx context.Context, tenantID, id string) (contact.Contact, error)
	Resolve(ctx context.Context, tenantID, countryCode string, raw contact.RawIdentifier, allowCreate bool) (contact.Contact, error)
	UpdateDetails(ctx context.Context, tenantID, id, name, email, notes string) error
}

type actionConversationStore interface {
	GetOrCreate(ctx context.Context, tenantID, contactID string) (conversation.Conversation, error)
	SetState(ctx context.Context, id string, next conversation.State) error
}

type actionDispatcher interface {
	Dispatch(ctx context.Context, tnt tenant.Tenant, c contact.Contact, conv conversation.Conversation, action conversation.Action, args string) error
}

// ActionsHandler is the internal action router: one endpoint, a fixed
// vocabulary of named actions, authenticated with the tenant's static API
// key. Actions with external side effects also require an active
// subscription.
type ActionsHandler struct {
	tenants       tenantAuthenticator
	contacts      actionContactStore
	conversations actionConversationStore
	dispatch      actionDispatcher
	logger        *slog.Logger
}

func NewActionsHandler(log *slog.Logger, tenants tenantAuthenticator, contacts actionContactStore, conversations actionConversationStore, dispatch actionDispatcher) *ActionsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ActionsHandler{
		tenants:       tenants,
		contacts:      contacts,
		conversations: conversations,
		dispatch:      dispatch,
		logger:        log.With(slog.String("handler", "actions")),
	}
}

func (h *ActionsHandler) Register(e *echo.Echo) {
	e.POST("/internal/actions", h.Execute)
}

type actionRequest struct {
	Action   string          `json:"action"`
	TenantID string          `json:"tenant_id"`
	APIKey   string          `json:"api_key"`
	Data     json.RawMessage `json:"data"`
}

func (h *ActionsHandler) Execute(c echo.Context) error {
	var req actionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.Action == "" || req.TenantID == "" || req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action, tenant_id and api_key are required")
	}

	// Creating a contact is allowed for lapsed tenants; everything that
	// reaches out of the system is not.
	requireSubscription := req.Action != ActionCreateContact

	ctx := c.Request().Context()
	tnt, err := h.tenants.Authenticate(ctx, req.TenantID, req.APIKey, requireSubscription)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrNotFound), errors.Is(err, tenant.ErrBadAPIKey):
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid tenant credentials")
		case errors.Is(err, tenant.ErrSubscriptionInactive):
			return echo.NewHTTPError(http.StatusForbidden, "subscription inactive")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "authentication failed")
	}

	data := gjson.ParseBytes(req.Data)
	switch req.Action {
	case ActionCreateContact:
		return h.createContact(c, tnt, data)
	case ActionScheduleMeeting:
		return h.contactAction(c, tnt, data, conversation.ActionScheduleMeeting, conversation.StateScheduled, string(req.Data))
	case ActionUpdateExternal:
		return h.contactAction(c, tnt, data, conversation.ActionUpdateExternalSystem, "", string(req.Data))
	case ActionTransferToHuman:
		return h.contactAction(c, tnt, data, conversation.ActionTransferToHuman, conversation.StateWaitingHuman, string(req.Data))
	}
	return echo.NewHTTPError(http.StatusBadRequest, "unknown action")
}

func (h *ActionsHandler) createContact(c echo.Context, tnt tenant.Tenant, data gjson.Result) error {
	raw := contact.RawIdentifier{
		Phone:       data.Get("phone").String(),
		Email:       data.Get("email").String(),
		DisplayName: data.Get("display_name").String(),
	}
	if raw.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "data needs a phone, email or display_name")
	}
	resolved, err := h.contacts.Resolve(c.Request().Context(), tnt.ID, tnt.CountryCode, raw, true)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "create contact failed")
	}
	if notes := data.Get("notes").String(); notes != "" {
		if err := h.contacts.UpdateDetails(c.Request().Context(), tnt.ID, resolved.ID, "", "", notes); err != nil {
			h.logger.Warn("append notes failed", slog.Any("error", err))
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "contact": resolved})
}

// contactAction runs a dispatcher action for an existing contact and, when
// the action implies one, moves the conversation state.
func (h *ActionsHandler) contactAction(c echo.Context, tnt tenant.Tenant, data gjson.Result, action conversation.Action, state conversation.State, args string) error {
	contactID := data.Get("contact_id").String()
	if contactID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "data.contact_id is required")
	}
	ctx := c.Request().Context()

	resolved, err := h.contacts.Get(ctx, tnt.ID, contactID)
	if err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "contact not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "load contact failed")
	}
	conv, err := h.conversations.GetOrCreate(ctx, tnt.ID, resolved.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load conversation failed")
	}

	if err := h.dispatch.Dispatch(ctx, tnt, resolved, conv, action, args); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "dispatch failed")
	}
	if state != "" {
		if err := h.conversations.SetState(ctx, conv.ID, state); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "set state failed")
		}
	}

	h.logger.Info("internal action executed",
		slog.String("tenant_id", tnt.ID),
		slog.String("action", string(action)),
		slog.String("contact_id", resolved.ID),
	)
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
