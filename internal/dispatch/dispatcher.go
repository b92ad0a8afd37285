// Package dispatch turns decided actions into local mutations and queued
// outbound notifications.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/tenant"
)

// Event names pushed to tenant webhook endpoints.
const (
	EventMeetingRequested = "meeting.requested"
	EventContactUpdated   = "contact.updated"
	EventExternalUpdate   = "external_system.update"
	EventTransferred      = "conversation.transferred"
)

type endpointLister interface {
	ListEndpoints(ctx context.Context, tenantID string) ([]tenant.Endpoint, error)
}

type contactMutator interface {
	SetPipelineStage(ctx context.Context, tenantID, id, stage string) error
	UpdateDetails(ctx context.Context, tenantID, id, name, email, notes string) error
}

type deliveryEnqueuer interface {
	Enqueue(ctx context.Context, tenantID, endpointID, event string, data any) (string, error)
}

// Dispatcher applies same-process mutations synchronously and hands
// third-party calls to the delivery queue. Nothing here performs HTTP.
type Dispatcher struct {
	tenants    endpointLister
	contacts   contactMutator
	deliveries deliveryEnqueuer
	logger     *slog.Logger
}

// New creates a dispatcher.
func New(log *slog.Logger, tenants endpointLister, contacts contactMutator, deliveries deliveryEnqueuer) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		tenants:    tenants,
		contacts:   contacts,
		deliveries: deliveries,
		logger:     log.With(slog.String("service", "dispatch")),
	}
}

// Dispatch executes one decided action. Local mutations complete before the
// turn closes; outbound calls are queued, never made inline.
func (d *Dispatcher) Dispatch(ctx context.Context, tnt tenant.Tenant, c contact.Contact, conv conversation.Conversation, action conversation.Action, args string) error {
	parsed := gjson.Parse(args)

	switch action {
	case conversation.ActionNone:
		return nil

	case conversation.ActionScheduleMeeting:
		return d.fanOut(ctx, tnt, EventMeetingRequested, map[string]any{
			"contact_id":   c.ID,
			"contact_name": c.DisplayName,
			"phone":        c.PhoneNormalized,
			"email":        c.EmailNormalized,
			"when":         parsed.Get("when").String(),
			"notes":        parsed.Get("notes").String(),
		})

	case conversation.ActionCreateContactRecord:
		if err := d.contacts.UpdateDetails(ctx, tnt.ID, c.ID,
			parsed.Get("display_name").String(),
			parsed.Get("email").String(),
			parsed.Get("notes").String()); err != nil {
			return fmt.Errorf("update contact record: %w", err)
		}
		return d.fanOut(ctx, tnt, EventContactUpdated, map[string]any{
			"contact_id": c.ID,
		})

	case conversation.ActionUpdateExternalSystem:
		if stage := parsed.Get("stage").String(); stage != "" {
			if err := d.contacts.SetPipelineStage(ctx, tnt.ID, c.ID, stage); err != nil {
				return fmt.Errorf("set pipeline stage: %w", err)
			}
		}
		return d.fanOut(ctx, tnt, EventExternalUpdate, map[string]any{
			"contact_id": c.ID,
			"stage":      parsed.Get("stage").String(),
			"notes":      parsed.Get("notes").String(),
		})

	case conversation.ActionTransferToHuman:
		return d.fanOut(ctx, tnt, EventTransferred, map[string]any{
			"contact_id":      c.ID,
			"contact_name":    c.DisplayName,
			"conversation_id": conv.ID,
			"reason":          parsed.Get("reason").String(),
		})
	}
	return fmt.Errorf("unknown action %q", action)
}

// fanOut enqueues one delivery per subscribed endpoint. A tenant without a
// matching endpoint simply produces no notification.
func (d *Dispatcher) fanOut(ctx context.Context, tnt tenant.Tenant, event string, data map[string]any) error {
	endpoints, err := d.tenants.ListEndpoints(ctx, tnt.ID)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}
	for _, ep := range endpoints {
		if !ep.Accepts(event) {
			continue
		}
		if _, err := d.deliveries.Enqueue(ctx, tnt.ID, ep.ID, event, data); err != nil {
			d.logger.Error("enqueue failed",
				slog.String("endpoint_id", ep.ID),
				slog.String("event", event),
				slog.Any("error", err),
			)
		}
	}
	return nil
}
