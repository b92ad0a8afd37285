package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/message"
	"github.com/leadlineai/leadline/internal/tenant"
)

type tenantStore interface {
	Get(ctx context.Context, id string) (tenant.Tenant, error)
}

type contactStore interface {
	Get(ctx context.Context, tenantID, id string) (contact.Contact, error)
}

type conversationStore interface {
	GetOrCreate(ctx context.Context, tenantID, contactID string) (conversation.Conversation, error)
	Advance(ctx context.Context, id string, next conversation.State, contextPatch map[string]any) error
	Summarize(ctx context.Context, conversationID string, window []message.Message, force bool) (conversation.Summary, error)
}

type transcriptStore interface {
	Transcript(ctx context.Context, tenantID, contactID string, limit int) ([]message.Message, error)
	RecordOutbound(ctx context.Context, tenantID, contactID, body string) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, tnt tenant.Tenant, c contact.Contact, conv conversation.Conversation, action conversation.Action, args string) error
}

type replier interface {
	SendReply(ctx context.Context, tnt tenant.Tenant, c contact.Contact, text string) error
}

// Pipeline runs one full decision turn for a consolidated batch.
type Pipeline struct {
	engine        *Engine
	tenants       tenantStore
	contacts      contactStore
	conversations conversationStore
	messages      transcriptStore
	dispatch      dispatcher
	replies       replier
	logger        *slog.Logger
}

// NewPipeline wires the decision turn.
func NewPipeline(log *slog.Logger, e *Engine, tenants tenantStore, contacts contactStore, conversations conversationStore, messages transcriptStore, dispatch dispatcher, replies replier) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		engine:        e,
		tenants:       tenants,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		dispatch:      dispatch,
		replies:       replies,
		logger:        log.With(slog.String("service", "pipeline")),
	}
}

// HandleBatch runs the decision turn over a consolidated batch. The caller
// marks the batch consolidated regardless of the outcome here.
func (p *Pipeline) HandleBatch(ctx context.Context, tenantID, contactID string, batch []message.Message) error {
	if len(batch) == 0 {
		return nil
	}
	tnt, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	c, err := p.contacts.Get(ctx, tenantID, contactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if c.AutomationDisabled {
		return nil
	}

	conv, err := p.conversations.GetOrCreate(ctx, tenantID, contactID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.State.Terminal() {
		p.logger.Debug("conversation terminal, skipping decision",
			slog.String("conversation_id", conv.ID),
			slog.String("state", string(conv.State)),
		)
		return nil
	}

	profile, err := ProfileFromCapabilities(tnt.Capabilities)
	if err != nil {
		return fmt.Errorf("capability profile: %w", err)
	}

	history, err := p.messages.Transcript(ctx, tenantID, contactID, historyWindow)
	if err != nil {
		p.logger.Warn("load transcript failed", slog.Any("error", err))
	}
	summary, err := p.conversations.Summarize(ctx, conv.ID, history, false)
	if err != nil {
		p.logger.Warn("summarize failed", slog.Any("error", err))
	}

	batchedText := BatchText(batch)
	decision := p.engine.Decide(ctx, profile, c, conv, summary, history, batchedText)

	patch := map[string]any{"last_action": string(decision.Action)}
	if decision.Fallback {
		patch["last_turn_fallback"] = true
	}
	if err := p.conversations.Advance(ctx, conv.ID, decision.NextState, patch); err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}

	// No rollback spans the steps below. A reply that fails to send is
	// recovered by the next inbound message, not by undoing the turn.
	if err := p.messages.RecordOutbound(ctx, tenantID, contactID, decision.Reply); err != nil {
		p.logger.Error("record reply failed", slog.Any("error", err))
	}
	if err := p.replies.SendReply(ctx, tnt, c, decision.Reply); err != nil {
		p.logger.Error("send reply failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err),
		)
	}

	if decision.Action != conversation.ActionNone {
		if err := p.dispatch.Dispatch(ctx, tnt, c, conv, decision.Action, decision.ActionArgs); err != nil {
			p.logger.Error("dispatch action failed",
				slog.String("action", string(decision.Action)),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// BatchText concatenates the batch bodies in arrival order.
func BatchText(batch []message.Message) string {
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		parts = append(parts, m.Body)
	}
	return strings.Join(parts, "\n\n")
}
