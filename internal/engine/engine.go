// Package engine decides how a consolidated batch of inbound messages moves
// a conversation forward.
package engine

import (
	"context"
	"log/slog"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/llm"
	"github.com/leadlineai/leadline/internal/message"
)

// FallbackReply is persisted when the provider fails or returns something
// unusable. The turn still advances.
const FallbackReply = "Thanks for reaching out! Let me get back to you on that shortly."

// provider is the reasoning backend the engine consults.
type provider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Decision is the outcome of one turn.
type Decision struct {
	NextState  conversation.State
	Action     conversation.Action
	ActionArgs string
	Reply      string
	Fallback   bool
}

// Engine runs the per-turn decision: capability profile, summary, prompt,
// provider call, parse.
type Engine struct {
	provider provider
	logger   *slog.Logger
}

// New creates a decision engine.
func New(log *slog.Logger, p provider) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		provider: p,
		logger:   log.With(slog.String("service", "engine")),
	}
}

// Decide produces the next state, an optional action, and a reply for the
// batched input. It never returns an error for provider failures: those
// degrade to a fallback reply so the conversation is not left stuck.
func (e *Engine) Decide(ctx context.Context, profile CapabilityProfile, c contact.Contact, conv conversation.Conversation, summary conversation.Summary, history []message.Message, batchedText string) Decision {
	req := llm.ChatRequest{
		Messages: buildPrompt(profile, c, conv, summary, history, batchedText),
		Tools:    profile.Tools(),
	}

	resp, err := e.provider.Chat(ctx, req)
	if err != nil {
		e.logger.Error("reasoning provider failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err),
		)
		return fallbackDecision(conv.State)
	}

	return e.parse(conv, profile, resp)
}

func (e *Engine) parse(conv conversation.Conversation, profile CapabilityProfile, resp *llm.ChatResponse) Decision {
	d := Decision{
		Action: conversation.ActionNone,
		Reply:  resp.Content,
	}

	if len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		action, ok := conversation.ParseAction(call.Name)
		if !ok || !profile.Permits(action) {
			e.logger.Warn("unusable tool call",
				slog.String("conversation_id", conv.ID),
				slog.String("tool", call.Name),
			)
			return fallbackDecision(conv.State)
		}
		d.Action = action
		d.ActionArgs = call.Arguments
	}

	if d.Reply == "" {
		d.Reply = actionAcknowledgement(d.Action)
	}
	if d.Reply == "" {
		return fallbackDecision(conv.State)
	}

	d.NextState = conversation.Next(conv.State, d.Action)
	return d
}

func fallbackDecision(current conversation.State) Decision {
	return Decision{
		NextState: conversation.Next(current, conversation.ActionNone),
		Action:    conversation.ActionNone,
		Reply:     FallbackReply,
		Fallback:  true,
	}
}

// actionAcknowledgement covers tool calls that arrive without reply text.
func actionAcknowledgement(action conversation.Action) string {
	switch action {
	case conversation.ActionScheduleMeeting:
		return "Great, I've got that scheduled. You'll receive a confirmation shortly."
	case conversation.ActionTransferToHuman:
		return "Let me connect you with a teammate who can help with that."
	case conversation.ActionCreateContactRecord, conversation.ActionUpdateExternalSystem:
		return "Noted, I've updated our records."
	}
	return ""
}
