package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/llm"
	"github.com/leadlineai/leadline/internal/message"
)

type fakeProvider struct {
	resp *llm.ChatResponse
	err  error
	got  llm.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.got = req
	return f.resp, f.err
}

func allCapabilities() CapabilityProfile {
	return CapabilityProfile{
		MayScheduleMeetings: true,
		MayTransferToHuman:  true,
		MayUpdateExternal:   true,
		MayCreateRecords:    true,
	}
}

func testConv(state conversation.State) conversation.Conversation {
	return conversation.Conversation{ID: "conv-1", State: state, TurnCount: 2}
}

func TestDecideTextReply(t *testing.T) {
	p := &fakeProvider{resp: &llm.ChatResponse{Content: "Sure, what's your timeline?"}}
	e := New(nil, p)

	d := e.Decide(context.Background(), allCapabilities(), contact.Contact{}, testConv(conversation.StateQualifying),
		conversation.Summary{}, nil, "we need a crm")
	if d.Reply != "Sure, what's your timeline?" {
		t.Errorf("reply = %q", d.Reply)
	}
	if d.Action != conversation.ActionNone {
		t.Errorf("action = %q", d.Action)
	}
	if d.NextState != conversation.StateQualifying {
		t.Errorf("state = %s", d.NextState)
	}
	if d.Fallback {
		t.Error("unexpected fallback")
	}
}

func TestDecideToolCallDerivesState(t *testing.T) {
	p := &fakeProvider{resp: &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{Name: "schedule_meeting", Arguments: `{"when":"tomorrow 10am"}`}},
	}}
	e := New(nil, p)

	d := e.Decide(context.Background(), allCapabilities(), contact.Contact{}, testConv(conversation.StateQualified),
		conversation.Summary{}, nil, "tomorrow 10 works")
	if d.Action != conversation.ActionScheduleMeeting {
		t.Fatalf("action = %q", d.Action)
	}
	if d.NextState != conversation.StateScheduled {
		t.Errorf("state = %s", d.NextState)
	}
	if d.Reply == "" {
		t.Error("expected an acknowledgement reply for a bare tool call")
	}
	if d.ActionArgs != `{"when":"tomorrow 10am"}` {
		t.Errorf("args = %q", d.ActionArgs)
	}
}

func TestDecideProviderFailureFallsBack(t *testing.T) {
	p := &fakeProvider{err: errors.New("timeout")}
	e := New(nil, p)

	d := e.Decide(context.Background(), allCapabilities(), contact.Contact{}, testConv(conversation.StateNew),
		conversation.Summary{}, nil, "hello")
	if !d.Fallback {
		t.Fatal("expected fallback decision")
	}
	if d.Reply != FallbackReply {
		t.Errorf("reply = %q", d.Reply)
	}
	// The turn still moves the conversation off NEW.
	if d.NextState != conversation.StateQualifying {
		t.Errorf("state = %s", d.NextState)
	}
}

func TestDecideUnknownToolFallsBack(t *testing.T) {
	p := &fakeProvider{resp: &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{Name: "launch_rocket", Arguments: `{}`}},
	}}
	e := New(nil, p)

	d := e.Decide(context.Background(), allCapabilities(), contact.Contact{}, testConv(conversation.StateQualifying),
		conversation.Summary{}, nil, "hello")
	if !d.Fallback {
		t.Fatal("expected fallback for unknown tool")
	}
}

func TestDecideForbiddenToolFallsBack(t *testing.T) {
	p := &fakeProvider{resp: &llm.ChatResponse{
		ToolCalls: []llm.ToolCall{{Name: "transfer_to_human", Arguments: `{}`}},
	}}
	e := New(nil, p)

	profile := CapabilityProfile{MayScheduleMeetings: true}
	d := e.Decide(context.Background(), profile, contact.Contact{}, testConv(conversation.StateQualifying),
		conversation.Summary{}, nil, "get me a person")
	if !d.Fallback {
		t.Fatal("expected fallback for unpermitted tool")
	}
	if d.NextState == conversation.StateWaitingHuman {
		t.Error("unpermitted transfer must not change state")
	}
}

func TestDecideOffersOnlyPermittedTools(t *testing.T) {
	p := &fakeProvider{resp: &llm.ChatResponse{Content: "ok"}}
	e := New(nil, p)

	profile := CapabilityProfile{MayTransferToHuman: true}
	e.Decide(context.Background(), profile, contact.Contact{}, testConv(conversation.StateQualifying),
		conversation.Summary{}, nil, "hello")
	if len(p.got.Tools) != 1 || p.got.Tools[0].Name != "transfer_to_human" {
		t.Fatalf("tools offered = %+v", p.got.Tools)
	}
}

func TestBatchText(t *testing.T) {
	got := BatchText([]message.Message{
		{Body: "Hi"},
		{Body: "  "},
		{Body: "are you there?"},
	})
	if got != "Hi\n\nare you there?" {
		t.Errorf("BatchText = %q", got)
	}
}
