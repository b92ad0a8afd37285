package engine

import (
	"testing"

	"github.com/leadlineai/leadline/internal/conversation"
)

func TestProfileFromCapabilities(t *testing.T) {
	p, err := ProfileFromCapabilities(map[string]any{
		"may_schedule_meetings": true,
		"tone":                  "friendly",
		"company_name":          "Acme",
		"unknown_key":           42,
	})
	if err != nil {
		t.Fatalf("ProfileFromCapabilities: %v", err)
	}
	if !p.MayScheduleMeetings || p.Tone != "friendly" || p.CompanyName != "Acme" {
		t.Errorf("profile = %+v", p)
	}
}

func TestProfileFromCapabilitiesEmptyDefaultsToReplyOnly(t *testing.T) {
	p, err := ProfileFromCapabilities(nil)
	if err != nil {
		t.Fatalf("ProfileFromCapabilities: %v", err)
	}
	if len(p.Tools()) != 0 {
		t.Errorf("expected no tools, got %+v", p.Tools())
	}
	if !p.Permits(conversation.ActionNone) {
		t.Error("text replies must always be permitted")
	}
}

func TestProfileValidateRejectsUnknownTone(t *testing.T) {
	if _, err := ProfileFromCapabilities(map[string]any{"tone": "sarcastic"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestToolsFollowCapabilities(t *testing.T) {
	p := CapabilityProfile{MayScheduleMeetings: true, MayTransferToHuman: true}
	tools := p.Tools()
	if len(tools) != 2 {
		t.Fatalf("tools = %+v", tools)
	}
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	if !names["schedule_meeting"] || !names["transfer_to_human"] {
		t.Errorf("tool names = %v", names)
	}
}

func TestPermits(t *testing.T) {
	p := CapabilityProfile{MayUpdateExternal: true}
	if !p.Permits(conversation.ActionUpdateExternalSystem) {
		t.Error("permitted action rejected")
	}
	if p.Permits(conversation.ActionScheduleMeeting) {
		t.Error("unpermitted action accepted")
	}
}
