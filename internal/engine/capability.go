package engine

import (
	"encoding/json"
	"fmt"

	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/llm"
)

// CapabilityProfile governs what the decision engine may do and say for a
// tenant. Invalid combinations fail Validate instead of surfacing as odd
// prompts at runtime.
type CapabilityProfile struct {
	MayScheduleMeetings  bool     `json:"may_schedule_meetings"`
	MayTransferToHuman   bool     `json:"may_transfer_to_human"`
	MayUpdateExternal    bool     `json:"may_update_external"`
	MayCreateRecords     bool     `json:"may_create_records"`
	Tone                 string   `json:"tone"`
	PersonaName          string   `json:"persona_name"`
	CompanyName          string   `json:"company_name"`
	KnowledgeSnippets    []string `json:"knowledge_snippets"`
	MaxKnowledgeSnippets int      `json:"max_knowledge_snippets"`
}

var validTones = map[string]bool{
	"": true, "professional": true, "friendly": true, "casual": true,
}

// Validate rejects profiles the prompt assembler cannot express.
func (p CapabilityProfile) Validate() error {
	if !validTones[p.Tone] {
		return fmt.Errorf("unknown tone %q", p.Tone)
	}
	if p.MaxKnowledgeSnippets < 0 {
		return fmt.Errorf("max_knowledge_snippets must be >= 0")
	}
	return nil
}

// ProfileFromCapabilities decodes the tenant capabilities blob. Unknown keys
// are ignored, absent keys default to a reply-only profile.
func ProfileFromCapabilities(caps map[string]any) (CapabilityProfile, error) {
	var p CapabilityProfile
	if len(caps) > 0 {
		blob, err := json.Marshal(caps)
		if err != nil {
			return p, fmt.Errorf("encode capabilities: %w", err)
		}
		if err := json.Unmarshal(blob, &p); err != nil {
			return p, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return CapabilityProfile{}, err
	}
	return p, nil
}

// Tools returns the callable-action schemas the profile permits.
func (p CapabilityProfile) Tools() []llm.Tool {
	var tools []llm.Tool
	if p.MayScheduleMeetings {
		tools = append(tools, llm.Tool{
			Name:        string(conversation.ActionScheduleMeeting),
			Description: "Schedule a meeting with the contact at an agreed time.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"when":  map[string]any{"type": "string", "description": "Agreed date and time, as stated by the contact."},
					"notes": map[string]any{"type": "string"},
				},
				"required": []string{"when"},
			},
		})
	}
	if p.MayCreateRecords {
		tools = append(tools, llm.Tool{
			Name:        string(conversation.ActionCreateContactRecord),
			Description: "Create or enrich the contact record with details learned in conversation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"display_name": map[string]any{"type": "string"},
					"email":        map[string]any{"type": "string"},
					"notes":        map[string]any{"type": "string"},
				},
			},
		})
	}
	if p.MayUpdateExternal {
		tools = append(tools, llm.Tool{
			Name:        string(conversation.ActionUpdateExternalSystem),
			Description: "Push an update about this contact to the tenant's external system.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"stage": map[string]any{"type": "string", "description": "New pipeline stage label."},
					"notes": map[string]any{"type": "string"},
				},
			},
		})
	}
	if p.MayTransferToHuman {
		tools = append(tools, llm.Tool{
			Name:        string(conversation.ActionTransferToHuman),
			Description: "Hand the conversation to a human teammate when the contact asks for one or automation cannot help.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string"},
				},
			},
		})
	}
	return tools
}

// Permits reports whether the profile allows the action.
func (p CapabilityProfile) Permits(action conversation.Action) bool {
	switch action {
	case conversation.ActionScheduleMeeting:
		return p.MayScheduleMeetings
	case conversation.ActionCreateContactRecord:
		return p.MayCreateRecords
	case conversation.ActionUpdateExternalSystem:
		return p.MayUpdateExternal
	case conversation.ActionTransferToHuman:
		return p.MayTransferToHuman
	case conversation.ActionNone:
		return true
	}
	return false
}
