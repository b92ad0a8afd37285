package engine

import (
	"fmt"
	"strings"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/llm"
	"github.com/leadlineai/leadline/internal/message"
)

// historyWindow bounds how many transcript entries feed the prompt.
const historyWindow = 20

// buildPrompt assembles the role-tagged message list: persona and
// capability system prompt, summarized history, recent transcript, then the
// batched inbound text as the final user turn.
func buildPrompt(p CapabilityProfile, c contact.Contact, conv conversation.Conversation, summary conversation.Summary, history []message.Message, batchedText string) []llm.Message {
	var sys strings.Builder

	name := p.PersonaName
	if name == "" {
		name = "an assistant"
	}
	fmt.Fprintf(&sys, "You are %s, a sales assistant", name)
	if p.CompanyName != "" {
		fmt.Fprintf(&sys, " for %s", p.CompanyName)
	}
	sys.WriteString(". You chat with inbound leads over messaging.\n")

	if p.Tone != "" {
		fmt.Fprintf(&sys, "Tone: %s.\n", p.Tone)
	}

	sys.WriteString("You may: reply with text")
	if p.MayScheduleMeetings {
		sys.WriteString(", schedule meetings")
	}
	if p.MayCreateRecords {
		sys.WriteString(", record contact details")
	}
	if p.MayUpdateExternal {
		sys.WriteString(", update the external system")
	}
	if p.MayTransferToHuman {
		sys.WriteString(", transfer to a human")
	}
	sys.WriteString(". Do nothing else.\n")

	snippets := p.KnowledgeSnippets
	if p.MaxKnowledgeSnippets > 0 && len(snippets) > p.MaxKnowledgeSnippets {
		snippets = snippets[:p.MaxKnowledgeSnippets]
	}
	if len(snippets) > 0 {
		sys.WriteString("Relevant knowledge:\n")
		for _, s := range snippets {
			fmt.Fprintf(&sys, "- %s\n", s)
		}
	}

	if c.DisplayName != "" {
		fmt.Fprintf(&sys, "Contact name: %s.\n", c.DisplayName)
	}
	fmt.Fprintf(&sys, "Conversation state: %s, turn %d.\n", conv.State, conv.TurnCount)

	if summary.Topic != "" || summary.Temperature > 0 {
		fmt.Fprintf(&sys, "Conversation so far: topic %q, sentiment %s, interest %d/100, engagement %d/100.\n",
			summary.Topic, summary.Sentiment, summary.Temperature, summary.Engagement)
	}
	if len(summary.OpenQuestions) > 0 {
		fmt.Fprintf(&sys, "Open questions from the contact: %s\n", strings.Join(summary.OpenQuestions, " | "))
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: sys.String()}}

	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, m := range history {
		role := llm.RoleUser
		if m.Direction == message.DirectionOut {
			role = llm.RoleAssistant
		}
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Body})
	}

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: batchedText})
	return msgs
}
