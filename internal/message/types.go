// Package message stores the per-contact inbound and outbound transcript.
package message

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

// Directions of a transcript entry.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message is one transcript entry. Inbound entries start unconsolidated and
// are stamped once a consolidation batch picks them up.
type Message struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ExternalID     string     `json:"external_id"`
	ContactID      string     `json:"contact_id,omitempty"`
	ChannelRef     string     `json:"channel_ref,omitempty"`
	Direction      string     `json:"direction"`
	Body           string     `json:"body"`
	MediaURL       string     `json:"media_url,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
	ConsolidatedAt *time.Time `json:"consolidated_at,omitempty"`
}
