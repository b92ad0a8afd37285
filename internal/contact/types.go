// Package contact implements contact records and identity resolution.
package contact

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a contact does not exist.
var ErrNotFound = errors.New("contact not found")

// ErrNoIdentifier is returned when resolution has nothing to match or
// create from and creation is not permitted.
var ErrNoIdentifier = errors.New("no usable identifier")

// Contact is a unique person per tenant.
type Contact struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	DisplayName        string    `json:"display_name"`
	PhoneNormalized    string    `json:"phone_normalized"`
	EmailNormalized    string    `json:"email_normalized"`
	Notes              string    `json:"notes"`
	AutomationDisabled bool      `json:"automation_disabled"`
	PipelineStage      string    `json:"pipeline_stage"`
	LeadScore          int       `json:"lead_score"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RawIdentifier carries the unnormalized identity hints from the gateway.
type RawIdentifier struct {
	Phone       string
	Email       string
	DisplayName string
}

// Empty reports whether the identifier carries nothing usable.
func (r RawIdentifier) Empty() bool {
	return r.Phone == "" && r.Email == "" && r.DisplayName == ""
}

// ChannelRef is the raw gateway identifier used to link orphaned messages.
// Prefers the phone, then email, then display name.
func (r RawIdentifier) ChannelRef() string {
	if r.Phone != "" {
		return r.Phone
	}
	if r.Email != "" {
		return r.Email
	}
	return r.DisplayName
}
