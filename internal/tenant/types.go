// Package tenant manages tenant records, API keys, and webhook endpoints.
package tenant

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a tenant or endpoint does not exist.
var ErrNotFound = errors.New("tenant not found")

// ErrBadAPIKey is returned when an API key does not match the tenant.
var ErrBadAPIKey = errors.New("invalid api key")

// ErrSubscriptionInactive is returned when an action requires an active
// subscription and the tenant has none.
var ErrSubscriptionInactive = errors.New("subscription inactive")

// Tenant is an isolated customer organization.
type Tenant struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	SubscriptionActive bool           `json:"subscription_active"`
	CountryCode        string         `json:"country_code"`
	QuietPeriodSeconds int            `json:"quiet_period_seconds"`
	Capabilities       map[string]any `json:"capabilities,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// QuietPeriod returns the tenant quiet period, zero when unset.
func (t Tenant) QuietPeriod() time.Duration {
	if t.QuietPeriodSeconds <= 0 {
		return 0
	}
	return time.Duration(t.QuietPeriodSeconds) * time.Second
}

// Endpoint is a tenant-registered outbound webhook target.
type Endpoint struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	URL           string            `json:"url"`
	Secret        string            `json:"-"`
	Method        string            `json:"method"`
	Events        []string          `json:"events"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	Active        bool              `json:"active"`
}

// Accepts reports whether the endpoint subscribes to the event. An empty
// event list means all events.
func (e Endpoint) Accepts(event string) bool {
	if !e.Active {
		return false
	}
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}

// Operator is a platform operator account used for inspection endpoints.
type Operator struct {
	ID           string
	Username     string
	PasswordHash string
	IsActive     bool
}
