// Package delivery implements the durable outbound webhook queue and its
// retry worker.
package delivery

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a delivery does not exist.
var ErrNotFound = errors.New("delivery not found")

// SignatureHeader carries the HMAC of the request body.
const SignatureHeader = "X-Leadline-Signature"

// Delivery is one pending or retrying outbound notification.
type Delivery struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	EndpointID  string    `json:"endpoint_id"`
	Event       string    `json:"event"`
	Payload     []byte    `json:"payload"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	NextRetryAt time.Time `json:"next_retry_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// AttemptLog is one append-only audit row per delivery attempt.
type AttemptLog struct {
	ID              string    `json:"id"`
	DeliveryID      string    `json:"delivery_id"`
	Attempt         int       `json:"attempt"`
	StatusCode      int       `json:"status_code"`
	ResponseSnippet string    `json:"response_snippet"`
	Error           string    `json:"error"`
	CreatedAt       time.Time `json:"created_at"`
}
