package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/tenant"
)

type memQueue struct {
	mu       sync.Mutex
	delivery *Delivery
	logs     []AttemptLog
	retryAts []time.Time
	deleted  bool
}

func (m *memQueue) ClaimDue(context.Context, int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted || m.delivery == nil {
		return nil, nil
	}
	return []Delivery{*m.delivery}, nil
}

func (m *memQueue) RecordAttempt(_ context.Context, deliveryID string, attempt, statusCode int, snippet, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, AttemptLog{
		DeliveryID: deliveryID, Attempt: attempt, StatusCode: statusCode,
		ResponseSnippet: snippet, Error: errText,
	})
	return nil
}

func (m *memQueue) Reschedule(_ context.Context, _ string, attempt int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivery.Attempt = attempt
	m.delivery.NextRetryAt = nextRetryAt
	m.retryAts = append(m.retryAts, nextRetryAt)
	return nil
}

func (m *memQueue) Delete(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = true
	return nil
}

type memEndpoints struct {
	endpoint tenant.Endpoint
}

func (m *memEndpoints) GetEndpoint(context.Context, string) (tenant.Endpoint, error) {
	return m.endpoint, nil
}

func newTestWorker(q *memQueue, url string) *Worker {
	return NewWorker(nil, q, &memEndpoints{endpoint: tenant.Endpoint{
		URL:    url,
		Secret: "endpoint-secret",
		Method: "POST",
		Active: true,
	}}, config.DeliveryConfig{
		MaxAttempts:        3,
		BackoffBaseSeconds: 60,
		BackoffCapSeconds:  1800,
		TimeoutSeconds:     2,
		AllowPrivate:       true, // httptest listens on loopback
	})
}

func testDelivery() *Delivery {
	return &Delivery{
		ID:          "00000000-0000-0000-0000-0000000000d1",
		TenantID:    "00000000-0000-0000-0000-000000000001",
		EndpointID:  "00000000-0000-0000-0000-0000000000e1",
		Event:       "meeting.requested",
		Payload:     []byte(`{"event":"meeting.requested","data":{}}`),
		MaxAttempts: 3,
	}
}

// Three consecutive HTTP 500s leave three audit rows with growing delays
// and delete the delivery after the final failure.
func TestWorkerExhaustsAfterRepeatedServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := &memQueue{delivery: testDelivery()}
	w := newTestWorker(q, srv.URL)

	for i := 0; i < 3; i++ {
		if err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.logs) != 3 {
		t.Fatalf("attempt logs = %d, want 3", len(q.logs))
	}
	for i, log := range q.logs {
		if log.Attempt != i+1 || log.StatusCode != http.StatusInternalServerError {
			t.Errorf("log %d = %+v", i, log)
		}
	}
	if !q.deleted {
		t.Error("delivery must be deleted after exhaustion")
	}
	// Two reschedules before the final attempt; gaps must not shrink.
	if len(q.retryAts) != 2 {
		t.Fatalf("reschedules = %d, want 2", len(q.retryAts))
	}
}

func TestWorkerDeletesOnSuccess(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := &memQueue{delivery: testDelivery()}
	w := newTestWorker(q, srv.URL)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.deleted {
		t.Error("delivery must be deleted after 2xx")
	}
	if len(q.logs) != 1 || q.logs[0].StatusCode != http.StatusOK {
		t.Errorf("logs = %+v", q.logs)
	}
	if !VerifySignature("endpoint-secret", gotBody, gotSig) {
		t.Error("sent signature does not verify against the body")
	}
}

func TestWorkerNetworkFailureRetries(t *testing.T) {
	q := &memQueue{delivery: testDelivery()}
	// Closed port: connection refused.
	w := newTestWorker(q, "http://127.0.0.1:1/hook")

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deleted {
		t.Error("first failure must not delete the delivery")
	}
	if len(q.logs) != 1 || q.logs[0].StatusCode != 0 || q.logs[0].Error == "" {
		t.Errorf("logs = %+v", q.logs)
	}
	if q.delivery.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", q.delivery.Attempt)
	}
}

func TestWorkerRejectsPrivateTarget(t *testing.T) {
	q := &memQueue{delivery: testDelivery()}
	w := NewWorker(nil, q, &memEndpoints{endpoint: tenant.Endpoint{
		URL: "http://169.254.169.254/latest", Secret: "s", Method: "POST", Active: true,
	}}, config.DeliveryConfig{MaxAttempts: 3, TimeoutSeconds: 2})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.logs) != 1 || q.logs[0].StatusCode != 0 {
		t.Fatalf("logs = %+v", q.logs)
	}
	if q.logs[0].Error == "" {
		t.Error("expected validation error recorded")
	}
}
