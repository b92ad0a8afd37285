package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/message"
	"github.com/leadlineai/leadline/internal/tenant"
)

type fakeTenants struct {
	tenant tenant.Tenant
	err    error
}

func (f *fakeTenants) Get(context.Context, string) (tenant.Tenant, error) {
	return f.tenant, f.err
}

type fakeContacts struct {
	contact contact.Contact
}

func (f *fakeContacts) Resolve(context.Context, string, string, contact.RawIdentifier, bool) (contact.Contact, error) {
	return f.contact, nil
}

type fakeMessages struct {
	created bool
	stored  message.Message
	got     message.Message
}

func (f *fakeMessages) RecordInbound(_ context.Context, m message.Message) (message.Message, bool, error) {
	f.got = m
	stored := f.stored
	if stored.ID == "" {
		stored = m
		stored.ID = "m1"
	}
	return stored, f.created, nil
}

type fakeObserver struct {
	calls []time.Duration
}

func (f *fakeObserver) Observe(_, _, _ string, quiet time.Duration) {
	f.calls = append(f.calls, quiet)
}

func newTestHandler(tenants *fakeTenants, contacts *fakeContacts, messages *fakeMessages, obs *fakeObserver) *Handler {
	cfg := config.Config{}
	cfg.Gateway.SharedSecret = "gw-secret"
	return NewHandler(nil, cfg, tenants, contacts, messages, obs)
}

func doRequest(h *Handler, token, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/gateway/webhook/t1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/gateway/webhook/:tenant_id")
	c.SetParamNames("tenant_id")
	c.SetParamValues("t1")

	if err := h.Receive(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestReceiveRejectsBadToken(t *testing.T) {
	h := newTestHandler(&fakeTenants{}, &fakeContacts{}, &fakeMessages{}, &fakeObserver{})
	rec := doRequest(h, "wrong", `{"external_id":"e1","text":"hi"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestReceiveRejectsMissingFields(t *testing.T) {
	h := newTestHandler(&fakeTenants{}, &fakeContacts{}, &fakeMessages{}, &fakeObserver{})
	rec := doRequest(h, "gw-secret", `{"text":"hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing external_id: status = %d, want 400", rec.Code)
	}
	rec = doRequest(h, "gw-secret", `{"external_id":"e1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no content: status = %d, want 400", rec.Code)
	}
}

func TestReceiveSchedulesConsolidation(t *testing.T) {
	obs := &fakeObserver{}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1", QuietPeriodSeconds: 5}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		&fakeMessages{created: true},
		obs,
	)
	rec := doRequest(h, "gw-secret", `{"external_id":"e1","phone":"+491712345678","text":"hi"}`)
	h.Wait()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(obs.calls) != 1 || obs.calls[0] != 5*time.Second {
		t.Errorf("observe calls = %v", obs.calls)
	}
}

func TestReceiveClampsQuietPeriod(t *testing.T) {
	obs := &fakeObserver{}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1", QuietPeriodSeconds: 60}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		&fakeMessages{created: true},
		obs,
	)
	doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi"}`)
	h.Wait()
	if len(obs.calls) != 1 || obs.calls[0] != config.MaxQuietPeriod {
		t.Errorf("observe calls = %v, want clamped to %v", obs.calls, config.MaxQuietPeriod)
	}
}

func TestReceiveDuplicateDoesNotReschedule(t *testing.T) {
	obs := &fakeObserver{}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1"}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		&fakeMessages{created: false},
		obs,
	)
	rec := doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi"}`)
	h.Wait()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(obs.calls) != 0 {
		t.Error("duplicate message must not restart the quiet period")
	}
}

func TestReceiveDisabledAutomationStoresOnly(t *testing.T) {
	obs := &fakeObserver{}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1"}},
		&fakeContacts{contact: contact.Contact{ID: "c1", AutomationDisabled: true}},
		&fakeMessages{created: true},
		obs,
	)
	rec := doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi"}`)
	h.Wait()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(obs.calls) != 0 {
		t.Error("disabled automation must not schedule consolidation")
	}
}

type fakeEnricher struct {
	text string
	err  error
}

func (f *fakeEnricher) Enrich(context.Context, string) (string, error) {
	return f.text, f.err
}

func TestReceiveRequiresConfiguredSecret(t *testing.T) {
	h := NewHandler(nil, config.Config{}, &fakeTenants{}, &fakeContacts{}, &fakeMessages{}, &fakeObserver{})
	rec := doRequest(h, "anything", `{"external_id":"e1","text":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no shared secret is configured", rec.Code)
	}
}

func TestReceiveEnrichesMedia(t *testing.T) {
	msgs := &fakeMessages{created: true}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1"}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		msgs,
		&fakeObserver{},
	)
	h.SetEnricher(&fakeEnricher{text: "a voice note asking about pricing"})

	doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi","media_url":"https://cdn.example.com/v1.ogg"}`)
	h.Wait()
	want := "hi\n[media] a voice note asking about pricing"
	if msgs.got.Body != want {
		t.Errorf("body = %q, want %q", msgs.got.Body, want)
	}
}

func TestReceiveEnrichmentFailureDegrades(t *testing.T) {
	msgs := &fakeMessages{created: true}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1"}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		msgs,
		&fakeObserver{},
	)
	h.SetEnricher(&fakeEnricher{err: errors.New("model unavailable")})

	rec := doRequest(h, "gw-secret", `{"external_id":"e1","media_url":"https://cdn.example.com/v1.ogg"}`)
	h.Wait()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if msgs.got.Body != "" {
		t.Errorf("body = %q, want message stored without enrichment", msgs.got.Body)
	}
	if msgs.got.MediaURL == "" {
		t.Error("media url must be preserved")
	}
}

type blockingEnricher struct {
	release chan struct{}
}

func (b *blockingEnricher) Enrich(context.Context, string) (string, error) {
	<-b.release
	return "a voice note", nil
}

func TestReceiveAcknowledgesBeforeProcessing(t *testing.T) {
	enricher := &blockingEnricher{release: make(chan struct{})}
	msgs := &fakeMessages{created: true}
	h := newTestHandler(
		&fakeTenants{tenant: tenant.Tenant{ID: "t1"}},
		&fakeContacts{contact: contact.Contact{ID: "c1"}},
		msgs,
		&fakeObserver{},
	)
	h.SetEnricher(enricher)

	// The enricher is still blocked when Receive returns: the ack must not
	// wait for processing.
	rec := doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi","media_url":"https://cdn.example.com/v1.ogg"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 while processing is in flight", rec.Code)
	}
	if msgs.got.ExternalID != "" {
		t.Error("message must not be persisted before the enricher finished")
	}

	close(enricher.release)
	h.Wait()
	if msgs.got.Body != "hi\n[media] a voice note" {
		t.Errorf("body = %q, want enriched after release", msgs.got.Body)
	}
}

func TestReceiveInternalFailureStillAcknowledges(t *testing.T) {
	h := newTestHandler(
		&fakeTenants{err: errors.New("db down")},
		&fakeContacts{},
		&fakeMessages{},
		&fakeObserver{},
	)
	rec := doRequest(h, "gw-secret", `{"external_id":"e1","text":"hi"}`)
	h.Wait()
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite internal failure", rec.Code)
	}
}
