package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/conversation"
	"github.com/leadlineai/leadline/internal/tenant"
)

type fakeAuthenticator struct {
	tenant tenant.Tenant
	err    error
	gotReq bool
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, _, _ string, requireSubscription bool) (tenant.Tenant, error) {
	f.gotReq = requireSubscription
	return f.tenant, f.err
}

type fakeActionContacts struct {
	contact contact.Contact
	getErr  error
	notes   string
}

func (f *fakeActionContacts) Get(context.Context, string, string) (contact.Contact, error) {
	return f.contact, f.getErr
}

func (f *fakeActionContacts) Resolve(context.Context, string, string, contact.RawIdentifier, bool) (contact.Contact, error) {
	return f.contact, nil
}

func (f *fakeActionContacts) UpdateDetails(_ context.Context, _, _, _, _, notes string) error {
	f.notes = notes
	return nil
}

type fakeActionConversations struct {
	conv     conversation.Conversation
	setState conversation.State
}

func (f *fakeActionConversations) GetOrCreate(context.Context, string, string) (conversation.Conversation, error) {
	return f.conv, nil
}

func (f *fakeActionConversations) SetState(_ context.Context, _ string, next conversation.State) error {
	f.setState = next
	return nil
}

type fakeActionDispatcher struct {
	action conversation.Action
	args   string
}

func (f *fakeActionDispatcher) Dispatch(_ context.Context, _ tenant.Tenant, _ contact.Contact, _ conversation.Conversation, action conversation.Action, args string) error {
	f.action = action
	f.args = args
	return nil
}

func execAction(h *ActionsHandler, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/internal/actions", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Execute(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestExecuteRejectsBadCredentials(t *testing.T) {
	h := NewActionsHandler(nil, &fakeAuthenticator{err: tenant.ErrBadAPIKey},
		&fakeActionContacts{}, &fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"create-contact","tenant_id":"t1","api_key":"bad","data":{}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestExecuteRejectsLapsedSubscription(t *testing.T) {
	h := NewActionsHandler(nil, &fakeAuthenticator{err: tenant.ErrSubscriptionInactive},
		&fakeActionContacts{}, &fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"schedule-meeting","tenant_id":"t1","api_key":"k","data":{"contact_id":"c1"}}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	h := NewActionsHandler(nil, &fakeAuthenticator{tenant: tenant.Tenant{ID: "t1"}},
		&fakeActionContacts{}, &fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"explode","tenant_id":"t1","api_key":"k","data":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteCreateContactSkipsSubscriptionCheck(t *testing.T) {
	authn := &fakeAuthenticator{tenant: tenant.Tenant{ID: "t1"}}
	h := NewActionsHandler(nil, authn, &fakeActionContacts{contact: contact.Contact{ID: "c1"}},
		&fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"create-contact","tenant_id":"t1","api_key":"k","data":{"phone":"+4917","display_name":"Jane"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if authn.gotReq {
		t.Error("create-contact must not require an active subscription")
	}
}

func TestExecuteCreateContactRequiresIdentifier(t *testing.T) {
	h := NewActionsHandler(nil, &fakeAuthenticator{tenant: tenant.Tenant{ID: "t1"}},
		&fakeActionContacts{}, &fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"create-contact","tenant_id":"t1","api_key":"k","data":{"notes":"walked in"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without any identifier", rec.Code)
	}
}

func TestExecuteTransferSetsWaitingHuman(t *testing.T) {
	convs := &fakeActionConversations{conv: conversation.Conversation{ID: "conv1"}}
	disp := &fakeActionDispatcher{}
	h := NewActionsHandler(nil, &fakeAuthenticator{tenant: tenant.Tenant{ID: "t1"}},
		&fakeActionContacts{contact: contact.Contact{ID: "c1"}}, convs, disp)

	rec := execAction(h, `{"action":"transfer-to-human","tenant_id":"t1","api_key":"k","data":{"contact_id":"c1","reason":"vip"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if disp.action != conversation.ActionTransferToHuman {
		t.Errorf("dispatched action = %q", disp.action)
	}
	if convs.setState != conversation.StateWaitingHuman {
		t.Errorf("state = %q, want WAITING_HUMAN", convs.setState)
	}
}

func TestExecuteContactActionRequiresContactID(t *testing.T) {
	h := NewActionsHandler(nil, &fakeAuthenticator{tenant: tenant.Tenant{ID: "t1"}},
		&fakeActionContacts{}, &fakeActionConversations{}, &fakeActionDispatcher{})
	rec := execAction(h, `{"action":"schedule-meeting","tenant_id":"t1","api_key":"k","data":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
