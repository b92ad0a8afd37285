// Package gateway receives inbound messages from the messaging provider and
// sends replies back through it.
package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/message"
	"github.com/leadlineai/leadline/internal/tenant"
)

// TokenHeader authenticates the messaging provider.
const TokenHeader = "X-Gateway-Token"

// processTimeout bounds one inbound message's background processing,
// enrichment included.
const processTimeout = 30 * time.Second

type tenantStore interface {
	Get(ctx context.Context, id string) (tenant.Tenant, error)
}

type contactResolver interface {
	Resolve(ctx context.Context, tenantID, countryCode string, raw contact.RawIdentifier, allowCreate bool) (contact.Contact, error)
}

type messageRecorder interface {
	RecordInbound(ctx context.Context, m message.Message) (message.Message, bool, error)
}

type observer interface {
	Observe(tenantID, contactID, messageID string, quiet time.Duration)
}

// Enricher turns a media attachment into text the decision engine can read,
// for example a transcription or an image description.
type Enricher interface {
	Enrich(ctx context.Context, mediaURL string) (string, error)
}

// envelope is the provider webhook payload.
type envelope struct {
	ExternalID  string `json:"external_id"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	MediaURL    string `json:"media_url"`
	Timestamp   string `json:"timestamp"`
}

// Handler terminates the provider webhook. It acknowledges fast: once the
// payload is authenticated and parsed, internal failures never surface as
// non-200 responses, or the provider would retry and flood us.
type Handler struct {
	sharedSecret string
	quietDefault time.Duration
	tenants      tenantStore
	contacts     contactResolver
	messages     messageRecorder
	debounce     observer
	enricher     Enricher
	logger       *slog.Logger
	inflight     sync.WaitGroup
}

// NewHandler creates the gateway webhook handler.
func NewHandler(log *slog.Logger, cfg config.Config, tenants tenantStore, contacts contactResolver, messages messageRecorder, debounce observer) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		sharedSecret: cfg.Gateway.SharedSecret,
		quietDefault: cfg.Debounce.QuietPeriod(),
		tenants:      tenants,
		contacts:     contacts,
		messages:     messages,
		debounce:     debounce,
		logger:       log.With(slog.String("handler", "gateway")),
	}
}

// SetEnricher installs an optional media enricher. Without one, media
// messages pass through with their text only.
func (h *Handler) SetEnricher(e Enricher) {
	h.enricher = e
}

// Register mounts the webhook route on the gateway group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/webhook/:tenant_id", h.Receive)
}

// Receive handles one inbound message webhook.
func (h *Handler) Receive(c echo.Context) error {
	if h.sharedSecret == "" {
		// Misconfiguration, not a client problem. Fail loudly so the
		// provider's monitoring picks it up.
		return echo.NewHTTPError(http.StatusServiceUnavailable, "gateway credentials not configured")
	}
	token := c.Request().Header.Get(TokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.sharedSecret)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid gateway token")
	}

	var env envelope
	if err := c.Bind(&env); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if env.ExternalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "external_id is required")
	}
	if env.Text == "" && env.MediaURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message has no content")
	}
	tenantID := c.Param("tenant_id")

	// Acknowledge before processing. The provider only needs to know the
	// message arrived; a slow enrichment or store must not hold its request
	// open and trigger retries.
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := h.process(ctx, tenantID, env); err != nil {
			h.logger.Error("inbound processing failed",
				slog.String("tenant_id", tenantID),
				slog.String("external_id", env.ExternalID),
				slog.Any("error", err),
			)
		}
	}()
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}

// Wait blocks until in-flight message processing finishes. Called on
// shutdown so acknowledged messages reach the store.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) process(ctx context.Context, tenantID string, env envelope) error {
	tnt, err := h.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	raw := contact.RawIdentifier{
		Phone:       env.Phone,
		Email:       env.Email,
		DisplayName: env.DisplayName,
	}
	resolved, err := h.contacts.Resolve(ctx, tnt.ID, tnt.CountryCode, raw, true)
	if err != nil {
		return err
	}

	receivedAt := time.Time{}
	if env.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			receivedAt = ts
		}
	}
	body := env.Text
	if env.MediaURL != "" && h.enricher != nil {
		enrichCtx, cancel := context.WithTimeout(ctx, config.DefaultEnrichTimeout)
		described, err := h.enricher.Enrich(enrichCtx, env.MediaURL)
		cancel()
		if err != nil {
			// Enrichment is best effort. The message goes through with
			// whatever text it carried.
			h.logger.Warn("media enrichment failed",
				slog.String("media_url", env.MediaURL),
				slog.Any("error", err),
			)
		} else if described != "" {
			if body != "" {
				body += "\n"
			}
			body += "[media] " + described
		}
	}
	stored, created, err := h.messages.RecordInbound(ctx, message.Message{
		TenantID:   tnt.ID,
		ExternalID: env.ExternalID,
		ContactID:  resolved.ID,
		ChannelRef: raw.ChannelRef(),
		Body:       body,
		MediaURL:   env.MediaURL,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	// Disabled automation still stores the message, it just never enters a
	// consolidation batch.
	if resolved.AutomationDisabled {
		return nil
	}

	h.debounce.Observe(tnt.ID, resolved.ID, stored.ID, h.quietPeriod(tnt))
	return nil
}

func (h *Handler) quietPeriod(tnt tenant.Tenant) time.Duration {
	quiet := tnt.QuietPeriod()
	if quiet <= 0 {
		quiet = h.quietDefault
	}
	if quiet > config.MaxQuietPeriod {
		quiet = config.MaxQuietPeriod
	}
	return quiet
}
