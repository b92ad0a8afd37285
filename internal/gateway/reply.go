package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/contact"
	"github.com/leadlineai/leadline/internal/tenant"
)

// ReplyClient pushes conversational replies back through the messaging
// gateway. Without a configured send URL it degrades to logging, which keeps
// development setups working.
type ReplyClient struct {
	sendURL      string
	sharedSecret string
	http         *http.Client
	logger       *slog.Logger
}

// NewReplyClient creates the outbound reply client.
func NewReplyClient(log *slog.Logger, cfg config.GatewayConfig) *ReplyClient {
	if log == nil {
		log = slog.Default()
	}
	return &ReplyClient{
		sendURL:      cfg.SendURL,
		sharedSecret: cfg.SharedSecret,
		http:         &http.Client{Timeout: 15 * time.Second},
		logger:       log.With(slog.String("service", "gateway_reply")),
	}
}

// SendReply delivers one reply to the contact through the gateway.
func (r *ReplyClient) SendReply(ctx context.Context, tnt tenant.Tenant, c contact.Contact, text string) error {
	if r.sendURL == "" {
		r.logger.Info("no gateway send url, reply not delivered",
			slog.String("tenant_id", tnt.ID),
			slog.String("contact_id", c.ID),
			slog.String("text", text),
		)
		return nil
	}

	to := c.PhoneNormalized
	if to == "" {
		to = c.EmailNormalized
	}
	if to == "" {
		return fmt.Errorf("contact %s has no reachable identifier", c.ID)
	}

	body, err := json.Marshal(map[string]string{
		"tenant_id": tnt.ID,
		"to":        to,
		"text":      text,
	})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, r.sharedSecret)

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("gateway send status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
