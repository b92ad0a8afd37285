// Package debounce consolidates rapid inbound messages into one decision
// turn per quiet period.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leadlineai/leadline/internal/message"
)

// fireTimeout bounds one consolidation cycle, provider call included.
const fireTimeout = 2 * time.Minute

type messageStore interface {
	LatestUnconsolidated(ctx context.Context, tenantID, contactID string) (string, error)
	ListUnconsolidated(ctx context.Context, tenantID, contactID string) ([]message.Message, error)
	MarkConsolidated(ctx context.Context, ids []string) error
}

type batchHandler interface {
	HandleBatch(ctx context.Context, tenantID, contactID string, batch []message.Message) error
}

type pendingWait struct {
	timer     *time.Timer
	messageID string
}

// Coordinator owns one timer per contact. Each new message replaces the
// contact's timer, so the quiet period restarts; the ownership re-check at
// fire time covers timers that already left the map.
type Coordinator struct {
	store   messageStore
	handler batchHandler
	logger  *slog.Logger

	mu      sync.Mutex
	waits   map[string]*pendingWait
	stopped bool
}

// NewCoordinator creates a debounce coordinator.
func NewCoordinator(log *slog.Logger, store messageStore, handler batchHandler) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:   store,
		handler: handler,
		logger:  log.With(slog.String("service", "debounce")),
		waits:   make(map[string]*pendingWait),
	}
}

// Observe registers a new inbound message and restarts the contact's quiet
// period. The freshest observed message owns the eventual batch.
func (c *Coordinator) Observe(tenantID, contactID, messageID string, quiet time.Duration) {
	key := tenantID + "/" + contactID

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if prev, ok := c.waits[key]; ok {
		prev.timer.Stop()
	}
	wait := &pendingWait{messageID: messageID}
	wait.timer = time.AfterFunc(quiet, func() {
		c.fire(key, tenantID, contactID, messageID)
	})
	c.waits[key] = wait
}

// Stop cancels all pending waits. Unfired batches are picked up by the next
// inbound message after restart.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for key, wait := range c.waits {
		wait.timer.Stop()
		delete(c.waits, key)
	}
}

// Waiting reports whether a quiet period is pending for the contact.
func (c *Coordinator) Waiting(tenantID, contactID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waits[tenantID+"/"+contactID]
	return ok
}

func (c *Coordinator) fire(key, tenantID, contactID, messageID string) {
	c.mu.Lock()
	if wait, ok := c.waits[key]; ok && wait.messageID == messageID {
		delete(c.waits, key)
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	latest, err := c.store.LatestUnconsolidated(ctx, tenantID, contactID)
	if err != nil {
		c.logger.Error("latest unconsolidated lookup failed",
			slog.String("contact_id", contactID),
			slog.Any("error", err),
		)
		return
	}
	if latest == "" {
		// A faster sibling already consolidated the batch.
		return
	}
	if latest != messageID {
		// A newer message exists; its own wait cycle owns the batch.
		c.logger.Debug("abandoning stale wait",
			slog.String("contact_id", contactID),
			slog.String("message_id", messageID),
		)
		return
	}

	batch, err := c.store.ListUnconsolidated(ctx, tenantID, contactID)
	if err != nil {
		c.logger.Error("list unconsolidated failed",
			slog.String("contact_id", contactID),
			slog.Any("error", err),
		)
		return
	}
	if len(batch) == 0 {
		return
	}

	if err := c.handler.HandleBatch(ctx, tenantID, contactID, batch); err != nil {
		c.logger.Error("batch handling failed",
			slog.String("contact_id", contactID),
			slog.Any("error", err),
		)
	}

	// Consolidation is unconditional: forward progress beats reprocessing.
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	if err := c.store.MarkConsolidated(ctx, ids); err != nil {
		c.logger.Error("mark consolidated failed",
			slog.String("contact_id", contactID),
			slog.Any("error", err),
		)
	}
}
