package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadlineai/leadline/internal/message"
)

const (
	sweepBatchSize  = 50
	sweepWindowSize = 20
)

type summaryStore interface {
	ListStaleSummaries(ctx context.Context, limit int) ([]Conversation, error)
	Summarize(ctx context.Context, conversationID string, window []message.Message, force bool) (Summary, error)
}

type transcriptSource interface {
	Transcript(ctx context.Context, tenantID, contactID string, limit int) ([]message.Message, error)
}

// Sweeper refreshes stale summaries in the background so operator views and
// the next decision cycle read warm data instead of recomputing inline.
type Sweeper struct {
	store       summaryStore
	transcripts transcriptSource
	logger      *slog.Logger
}

func NewSweeper(log *slog.Logger, store summaryStore, transcripts transcriptSource) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:       store,
		transcripts: transcripts,
		logger:      log.With(slog.String("service", "summary_sweep")),
	}
}

// RunOnce refreshes one batch of stale summaries. A failed conversation is
// skipped, not retried; the next sweep picks it up again.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	stale, err := s.store.ListStaleSummaries(ctx, sweepBatchSize)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	refreshed := 0
	for _, conv := range stale {
		window, err := s.transcripts.Transcript(ctx, conv.TenantID, conv.ContactID, sweepWindowSize)
		if err != nil {
			s.logger.Warn("load transcript failed",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err),
			)
			continue
		}
		if _, err := s.store.Summarize(ctx, conv.ID, window, true); err != nil {
			s.logger.Warn("refresh summary failed",
				slog.String("conversation_id", conv.ID),
				slog.Any("error", err),
			)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		s.logger.Debug("summaries refreshed", slog.Int("count", refreshed))
	}
	return nil
}
