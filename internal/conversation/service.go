package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/leadlineai/leadline/internal/db"
	"github.com/leadlineai/leadline/internal/message"
)

const conversationColumns = `id, tenant_id, contact_id, state, turn_count, context, last_activity_at`

// Service persists conversations and their cached summaries.
type Service struct {
	db         dbpkg.DBTX
	logger     *slog.Logger
	summaryTTL time.Duration
}

// NewService creates a conversation service. ttl controls summary staleness.
func NewService(log *slog.Logger, db dbpkg.DBTX, summaryTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	if summaryTTL <= 0 {
		summaryTTL = 10 * time.Minute
	}
	return &Service{
		db:         db,
		logger:     log.With(slog.String("service", "conversation")),
		summaryTTL: summaryTTL,
	}
}

// GetOrCreate returns the contact's conversation, creating it lazily on the
// first decision cycle. A contact has at most one conversation.
func (s *Service) GetOrCreate(ctx context.Context, tenantID, contactID string) (Conversation, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid contact id: %w", err)
	}

	pgID, _ := dbpkg.ParseUUID(uuid.Must(uuid.NewV7()).String())
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, contact_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id) DO NOTHING
		RETURNING `+conversationColumns, pgID, pgTenantID, pgContactID)
	conv, err := scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	row = s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE contact_id = $1`, pgContactID)
	conv, err = scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation by id.
func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, pgID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// Advance records a completed turn: the turn counter always moves forward,
// even when the decision fell back.
func (s *Service) Advance(ctx context.Context, id string, next State, contextPatch map[string]any) error {
	if !next.Valid() {
		return fmt.Errorf("invalid state %q", next)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	patch, err := json.Marshal(contextPatch)
	if err != nil {
		return fmt.Errorf("marshal context patch: %w", err)
	}
	if contextPatch == nil {
		patch = []byte(`{}`)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET state = $2, turn_count = turn_count + 1, context = context || $3::jsonb, last_activity_at = now()
		WHERE id = $1`, pgID, string(next), patch); err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}
	return nil
}

// SetState moves the conversation without advancing the turn counter. Used
// by operator actions such as manual transfer or reactivation.
func (s *Service) SetState(ctx context.Context, id string, next State) error {
	if !next.Valid() {
		return fmt.Errorf("invalid state %q", next)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE conversations SET state = $2, last_activity_at = now() WHERE id = $1`,
		pgID, string(next)); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// Summarize returns the cached summary, recomputing from the window when the
// cache is stale, missing, or force is set.
func (s *Service) Summarize(ctx context.Context, conversationID string, window []message.Message, force bool) (Summary, error) {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return Summary{}, fmt.Errorf("invalid conversation id: %w", err)
	}

	if !force {
		row := s.db.QueryRow(ctx, `
			SELECT conversation_id, topic, sentiment, temperature, engagement, open_questions, computed_at
			FROM conversation_summaries WHERE conversation_id = $1`, pgID)
		cached, err := scanSummary(row)
		if err == nil && !cached.Stale(s.summaryTTL) {
			return cached, nil
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, fmt.Errorf("load summary: %w", err)
		}
	}

	computed := Compute(conversationID, window)
	computed.ComputedAt = time.Now()
	if _, err := s.db.Exec(ctx, `
		INSERT INTO conversation_summaries (conversation_id, topic, sentiment, temperature, engagement, open_questions, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id) DO UPDATE SET
			topic = EXCLUDED.topic, sentiment = EXCLUDED.sentiment,
			temperature = EXCLUDED.temperature, engagement = EXCLUDED.engagement,
			open_questions = EXCLUDED.open_questions, computed_at = EXCLUDED.computed_at`,
		pgID, computed.Topic, computed.Sentiment, computed.Temperature,
		computed.Engagement, computed.OpenQuestions, computed.ComputedAt); err != nil {
		// A summary is an optimization, not a dependency. Serve the fresh
		// computation even when persisting it fails.
		s.logger.Warn("persist summary failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
	}
	return computed, nil
}

// ListStaleSummaries returns recently active conversations whose cached
// summary is missing or older than the staleness TTL.
func (s *Service) ListStaleSummaries(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT c.id, c.tenant_id, c.contact_id, c.state, c.turn_count, c.context, c.last_activity_at
		FROM conversations c
		LEFT JOIN conversation_summaries cs ON cs.conversation_id = c.id
		WHERE c.last_activity_at > now() - interval '24 hours'
		  AND (cs.conversation_id IS NULL OR cs.computed_at < now() - ($1 * interval '1 second'))
		ORDER BY c.last_activity_at DESC
		LIMIT $2`, int(s.summaryTTL.Seconds()), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale summaries: %w", err)
	}
	defer rows.Close()

	var stale []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		stale = append(stale, conv)
	}
	return stale, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	var pgID, pgTenantID, pgContactID pgtype.UUID
	var state string
	var contextBlob []byte
	var lastActivity pgtype.Timestamptz
	err := row.Scan(&pgID, &pgTenantID, &pgContactID, &state, &c.TurnCount, &contextBlob, &lastActivity)
	if err != nil {
		return Conversation{}, err
	}
	c.ID = pgID.String()
	c.TenantID = pgTenantID.String()
	c.ContactID = pgContactID.String()
	c.State = State(state)
	c.LastActivityAt = lastActivity.Time
	if len(contextBlob) > 0 {
		_ = json.Unmarshal(contextBlob, &c.Context)
	}
	return c, nil
}

func scanSummary(row pgx.Row) (Summary, error) {
	var s Summary
	var pgID pgtype.UUID
	var computedAt pgtype.Timestamptz
	err := row.Scan(&pgID, &s.Topic, &s.Sentiment, &s.Temperature, &s.Engagement, &s.OpenQuestions, &computedAt)
	if err != nil {
		return Summary{}, err
	}
	s.ConversationID = pgID.String()
	s.ComputedAt = computedAt.Time
	return s, nil
}
