package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/leadlineai/leadline/internal/db"
)

const messageColumns = `id, tenant_id, external_id, contact_id, channel_ref,
	direction, body, media_url, received_at, consolidated_at`

// Service persists transcript entries and tracks consolidation state.
type Service struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

// NewService creates a message service.
func NewService(log *slog.Logger, db dbpkg.DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "message")),
	}
}

// RecordInbound stores an inbound message. The (tenant, external id) pair is
// unique; a replayed message returns the stored row with created=false and
// no side effects.
func (s *Service) RecordInbound(ctx context.Context, m Message) (Message, bool, error) {
	pgTenantID, err := dbpkg.ParseUUID(m.TenantID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid tenant id: %w", err)
	}
	var pgContactID pgtype.UUID
	if m.ContactID != "" {
		if pgContactID, err = dbpkg.ParseUUID(m.ContactID); err != nil {
			return Message{}, false, fmt.Errorf("invalid contact id: %w", err)
		}
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}
	pgID, _ := dbpkg.ParseUUID(uuid.Must(uuid.NewV7()).String())

	row := s.db.QueryRow(ctx, `
		INSERT INTO inbound_messages (id, tenant_id, external_id, contact_id, channel_ref, direction, body, media_url, received_at)
		VALUES ($1, $2, $3, $4, $5, 'in', $6, $7, $8)
		ON CONFLICT (tenant_id, external_id) DO NOTHING
		RETURNING `+messageColumns,
		pgID, pgTenantID, m.ExternalID, pgContactID, m.ChannelRef, m.Body, m.MediaURL, m.ReceivedAt)
	stored, err := scanMessage(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, fmt.Errorf("record inbound: %w", err)
	}

	// Conflict: the message was already stored by an earlier attempt.
	row = s.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM inbound_messages
		WHERE tenant_id = $1 AND external_id = $2`, pgTenantID, m.ExternalID)
	stored, err = scanMessage(row)
	if err != nil {
		return Message{}, false, fmt.Errorf("load duplicate: %w", err)
	}
	s.logger.Debug("duplicate inbound message ignored",
		slog.String("tenant_id", m.TenantID),
		slog.String("external_id", m.ExternalID),
	)
	return stored, false, nil
}

// RecordOutbound appends a sent reply to the transcript. Outbound entries
// are born consolidated.
func (s *Service) RecordOutbound(ctx context.Context, tenantID, contactID, body string) error {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	id := uuid.Must(uuid.NewV7()).String()
	pgID, _ := dbpkg.ParseUUID(id)
	if _, err := s.db.Exec(ctx, `
		INSERT INTO inbound_messages (id, tenant_id, external_id, contact_id, direction, body, consolidated_at)
		VALUES ($1, $2, $3, $4, 'out', $5, now())`,
		pgID, pgTenantID, "out-"+id, pgContactID, body); err != nil {
		return fmt.Errorf("record outbound: %w", err)
	}
	return nil
}

// ListUnconsolidated returns the contact's pending inbound messages in
// arrival order.
func (s *Service) ListUnconsolidated(ctx context.Context, tenantID, contactID string) ([]Message, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return nil, fmt.Errorf("invalid contact id: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM inbound_messages
		WHERE tenant_id = $1 AND contact_id = $2 AND direction = 'in' AND consolidated_at IS NULL
		ORDER BY received_at ASC, id ASC`, pgTenantID, pgContactID)
	if err != nil {
		return nil, fmt.Errorf("list unconsolidated: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LatestUnconsolidated returns the id of the newest pending inbound message
// for the contact, or "" when nothing is pending.
func (s *Service) LatestUnconsolidated(ctx context.Context, tenantID, contactID string) (string, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return "", fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return "", fmt.Errorf("invalid contact id: %w", err)
	}
	var pgID pgtype.UUID
	err = s.db.QueryRow(ctx, `
		SELECT id FROM inbound_messages
		WHERE tenant_id = $1 AND contact_id = $2 AND direction = 'in' AND consolidated_at IS NULL
		ORDER BY received_at DESC, id DESC LIMIT 1`, pgTenantID, pgContactID).Scan(&pgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest unconsolidated: %w", err)
	}
	return pgID.String(), nil
}

// MarkConsolidated stamps the given messages as consolidated. Already
// stamped messages keep their original stamp, so replays are harmless.
func (s *Service) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE inbound_messages SET consolidated_at = now()
		WHERE id = ANY($1::uuid[]) AND consolidated_at IS NULL`, ids); err != nil {
		return fmt.Errorf("mark consolidated: %w", err)
	}
	return nil
}

// Transcript returns the contact's most recent entries, oldest first,
// across both directions.
func (s *Service) Transcript(ctx context.Context, tenantID, contactID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return nil, fmt.Errorf("invalid contact id: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM inbound_messages
		WHERE tenant_id = $1 AND contact_id = $2
		ORDER BY received_at DESC, id DESC LIMIT $3`, pgTenantID, pgContactID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	var pgID, pgTenantID, pgContactID pgtype.UUID
	var receivedAt, consolidatedAt pgtype.Timestamptz
	err := row.Scan(&pgID, &pgTenantID, &m.ExternalID, &pgContactID, &m.ChannelRef,
		&m.Direction, &m.Body, &m.MediaURL, &receivedAt, &consolidatedAt)
	if err != nil {
		return Message{}, err
	}
	m.ID = pgID.String()
	m.TenantID = pgTenantID.String()
	if pgContactID.Valid {
		m.ContactID = pgContactID.String()
	}
	m.ReceivedAt = receivedAt.Time
	if consolidatedAt.Valid {
		t := consolidatedAt.Time
		m.ConsolidatedAt = &t
	}
	return m, nil
}
