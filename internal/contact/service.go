package contact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/leadlineai/leadline/internal/db"
)

const contactColumns = `id, tenant_id, display_name, phone_normalized, email_normalized,
	notes, automation_disabled, pipeline_stage, lead_score, created_at, updated_at`

// Service resolves raw identifiers to contact records.
type Service struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

// NewService creates a contact service.
func NewService(log *slog.Logger, db dbpkg.DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "contact")),
	}
}

// Resolve normalizes the raw identifier and finds or creates the matching
// contact. Malformed identifiers degrade to "no match": a fresh contact is
// created when allowCreate is set, otherwise ErrNoIdentifier is returned.
// Every resolution relinks orphaned inbound messages carrying the same raw
// identifier.
func (s *Service) Resolve(ctx context.Context, tenantID, countryCode string, raw RawIdentifier, allowCreate bool) (Contact, error) {
	phone := NormalizePhone(raw.Phone, countryCode)
	email := NormalizeEmail(raw.Email)
	name := strings.TrimSpace(raw.DisplayName)

	var byPhone, byEmail, byName *Contact
	var err error
	if phone != "" {
		if byPhone, err = s.findByPhone(ctx, tenantID, phone); err != nil {
			return Contact{}, err
		}
	}
	if email != "" {
		if byEmail, err = s.findByEmail(ctx, tenantID, email); err != nil {
			return Contact{}, err
		}
	}
	if byPhone == nil && byEmail == nil && name != "" {
		// Same normalized display name created today catches near-duplicate
		// manual entries.
		if byName, err = s.findByNameToday(ctx, tenantID, name); err != nil {
			return Contact{}, err
		}
	}

	resolved := byPhone
	if resolved == nil {
		resolved = byEmail
	} else if byEmail != nil && byEmail.ID != resolved.ID {
		// Phone and email hit different records: fold the email record into
		// the phone record.
		if err := s.Merge(ctx, tenantID, resolved.ID, byEmail.ID, "identifier collision"); err != nil {
			return Contact{}, err
		}
	}
	if resolved == nil {
		resolved = byName
	}

	if resolved != nil {
		updated, err := s.absorb(ctx, *resolved, name, phone, email)
		if err != nil {
			return Contact{}, err
		}
		if byName != nil && resolved == byName && updated != *resolved {
			if err := s.recordFallbackMatch(ctx, tenantID, updated.ID, name, phone, email); err != nil {
				return Contact{}, err
			}
		}
		s.linkOrphans(ctx, tenantID, raw, updated.ID)
		return updated, nil
	}

	if !allowCreate {
		return Contact{}, ErrNoIdentifier
	}
	created, err := s.create(ctx, tenantID, name, phone, email)
	if err != nil {
		return Contact{}, err
	}
	s.linkOrphans(ctx, tenantID, raw, created.ID)
	return created, nil
}

// Get loads a contact by id.
func (s *Service) Get(ctx context.Context, tenantID, id string) (Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid contact id: %w", err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id = $1 AND id = $2`, pgTenantID, pgID)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// SetPipelineStage updates the contact's pipeline stage.
func (s *Service) SetPipelineStage(ctx context.Context, tenantID, id, stage string) error {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE contacts SET pipeline_stage = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, pgTenantID, pgID, stage)
	if err != nil {
		return fmt.Errorf("set pipeline stage: %w", err)
	}
	return nil
}

// SetAutomationDisabled toggles automated handling for the contact.
func (s *Service) SetAutomationDisabled(ctx context.Context, tenantID, id string, disabled bool) error {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid contact id: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE contacts SET automation_disabled = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, pgTenantID, pgID, disabled)
	if err != nil {
		return fmt.Errorf("set automation disabled: %w", err)
	}
	return nil
}

// Merge folds loser into winner: fills empty winner fields, keeps the
// higher lead score, appends notes, marks the loser merged and writes a
// merge audit event. History is never deleted.
func (s *Service) Merge(ctx context.Context, tenantID, winnerID, loserID, reason string) error {
	winner, err := s.Get(ctx, tenantID, winnerID)
	if err != nil {
		return err
	}
	loser, err := s.Get(ctx, tenantID, loserID)
	if err != nil {
		return err
	}

	merged := winner
	merged.DisplayName = fillEmpty(winner.DisplayName, loser.DisplayName)
	merged.PhoneNormalized = fillEmpty(winner.PhoneNormalized, loser.PhoneNormalized)
	merged.EmailNormalized = fillEmpty(winner.EmailNormalized, loser.EmailNormalized)
	merged.Notes = appendNotes(winner.Notes, loser.Notes)
	if loser.LeadScore > merged.LeadScore {
		merged.LeadScore = loser.LeadScore
	}

	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	pgWinnerID, _ := dbpkg.ParseUUID(winner.ID)
	pgLoserID, _ := dbpkg.ParseUUID(loser.ID)

	// Loser identifiers are cleared before the winner takes them so the
	// partial unique indexes never collide mid-merge.
	if _, err := s.db.Exec(ctx, `
		UPDATE contacts SET phone_normalized = '', email_normalized = '', merged_into = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, pgTenantID, pgLoserID, pgWinnerID); err != nil {
		return fmt.Errorf("mark merged: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE contacts SET display_name = $3, phone_normalized = $4, email_normalized = $5,
			notes = $6, lead_score = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		pgTenantID, pgWinnerID, merged.DisplayName, merged.PhoneNormalized,
		merged.EmailNormalized, merged.Notes, merged.LeadScore); err != nil {
		return fmt.Errorf("apply merge: %w", err)
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE inbound_messages SET contact_id = $3 WHERE tenant_id = $1 AND contact_id = $2`,
		pgTenantID, pgLoserID, pgWinnerID); err != nil {
		return fmt.Errorf("reassign messages: %w", err)
	}

	loserFields, _ := json.Marshal(map[string]any{
		"id":           loser.ID,
		"display_name": loser.DisplayName,
		"phone":        loser.PhoneNormalized,
		"email":        loser.EmailNormalized,
		"lead_score":   loser.LeadScore,
	})
	if _, err := s.db.Exec(ctx, `
		INSERT INTO contact_merge_events (tenant_id, winner_id, loser_fields, reason)
		VALUES ($1, $2, $3, $4)`, pgTenantID, pgWinnerID, loserFields, reason); err != nil {
		return fmt.Errorf("record merge event: %w", err)
	}

	s.logger.Info("contacts merged",
		slog.String("tenant_id", tenantID),
		slog.String("winner_id", winner.ID),
		slog.String("loser_id", loser.ID),
		slog.String("reason", reason),
	)
	return nil
}

// UpdateDetails enriches a contact with details learned in conversation:
// empty fields are filled, notes are appended, nothing is overwritten.
func (s *Service) UpdateDetails(ctx context.Context, tenantID, id, name, email, notes string) error {
	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	updated := existing
	updated.DisplayName = fillEmpty(existing.DisplayName, name)
	updated.EmailNormalized = fillEmpty(existing.EmailNormalized, NormalizeEmail(email))
	updated.Notes = appendNotes(existing.Notes, notes)
	if updated == existing {
		return nil
	}

	pgTenantID, _ := dbpkg.ParseUUID(tenantID)
	pgID, _ := dbpkg.ParseUUID(id)
	if _, err := s.db.Exec(ctx, `
		UPDATE contacts SET display_name = $3, email_normalized = $4, notes = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		pgTenantID, pgID, updated.DisplayName, updated.EmailNormalized, updated.Notes); err != nil {
		return fmt.Errorf("update contact details: %w", err)
	}
	return nil
}

// recordFallbackMatch audits a heuristic match that changed a record. No
// second contact row exists, so the absorbed identifiers stand in for the
// loser fields.
func (s *Service) recordFallbackMatch(ctx context.Context, tenantID, winnerID, name, phone, email string) error {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return fmt.Errorf("invalid tenant id: %w", err)
	}
	pgWinnerID, _ := dbpkg.ParseUUID(winnerID)
	fields, _ := json.Marshal(map[string]any{
		"display_name": name,
		"phone":        phone,
		"email":        email,
	})
	if _, err := s.db.Exec(ctx, `
		INSERT INTO contact_merge_events (tenant_id, winner_id, loser_fields, reason)
		VALUES ($1, $2, $3, $4)`, pgTenantID, pgWinnerID, fields, "fallback match"); err != nil {
		return fmt.Errorf("record merge event: %w", err)
	}
	return nil
}

// absorb fills empty fields on an existing contact from fresh inbound data.
func (s *Service) absorb(ctx context.Context, existing Contact, name, phone, email string) (Contact, error) {
	updated := existing
	updated.DisplayName = fillEmpty(existing.DisplayName, name)
	updated.PhoneNormalized = fillEmpty(existing.PhoneNormalized, phone)
	updated.EmailNormalized = fillEmpty(existing.EmailNormalized, email)
	if updated == existing {
		return existing, nil
	}

	pgTenantID, err := dbpkg.ParseUUID(existing.TenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	pgID, _ := dbpkg.ParseUUID(existing.ID)
	if _, err := s.db.Exec(ctx, `
		UPDATE contacts SET display_name = $3, phone_normalized = $4, email_normalized = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		pgTenantID, pgID, updated.DisplayName, updated.PhoneNormalized, updated.EmailNormalized); err != nil {
		return Contact{}, fmt.Errorf("update contact: %w", err)
	}
	return updated, nil
}

func (s *Service) create(ctx context.Context, tenantID, name, phone, email string) (Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return Contact{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	id := uuid.Must(uuid.NewV7())
	pgID, _ := dbpkg.ParseUUID(id.String())
	row := s.db.QueryRow(ctx, `
		INSERT INTO contacts (id, tenant_id, display_name, phone_normalized, email_normalized)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+contactColumns, pgID, pgTenantID, name, phone, email)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, fmt.Errorf("create contact: %w", err)
	}
	s.logger.Info("contact created",
		slog.String("tenant_id", tenantID),
		slog.String("contact_id", c.ID),
	)
	return c, nil
}

func (s *Service) findByPhone(ctx context.Context, tenantID, phone string) (*Contact, error) {
	return s.findOne(ctx, `SELECT `+contactColumns+` FROM contacts
		WHERE tenant_id = $1 AND phone_normalized = $2 AND merged_into IS NULL`, tenantID, phone)
}

func (s *Service) findByEmail(ctx context.Context, tenantID, email string) (*Contact, error) {
	return s.findOne(ctx, `SELECT `+contactColumns+` FROM contacts
		WHERE tenant_id = $1 AND email_normalized = $2 AND merged_into IS NULL`, tenantID, email)
}

func (s *Service) findByNameToday(ctx context.Context, tenantID, name string) (*Contact, error) {
	// Stored names are collapsed the same way NormalizeName collapses the
	// input, or doubled spaces would never match.
	return s.findOne(ctx, `SELECT `+contactColumns+` FROM contacts
		WHERE tenant_id = $1 AND lower(regexp_replace(display_name, '\s+', ' ', 'g')) = $2 AND merged_into IS NULL
		AND created_at >= date_trunc('day', now())
		ORDER BY created_at DESC LIMIT 1`, tenantID, NormalizeName(name))
}

func (s *Service) findOne(ctx context.Context, sql, tenantID string, arg string) (*Contact, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	row := s.db.QueryRow(ctx, sql, pgTenantID, arg)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return &c, nil
}

// linkOrphans attaches stored messages with the same raw identifier but no
// contact to the resolved contact. Failures only log; resolution already
// succeeded.
func (s *Service) linkOrphans(ctx context.Context, tenantID string, raw RawIdentifier, contactID string) {
	ref := strings.TrimSpace(raw.ChannelRef())
	if ref == "" {
		return
	}
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return
	}
	pgContactID, err := dbpkg.ParseUUID(contactID)
	if err != nil {
		return
	}
	if _, err := s.db.Exec(ctx, `
		UPDATE inbound_messages SET contact_id = $3
		WHERE tenant_id = $1 AND channel_ref = $2 AND contact_id IS NULL`,
		pgTenantID, ref, pgContactID); err != nil {
		s.logger.Warn("link orphaned messages failed",
			slog.String("tenant_id", tenantID),
			slog.String("channel_ref", ref),
			slog.Any("error", err),
		)
	}
}

func fillEmpty(current, incoming string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return strings.TrimSpace(incoming)
}

func appendNotes(current, incoming string) string {
	current = strings.TrimSpace(current)
	incoming = strings.TrimSpace(incoming)
	switch {
	case incoming == "":
		return current
	case current == "":
		return incoming
	default:
		return current + "\n" + incoming
	}
}

func scanContact(row pgx.Row) (Contact, error) {
	var c Contact
	var pgID, pgTenantID pgtype.UUID
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&pgID, &pgTenantID, &c.DisplayName, &c.PhoneNormalized, &c.EmailNormalized,
		&c.Notes, &c.AutomationDisabled, &c.PipelineStage, &c.LeadScore, &createdAt, &updatedAt)
	if err != nil {
		return Contact{}, err
	}
	c.ID = pgID.String()
	c.TenantID = pgTenantID.String()
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}
