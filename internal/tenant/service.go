package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/crypto/bcrypt"

	dbpkg "github.com/leadlineai/leadline/internal/db"
)

// Service reads and writes tenant state.
type Service struct {
	db     dbpkg.DBTX
	logger *slog.Logger
}

// NewService creates a tenant service.
func NewService(log *slog.Logger, db dbpkg.DBTX) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:     db,
		logger: log.With(slog.String("service", "tenant")),
	}
}

// Get loads a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Tenant{}, fmt.Errorf("invalid tenant id: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, name, subscription_active, country_code, quiet_period_seconds, capabilities, created_at
		FROM tenants WHERE id = $1`, pgID)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

// Authenticate verifies a tenant static API key against its bcrypt hash.
// Optionally requires an active subscription.
func (s *Service) Authenticate(ctx context.Context, id, apiKey string, requireSubscription bool) (Tenant, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Tenant{}, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, name, subscription_active, country_code, quiet_period_seconds, capabilities, created_at, api_key_hash
		FROM tenants WHERE id = $1`, pgID)
	t, hash, err := scanTenantWithHash(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(apiKey))) != nil {
		return Tenant{}, ErrBadAPIKey
	}
	if requireSubscription && !t.SubscriptionActive {
		return Tenant{}, ErrSubscriptionInactive
	}
	return t, nil
}

// ListEndpoints returns the tenant's active webhook endpoints.
func (s *Service) ListEndpoints(ctx context.Context, tenantID string) ([]Endpoint, error) {
	pgID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, url, secret, method, events, custom_headers, active
		FROM webhook_endpoints WHERE tenant_id = $1 AND active`, pgID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// GetEndpoint loads a webhook endpoint by id.
func (s *Service) GetEndpoint(ctx context.Context, id string) (Endpoint, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint id: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, url, secret, method, events, custom_headers, active
		FROM webhook_endpoints WHERE id = $1`, pgID)
	ep, err := scanEndpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Endpoint{}, ErrNotFound
		}
		return Endpoint{}, fmt.Errorf("get endpoint: %w", err)
	}
	return ep, nil
}

// GetOperator loads an active operator account by username.
func (s *Service) GetOperator(ctx context.Context, username string) (Operator, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, username, password_hash, is_active
		FROM operators WHERE username = $1 AND is_active`, strings.TrimSpace(username))
	var op Operator
	var pgID pgtype.UUID
	if err := row.Scan(&pgID, &op.Username, &op.PasswordHash, &op.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operator{}, ErrNotFound
		}
		return Operator{}, fmt.Errorf("get operator: %w", err)
	}
	op.ID = pgID.String()
	return op, nil
}

// CountOperators reports how many operator accounts exist.
func (s *Service) CountOperators(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return count, nil
}

// CreateOperator inserts an operator account with a bcrypt password hash.
func (s *Service) CreateOperator(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return fmt.Errorf("operator username/password required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO operators (username, password_hash, is_active) VALUES ($1, $2, TRUE)`,
		username, string(hashed)); err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	s.logger.Info("operator created", slog.String("username", username))
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTenant(row scannable) (Tenant, error) {
	var t Tenant
	var pgID pgtype.UUID
	var caps []byte
	var createdAt pgtype.Timestamptz
	err := row.Scan(&pgID, &t.Name, &t.SubscriptionActive, &t.CountryCode, &t.QuietPeriodSeconds, &caps, &createdAt)
	if err != nil {
		return Tenant{}, err
	}
	t.ID = pgID.String()
	t.CreatedAt = createdAt.Time
	if len(caps) > 0 {
		_ = json.Unmarshal(caps, &t.Capabilities)
	}
	return t, nil
}

func scanTenantWithHash(row scannable) (Tenant, string, error) {
	var t Tenant
	var pgID pgtype.UUID
	var caps []byte
	var createdAt pgtype.Timestamptz
	var hash string
	err := row.Scan(&pgID, &t.Name, &t.SubscriptionActive, &t.CountryCode, &t.QuietPeriodSeconds, &caps, &createdAt, &hash)
	if err != nil {
		return Tenant{}, "", err
	}
	t.ID = pgID.String()
	t.CreatedAt = createdAt.Time
	if len(caps) > 0 {
		_ = json.Unmarshal(caps, &t.Capabilities)
	}
	return t, hash, nil
}

func scanEndpoint(row scannable) (Endpoint, error) {
	var ep Endpoint
	var pgID, pgTenantID pgtype.UUID
	var headers []byte
	err := row.Scan(&pgID, &pgTenantID, &ep.URL, &ep.Secret, &ep.Method, &ep.Events, &headers, &ep.Active)
	if err != nil {
		return Endpoint{}, err
	}
	ep.ID = pgID.String()
	ep.TenantID = pgTenantID.String()
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &ep.CustomHeaders)
	}
	return ep, nil
}
