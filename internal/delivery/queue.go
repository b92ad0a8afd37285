package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tidwall/sjson"

	dbpkg "github.com/leadlineai/leadline/internal/db"
)

const deliveryColumns = `id, tenant_id, endpoint_id, event, payload, attempt, max_attempts, next_retry_at, created_at`

// claimLease keeps an in-flight row from being re-claimed by an overlapping
// worker tick. A crashed worker's rows come back after the lease.
const claimLease = 5 * time.Minute

// Queue persists outbound deliveries and their attempt audit trail.
type Queue struct {
	db          dbpkg.DBTX
	logger      *slog.Logger
	maxAttempts int
}

// NewQueue creates the delivery queue.
func NewQueue(log *slog.Logger, db dbpkg.DBTX, maxAttempts int) *Queue {
	if log == nil {
		log = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{
		db:          db,
		logger:      log.With(slog.String("service", "delivery")),
		maxAttempts: maxAttempts,
	}
}

// Enqueue stores a notification for asynchronous delivery and returns the
// delivery id. The body sent over the wire is `{event, timestamp, data}`.
func (q *Queue) Enqueue(ctx context.Context, tenantID, endpointID, event string, data any) (string, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return "", fmt.Errorf("invalid tenant id: %w", err)
	}
	pgEndpointID, err := dbpkg.ParseUUID(endpointID)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint id: %w", err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "event", event)
	body, _ = sjson.SetBytes(body, "timestamp", time.Now().UTC().Format(time.RFC3339))
	body, _ = sjson.SetRawBytes(body, "data", raw)

	id := uuid.Must(uuid.NewV7()).String()
	pgID, _ := dbpkg.ParseUUID(id)
	if _, err := q.db.Exec(ctx, `
		INSERT INTO outbound_deliveries (id, tenant_id, endpoint_id, event, payload, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pgID, pgTenantID, pgEndpointID, event, body, q.maxAttempts); err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	q.logger.Info("delivery enqueued",
		slog.String("delivery_id", id),
		slog.String("tenant_id", tenantID),
		slog.String("event", event),
	)
	return id, nil
}

// ClaimDue leases due deliveries for one worker pass. Claimed rows get a
// pushed-out next_retry_at so overlapping ticks skip them.
func (q *Queue) ClaimDue(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `
		UPDATE outbound_deliveries SET next_retry_at = now() + $2::interval
		WHERE id IN (
			SELECT id FROM outbound_deliveries
			WHERE next_retry_at <= now()
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns, limit, claimLease.String())
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	defer rows.Close()

	var due []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// RecordAttempt appends one audit row. Attempt rows are never mutated.
func (q *Queue) RecordAttempt(ctx context.Context, deliveryID string, attempt, statusCode int, snippet, errText string) error {
	pgID, err := dbpkg.ParseUUID(deliveryID)
	if err != nil {
		return fmt.Errorf("invalid delivery id: %w", err)
	}
	if len(snippet) > 512 {
		snippet = snippet[:512]
	}
	if _, err := q.db.Exec(ctx, `
		INSERT INTO delivery_attempt_logs (delivery_id, attempt, status_code, response_snippet, error)
		VALUES ($1, $2, $3, $4, $5)`, pgID, attempt, statusCode, snippet, errText); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Reschedule stores the incremented attempt count and the next retry time.
func (q *Queue) Reschedule(ctx context.Context, deliveryID string, attempt int, nextRetryAt time.Time) error {
	pgID, err := dbpkg.ParseUUID(deliveryID)
	if err != nil {
		return fmt.Errorf("invalid delivery id: %w", err)
	}
	if _, err := q.db.Exec(ctx, `
		UPDATE outbound_deliveries SET attempt = $2, next_retry_at = $3 WHERE id = $1`,
		pgID, attempt, nextRetryAt); err != nil {
		return fmt.Errorf("reschedule delivery: %w", err)
	}
	return nil
}

// Delete removes a delivery on terminal success or exhaustion.
func (q *Queue) Delete(ctx context.Context, deliveryID string) error {
	pgID, err := dbpkg.ParseUUID(deliveryID)
	if err != nil {
		return fmt.Errorf("invalid delivery id: %w", err)
	}
	if _, err := q.db.Exec(ctx, `DELETE FROM outbound_deliveries WHERE id = $1`, pgID); err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	return nil
}

// ListPending returns the tenant's queued deliveries for inspection.
func (q *Queue) ListPending(ctx context.Context, tenantID string) ([]Delivery, error) {
	pgTenantID, err := dbpkg.ParseUUID(tenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id: %w", err)
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+deliveryColumns+` FROM outbound_deliveries
		WHERE tenant_id = $1 ORDER BY created_at`, pgTenantID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pending []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		pending = append(pending, d)
	}
	return pending, rows.Err()
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var pgID, pgTenantID, pgEndpointID pgtype.UUID
	var nextRetryAt, createdAt pgtype.Timestamptz
	err := row.Scan(&pgID, &pgTenantID, &pgEndpointID, &d.Event, &d.Payload,
		&d.Attempt, &d.MaxAttempts, &nextRetryAt, &createdAt)
	if err != nil {
		return Delivery{}, err
	}
	d.ID = pgID.String()
	d.TenantID = pgTenantID.String()
	d.EndpointID = pgEndpointID.String()
	d.NextRetryAt = nextRetryAt.Time
	d.CreatedAt = createdAt.Time
	return d, nil
}
