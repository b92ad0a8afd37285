package message

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeDBTX struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL      []string
}

func (d *fakeDBTX) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.execSQL = append(d.execSQL, sql)
	return pgconn.CommandTag{}, nil
}

func (d *fakeDBTX) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (d *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if d.queryRowFunc != nil {
		return d.queryRowFunc(ctx, sql, args...)
	}
	return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func mustParseUUID(s string) pgtype.UUID {
	var u pgtype.UUID
	_ = u.Scan(s)
	return u
}

func makeMessageRow(externalID, body string) *fakeRow {
	return &fakeRow{
		scanFunc: func(dest ...any) error {
			if len(dest) < 10 {
				return pgx.ErrNoRows
			}
			*dest[0].(*pgtype.UUID) = mustParseUUID("00000000-0000-0000-0000-00000000000a")
			*dest[1].(*pgtype.UUID) = mustParseUUID("00000000-0000-0000-0000-000000000001")
			*dest[2].(*string) = externalID
			*dest[3].(*pgtype.UUID) = mustParseUUID("00000000-0000-0000-0000-000000000002")
			*dest[4].(*string) = "+491712345678"
			*dest[5].(*string) = DirectionIn
			*dest[6].(*string) = body
			*dest[7].(*string) = ""
			*dest[8].(*pgtype.Timestamptz) = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			*dest[9].(*pgtype.Timestamptz) = pgtype.Timestamptz{}
			return nil
		},
	}
}

const (
	testTenantID  = "00000000-0000-0000-0000-000000000001"
	testContactID = "00000000-0000-0000-0000-000000000002"
)

func TestRecordInboundStoresMessage(t *testing.T) {
	db := &fakeDBTX{
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			if strings.Contains(sql, "INSERT INTO inbound_messages") {
				return makeMessageRow("ext-1", "hello")
			}
			return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	svc := NewService(nil, db)

	m, created, err := svc.RecordInbound(context.Background(), Message{
		TenantID: testTenantID, ContactID: testContactID, ExternalID: "ext-1", Body: "hello",
	})
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if m.Body != "hello" {
		t.Errorf("body = %q", m.Body)
	}
}

func TestRecordInboundDuplicateReturnsExisting(t *testing.T) {
	db := &fakeDBTX{
		queryRowFunc: func(_ context.Context, sql string, _ ...any) pgx.Row {
			if strings.Contains(sql, "INSERT INTO inbound_messages") {
				// ON CONFLICT DO NOTHING yields no row.
				return &fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
			}
			return makeMessageRow("ext-1", "hello")
		},
	}
	svc := NewService(nil, db)

	m, created, err := svc.RecordInbound(context.Background(), Message{
		TenantID: testTenantID, ContactID: testContactID, ExternalID: "ext-1", Body: "hello again",
	})
	if err != nil {
		t.Fatalf("RecordInbound: %v", err)
	}
	if created {
		t.Error("expected created=false for duplicate external id")
	}
	if m.Body != "hello" {
		t.Errorf("expected stored body, got %q", m.Body)
	}
}

func TestMarkConsolidatedEmptyIsNoop(t *testing.T) {
	db := &fakeDBTX{}
	svc := NewService(nil, db)
	if err := svc.MarkConsolidated(context.Background(), nil); err != nil {
		t.Fatalf("MarkConsolidated: %v", err)
	}
	if len(db.execSQL) != 0 {
		t.Error("expected no statement for empty id list")
	}
}
