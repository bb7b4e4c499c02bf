package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fiscus/internal/anchor"
	"fiscus/internal/ledger/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists ledger entries in the ledger_entries table. The unique
// index on fingerprint enforces idempotency at the database level; updates
// touch only verification_status and anchor_ref.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a postgres-backed ledger store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Schema returns the DDL for the ledger table. Applied by migrations in
// deployments and directly by integration tests.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id                  UUID PRIMARY KEY,
	fingerprint         TEXT NOT NULL UNIQUE,
	request_id          UUID NOT NULL,
	department          TEXT NOT NULL,
	project             TEXT NOT NULL DEFAULT '',
	vendor_id           UUID NOT NULL,
	amount              NUMERIC(20, 4) NOT NULL,
	kind                TEXT NOT NULL,
	actor               UUID NOT NULL,
	note                TEXT NOT NULL DEFAULT '',
	ts                  TIMESTAMPTZ NOT NULL,
	anomaly_score       INT NOT NULL DEFAULT 0,
	is_anomalous        BOOLEAN NOT NULL DEFAULT FALSE,
	verification_status TEXT NOT NULL DEFAULT 'pending',
	anchor_ref          JSONB
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_request ON ledger_entries (request_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_department ON ledger_entries (department);
`
}

// Append inserts a new entry. A duplicate fingerprint surfaces as
// sentinel.ErrConflict.
func (s *Postgres) Append(ctx context.Context, entry *models.Entry) error {
	var anchorRef []byte
	if entry.AnchorRef != nil {
		var err error
		anchorRef, err = json.Marshal(entry.AnchorRef)
		if err != nil {
			return fmt.Errorf("encode anchor ref: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries
			(id, fingerprint, request_id, department, project, vendor_id,
			 amount, kind, actor, note, ts, anomaly_score, is_anomalous,
			 verification_status, anchor_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		uuid.UUID(entry.ID), entry.Fingerprint, uuid.UUID(entry.RequestID),
		entry.Department, entry.Project, uuid.UUID(entry.VendorID),
		entry.Amount.String(), string(entry.Kind), uuid.UUID(entry.Actor),
		entry.Note, entry.Timestamp.UTC(), entry.AnomalyScore, entry.IsAnomalous,
		string(entry.VerificationStatus), anchorRef,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// FindByID returns the entry with the given ID, or sentinel.ErrNotFound.
func (s *Postgres) FindByID(ctx context.Context, id domain.EntryID) (*models.Entry, error) {
	row := s.pool.QueryRow(ctx, selectEntries+` WHERE id = $1`, uuid.UUID(id))
	return scanEntry(row)
}

// FindByFingerprint returns the entry with the given fingerprint, or
// sentinel.ErrNotFound.
func (s *Postgres) FindByFingerprint(ctx context.Context, fingerprint string) (*models.Entry, error) {
	row := s.pool.QueryRow(ctx, selectEntries+` WHERE fingerprint = $1`, fingerprint)
	return scanEntry(row)
}

// List returns matching entries ordered by timestamp then ID.
func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.Entry, error) {
	query := selectEntries + ` WHERE 1=1`
	args := []any{}
	n := 0

	if !filter.RequestID.IsNil() {
		n++
		query += fmt.Sprintf(" AND request_id = $%d", n)
		args = append(args, uuid.UUID(filter.RequestID))
	}
	if filter.Department != "" {
		n++
		query += fmt.Sprintf(" AND department = $%d", n)
		args = append(args, filter.Department)
	}
	if filter.Kind != "" {
		n++
		query += fmt.Sprintf(" AND kind = $%d", n)
		args = append(args, string(filter.Kind))
	}
	if filter.Anomalous {
		query += " AND is_anomalous"
	}
	query += " ORDER BY ts, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpdateVerification sets the verification status.
func (s *Postgres) UpdateVerification(ctx context.Context, id domain.EntryID, status models.VerificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_entries SET verification_status = $1 WHERE id = $2`,
		string(status), uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("update verification status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// SetAnchorRef attaches an anchor reference once.
func (s *Postgres) SetAnchorRef(ctx context.Context, id domain.EntryID, ref anchor.Ref) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode anchor ref: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_entries SET anchor_ref = $1 WHERE id = $2 AND anchor_ref IS NULL`,
		payload, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("set anchor ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the entry is missing or the ref was already set.
		if _, findErr := s.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

const selectEntries = `
	SELECT id, fingerprint, request_id, department, project, vendor_id,
	       amount::text, kind, actor, note, ts, anomaly_score, is_anomalous,
	       verification_status, anchor_ref
	FROM ledger_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.Entry, error) {
	var (
		entry     models.Entry
		id        uuid.UUID
		requestID uuid.UUID
		vendorID  uuid.UUID
		actor     uuid.UUID
		amount    string
		kind      string
		status    string
		ts        time.Time
		anchorRef []byte
	)

	err := row.Scan(&id, &entry.Fingerprint, &requestID, &entry.Department,
		&entry.Project, &vendorID, &amount, &kind, &actor, &entry.Note, &ts,
		&entry.AnomalyScore, &entry.IsAnomalous, &status, &anchorRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	entry.ID = domain.EntryID(id)
	entry.RequestID = domain.RequestID(requestID)
	entry.VendorID = domain.VendorID(vendorID)
	entry.Actor = domain.ActorID(actor)
	entry.Kind = models.EventKind(kind)
	entry.VerificationStatus = models.VerificationStatus(status)
	entry.Timestamp = ts.UTC()

	entry.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount: %w", err)
	}

	if len(anchorRef) > 0 {
		var ref anchor.Ref
		if err := json.Unmarshal(anchorRef, &ref); err != nil {
			return nil, fmt.Errorf("decode anchor ref: %w", err)
		}
		entry.AnchorRef = &ref
	}
	return &entry, nil
}
