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

	"fiscus/internal/request/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

const pgUniqueViolation = "23505"

// Postgres persists budget requests in the budget_requests table. The audit
// history rides along as a JSONB column; behavior never queries into it.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a postgres-backed request store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Schema returns the DDL for the request table. Applied by migrations in
// deployments and directly by integration tests.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS budget_requests (
	id            UUID PRIMARY KEY,
	requester     UUID NOT NULL,
	fiscal_period TEXT NOT NULL,
	department    TEXT NOT NULL,
	project       TEXT NOT NULL,
	category      TEXT NOT NULL DEFAULT '',
	amount        NUMERIC(20, 4) NOT NULL,
	currency      TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	priority      TEXT NOT NULL,
	required_by   TIMESTAMPTZ,
	state         TEXT NOT NULL,
	approver      UUID,
	vendor_id     UUID,
	vendor_name   TEXT NOT NULL DEFAULT '',
	allocated     NUMERIC(20, 4) NOT NULL DEFAULT 0,
	spent         NUMERIC(20, 4) NOT NULL DEFAULT 0,
	history       JSONB NOT NULL DEFAULT '[]',
	created_at    TIMESTAMPTZ NOT NULL,
	approved_at   TIMESTAMPTZ,
	allocated_at  TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_budget_requests_requester ON budget_requests (requester);
CREATE INDEX IF NOT EXISTS idx_budget_requests_period_state ON budget_requests (fiscal_period, state);
`
}

// Create inserts a new request. A duplicate ID surfaces as
// sentinel.ErrConflict.
func (s *Postgres) Create(ctx context.Context, r *models.BudgetRequest) error {
	err := s.insert(ctx, s.pool, r)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return sentinel.ErrConflict
	}
	return err
}

// FindByID returns the request with the given ID, or sentinel.ErrNotFound.
func (s *Postgres) FindByID(ctx context.Context, id domain.RequestID) (*models.BudgetRequest, error) {
	row := s.pool.QueryRow(ctx, selectRequests+` WHERE id = $1`, uuid.UUID(id))
	return scanRequest(row)
}

// Execute loads the request FOR UPDATE inside a transaction, applies mutate,
// and writes the result back. Row locking gives the same check-then-mutate
// atomicity the in-memory store gets from its mutex.
func (s *Postgres) Execute(ctx context.Context, id domain.RequestID, mutate func(*models.BudgetRequest) error) (*models.BudgetRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin request tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, selectRequests+` WHERE id = $1 FOR UPDATE`, uuid.UUID(id))
	r, err := scanRequest(row)
	if err != nil {
		return nil, err
	}

	if err := mutate(r); err != nil {
		return nil, err
	}

	if err := s.update(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit request tx: %w", err)
	}
	return r, nil
}

// List returns matching requests ordered by creation time, newest first.
func (s *Postgres) List(ctx context.Context, filter ListFilter) ([]*models.BudgetRequest, error) {
	query := selectRequests + ` WHERE 1=1`
	args := []any{}
	n := 0

	if !filter.Requester.IsNil() {
		n++
		query += fmt.Sprintf(" AND requester = $%d", n)
		args = append(args, uuid.UUID(filter.Requester))
	}
	if filter.FiscalPeriod != "" {
		n++
		query += fmt.Sprintf(" AND fiscal_period = $%d", n)
		args = append(args, string(filter.FiscalPeriod))
	}
	if filter.Department != "" {
		n++
		query += fmt.Sprintf(" AND department = $%d", n)
		args = append(args, filter.Department)
	}
	if filter.State != "" {
		n++
		query += fmt.Sprintf(" AND state = $%d", n)
		args = append(args, string(filter.State))
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list budget requests: %w", err)
	}
	defer rows.Close()

	var out []*models.BudgetRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Postgres) insert(ctx context.Context, db executor, r *models.BudgetRequest) error {
	history, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode request history: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO budget_requests
			(id, requester, fiscal_period, department, project, category,
			 amount, currency, description, priority, required_by, state,
			 approver, vendor_id, vendor_name, allocated, spent, history,
			 created_at, approved_at, allocated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		uuid.UUID(r.ID), uuid.UUID(r.Requester), string(r.FiscalPeriod),
		r.Department, r.Project, r.Category, r.Amount.String(), r.Currency,
		r.Description, string(r.Priority), nullTime(r.RequiredBy),
		string(r.State), nullUUID(uuid.UUID(r.Approver)),
		nullUUID(uuid.UUID(r.VendorID)), r.VendorIdentity,
		r.Allocated.String(), r.Spent.String(), history,
		r.CreatedAt.UTC(), r.ApprovedAt, r.AllocatedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert budget request: %w", err)
	}
	return nil
}

func (s *Postgres) update(ctx context.Context, db executor, r *models.BudgetRequest) error {
	history, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode request history: %w", err)
	}
	tag, err := db.Exec(ctx, `
		UPDATE budget_requests SET
			state = $2, approver = $3, vendor_id = $4, vendor_name = $5,
			allocated = $6, spent = $7, history = $8,
			approved_at = $9, allocated_at = $10, completed_at = $11
		WHERE id = $1`,
		uuid.UUID(r.ID), string(r.State), nullUUID(uuid.UUID(r.Approver)),
		nullUUID(uuid.UUID(r.VendorID)), r.VendorIdentity,
		r.Allocated.String(), r.Spent.String(), history,
		r.ApprovedAt, r.AllocatedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update budget request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectRequests = `
	SELECT id, requester, fiscal_period, department, project, category,
	       amount::text, currency, description, priority, required_by, state,
	       approver, vendor_id, vendor_name, allocated::text, spent::text,
	       history, created_at, approved_at, allocated_at, completed_at
	FROM budget_requests`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.BudgetRequest, error) {
	var (
		r          models.BudgetRequest
		id         uuid.UUID
		requester  uuid.UUID
		period     string
		amount     string
		priority   string
		requiredBy *time.Time
		state      string
		approver   *uuid.UUID
		vendorID   *uuid.UUID
		allocated  string
		spent      string
		history    []byte
		createdAt  time.Time
	)

	err := row.Scan(&id, &requester, &period, &r.Department, &r.Project,
		&r.Category, &amount, &r.Currency, &r.Description, &priority,
		&requiredBy, &state, &approver, &vendorID, &r.VendorIdentity,
		&allocated, &spent, &history, &createdAt,
		&r.ApprovedAt, &r.AllocatedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan budget request: %w", err)
	}

	r.ID = domain.RequestID(id)
	r.Requester = domain.ActorID(requester)
	r.FiscalPeriod = domain.FiscalPeriod(period)
	r.Priority = models.Priority(priority)
	r.State = models.State(state)
	r.CreatedAt = createdAt.UTC()
	if requiredBy != nil {
		r.RequiredBy = requiredBy.UTC()
	}
	if approver != nil {
		r.Approver = domain.ActorID(*approver)
	}
	if vendorID != nil {
		r.VendorID = domain.VendorID(*vendorID)
	}

	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse stored amount: %w", err)
	}
	if r.Allocated, err = decimal.NewFromString(allocated); err != nil {
		return nil, fmt.Errorf("parse stored allocation: %w", err)
	}
	if r.Spent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("parse stored spend: %w", err)
	}
	if err := json.Unmarshal(history, &r.History); err != nil {
		return nil, fmt.Errorf("decode request history: %w", err)
	}
	return &r, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}
