package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fiscus/internal/hierarchy/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

// Postgres stores each aggregate as a JSONB document with a version column.
// The conditional UPDATE on version is the optimistic concurrency check; the
// database serializes competing writers.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a postgres-backed aggregate store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Schema returns the DDL for the aggregate table.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS hierarchy_aggregates (
	period  TEXT PRIMARY KEY,
	version BIGINT NOT NULL,
	doc     JSONB NOT NULL
);
`
}

// Load returns the period's aggregate, or sentinel.ErrNotFound.
func (s *Postgres) Load(ctx context.Context, period domain.FiscalPeriod) (*models.Hierarchy, error) {
	var (
		version int64
		doc     []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, doc FROM hierarchy_aggregates WHERE period = $1`,
		period.String()).Scan(&version, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load hierarchy aggregate: %w", err)
	}

	h, err := decodeAggregate(period, doc)
	if err != nil {
		return nil, err
	}
	h.Version = version
	return h, nil
}

// Save persists the aggregate when the stored version still matches
// expectedVersion, then bumps the version.
func (s *Postgres) Save(ctx context.Context, h *models.Hierarchy, expectedVersion int64) error {
	doc, err := encodeAggregate(h)
	if err != nil {
		return err
	}
	newVersion := expectedVersion + 1

	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO hierarchy_aggregates (period, version, doc) VALUES ($1, $2, $3)
			 ON CONFLICT (period) DO NOTHING`,
			h.Period.String(), newVersion, doc)
		if err != nil {
			return fmt.Errorf("insert hierarchy aggregate: %w", err)
		}
		// DO NOTHING swallows the conflict: zero rows affected means another
		// writer created the period first and this document was not written.
		if tag.RowsAffected() == 0 {
			return sentinel.ErrVersionMismatch
		}
		h.Version = newVersion
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE hierarchy_aggregates SET version = $1, doc = $2
		 WHERE period = $3 AND version = $4`,
		newVersion, doc, h.Period.String(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update hierarchy aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrVersionMismatch
	}
	h.Version = newVersion
	return nil
}

// Wire document types. Typed UUID map keys don't round-trip through JSON, so
// the document flattens nodes into lists with string IDs.
type aggregateDoc struct {
	Departments []departmentDoc `json:"departments"`
	Projects    []projectDoc    `json:"projects"`
	Vendors     []vendorDoc     `json:"vendors"`
}

type departmentDoc struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Allocated decimal.Decimal `json:"allocated"`
	Spent     decimal.Decimal `json:"spent"`
	Flagged   bool            `json:"flagged"`
}

type projectDoc struct {
	ID           string          `json:"id"`
	DepartmentID string          `json:"department_id"`
	Name         string          `json:"name"`
	Allocated    decimal.Decimal `json:"allocated"`
	Spent        decimal.Decimal `json:"spent"`
	Flagged      bool            `json:"flagged"`
}

type vendorDoc struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Identity  string          `json:"identity"`
	WalletRef string          `json:"wallet_ref"`
	AnchorRef string          `json:"anchor_ref,omitempty"`
	Allocated decimal.Decimal `json:"allocated"`
	Spent     decimal.Decimal `json:"spent"`
	Status    string          `json:"status"`
	Flagged   bool            `json:"flagged"`
}

func encodeAggregate(h *models.Hierarchy) ([]byte, error) {
	doc := aggregateDoc{}
	for _, dept := range h.Departments {
		doc.Departments = append(doc.Departments, departmentDoc{
			ID: dept.ID.String(), Name: dept.Name,
			Allocated: dept.Allocated, Spent: dept.Spent, Flagged: dept.FlaggedForReview,
		})
	}
	for _, project := range h.Projects {
		doc.Projects = append(doc.Projects, projectDoc{
			ID: project.ID.String(), DepartmentID: project.DepartmentID.String(), Name: project.Name,
			Allocated: project.Allocated, Spent: project.Spent, Flagged: project.FlaggedForReview,
		})
	}
	for _, vendor := range h.Vendors {
		doc.Vendors = append(doc.Vendors, vendorDoc{
			ID: vendor.ID.String(), ProjectID: vendor.ProjectID.String(),
			Identity: vendor.Identity, WalletRef: vendor.WalletRef, AnchorRef: vendor.AnchorRef,
			Allocated: vendor.Allocated, Spent: vendor.Spent,
			Status: string(vendor.Status), Flagged: vendor.FlaggedForReview,
		})
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode hierarchy aggregate: %w", err)
	}
	return raw, nil
}

func decodeAggregate(period domain.FiscalPeriod, raw []byte) (*models.Hierarchy, error) {
	var doc aggregateDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode hierarchy aggregate: %w", err)
	}

	h := models.New(period)
	for _, d := range doc.Departments {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("parse department id: %w", err)
		}
		h.Departments[domain.DepartmentID(id)] = &models.DepartmentNode{
			ID: domain.DepartmentID(id), Name: d.Name,
			Allocated: d.Allocated, Spent: d.Spent, FlaggedForReview: d.Flagged,
		}
	}
	for _, p := range doc.Projects {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("parse project id: %w", err)
		}
		deptID, err := uuid.Parse(p.DepartmentID)
		if err != nil {
			return nil, fmt.Errorf("parse project department id: %w", err)
		}
		h.Projects[domain.ProjectID(id)] = &models.ProjectNode{
			ID: domain.ProjectID(id), DepartmentID: domain.DepartmentID(deptID), Name: p.Name,
			Allocated: p.Allocated, Spent: p.Spent, FlaggedForReview: p.Flagged,
		}
	}
	for _, v := range doc.Vendors {
		id, err := uuid.Parse(v.ID)
		if err != nil {
			return nil, fmt.Errorf("parse vendor id: %w", err)
		}
		projectID, err := uuid.Parse(v.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("parse vendor project id: %w", err)
		}
		h.Vendors[domain.VendorID(id)] = &models.VendorNode{
			ID: domain.VendorID(id), ProjectID: domain.ProjectID(projectID),
			Identity: v.Identity, WalletRef: v.WalletRef, AnchorRef: v.AnchorRef,
			Allocated: v.Allocated, Spent: v.Spent,
			Status: models.VendorStatus(v.Status), FlaggedForReview: v.Flagged,
		}
	}
	return h, nil
}
