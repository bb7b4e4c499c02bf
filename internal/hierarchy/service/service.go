// Package service owns the allocation hierarchy aggregates: it serializes
// mutations per fiscal period through an optimistic version check and
// produces immutable snapshots for reads.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"fiscus/internal/hierarchy/models"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
	"fiscus/pkg/requestcontext"
)

// Store is the aggregate persistence contract. Load returns a consistent
// deep copy; Save applies an optimistic version check.
type Store interface {
	Load(ctx context.Context, period domain.FiscalPeriod) (*models.Hierarchy, error)
	Save(ctx context.Context, h *models.Hierarchy, expectedVersion int64) error
}

// Service mediates access to hierarchy aggregates.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New constructs the hierarchy service.
func New(store Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("hierarchy store is required")
	}
	return &Service{store: store, logger: logger}, nil
}

// Update loads (or lazily creates) the period's aggregate, applies fn, and
// saves with the version observed at load. A concurrent writer surfaces as
// CodeContention; callers with retry budgets re-invoke. fn must confine its
// effects to the passed aggregate.
func (s *Service) Update(ctx context.Context, period domain.FiscalPeriod, fn func(*models.Hierarchy) error) (*models.Hierarchy, error) {
	h, err := s.store.Load(ctx, period)
	if errors.Is(err, sentinel.ErrNotFound) {
		h = models.New(period)
	} else if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load hierarchy aggregate")
	}

	expected := h.Version
	if err := fn(h); err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, h, expected); err != nil {
		if errors.Is(err, sentinel.ErrVersionMismatch) {
			return nil, dErrors.Newf(dErrors.CodeContention, "hierarchy for period %s was modified concurrently", period)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save hierarchy aggregate")
	}
	return h, nil
}

// EnsureDepartment finds or creates the department, accumulating the
// allocation.
func (s *Service) EnsureDepartment(ctx context.Context, period domain.FiscalPeriod, name string, allocated decimal.Decimal) (*models.DepartmentNode, error) {
	var dept *models.DepartmentNode
	_, err := s.Update(ctx, period, func(h *models.Hierarchy) error {
		var err error
		dept, err = h.EnsureDepartment(name, allocated)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dept, nil
}

// EnsureProject finds or creates the project under an existing department.
func (s *Service) EnsureProject(ctx context.Context, period domain.FiscalPeriod, departmentName, name string, allocated decimal.Decimal) (*models.ProjectNode, error) {
	var project *models.ProjectNode
	_, err := s.Update(ctx, period, func(h *models.Hierarchy) error {
		var err error
		project, err = h.EnsureProject(departmentName, name, allocated)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// EnsureVendor finds or creates the vendor under an existing project.
func (s *Service) EnsureVendor(ctx context.Context, period domain.FiscalPeriod, departmentName, projectName, identity string, allocated decimal.Decimal, walletRef string) (*models.VendorNode, error) {
	var vendor *models.VendorNode
	_, err := s.Update(ctx, period, func(h *models.Hierarchy) error {
		dept, ok := h.FindDepartment(departmentName)
		if !ok {
			return dErrors.Newf(dErrors.CodeNotFound, "department %q not found in period %s", departmentName, period)
		}
		project, ok := h.FindProject(dept.ID, projectName)
		if !ok {
			return dErrors.Newf(dErrors.CodeNotFound, "project %q not found in period %s", projectName, period)
		}
		var err error
		vendor, err = h.EnsureVendor(project.ID, identity, allocated, walletRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vendor, nil
}

// RecordSpend propagates a spend through vendor, project, and department.
// Over-spend is warn-only: it logs and flags, never rejects.
func (s *Service) RecordSpend(ctx context.Context, period domain.FiscalPeriod, vendorID domain.VendorID, amount decimal.Decimal) error {
	h, err := s.Update(ctx, period, func(h *models.Hierarchy) error {
		return h.RecordSpend(vendorID, amount)
	})
	if err != nil {
		return err
	}

	if vendor, ok := h.Vendors[vendorID]; ok && vendor.Spent.GreaterThan(vendor.Allocated) && s.logger != nil {
		s.logger.WarnContext(ctx, "vendor spend exceeds allocation",
			"period", period,
			"vendor", vendor.Identity,
			"spent", vendor.Spent,
			"allocated", vendor.Allocated,
			"flagged_for_review", vendor.FlaggedForReview,
		)
	}
	return nil
}

// Snapshot returns an immutable point-in-time view without taking the write
// path: the store hands back a consistent copy and the snapshot derives all
// metrics from it.
func (s *Service) Snapshot(ctx context.Context, period domain.FiscalPeriod) (models.Snapshot, error) {
	h, err := s.store.Load(ctx, period)
	if errors.Is(err, sentinel.ErrNotFound) {
		return models.Snapshot{}, dErrors.Newf(dErrors.CodeNotFound, "no hierarchy for period %s", period)
	}
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "load hierarchy aggregate")
	}
	return h.Snapshot(requestcontext.Now(ctx)), nil
}
