// Package models defines the allocation hierarchy aggregate: the
// budget → department → project → vendor tree for one fiscal period.
//
// Nodes live in flat maps keyed by synthetic IDs with parent back-references
// rather than nested slices, so lookups never depend on positional indexes
// and snapshots are cheap deep copies. The aggregate is one consistency
// boundary; all mutations go through the service, which serializes them with
// an optimistic version check.
package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
)

// VendorStatus reflects a vendor node's progress through its allocation.
type VendorStatus string

const (
	VendorStatusAllocated  VendorStatus = "allocated"
	VendorStatusInProgress VendorStatus = "in-progress"
	VendorStatusCompleted  VendorStatus = "completed"
)

// reviewRatio is the soft over-spend boundary: spend beyond 150% of the
// allocation is flagged for review, never rejected, because post-hoc expense
// recognition can legitimately lag allocation updates.
var reviewRatio = decimal.NewFromFloat(1.5)

// DepartmentNode aggregates allocations and spend for one department.
type DepartmentNode struct {
	ID               domain.DepartmentID
	Name             string
	Allocated        decimal.Decimal
	Spent            decimal.Decimal
	FlaggedForReview bool
}

// ProjectNode aggregates allocations and spend for one project within a
// department.
type ProjectNode struct {
	ID               domain.ProjectID
	DepartmentID     domain.DepartmentID
	Name             string
	Allocated        decimal.Decimal
	Spent            decimal.Decimal
	FlaggedForReview bool
}

// VendorNode is a leaf: funds allocated to one vendor under a project.
type VendorNode struct {
	ID               domain.VendorID
	ProjectID        domain.ProjectID
	Identity         string
	WalletRef        string
	AnchorRef        string
	Allocated        decimal.Decimal
	Spent            decimal.Decimal
	Status           VendorStatus
	FlaggedForReview bool
}

// Hierarchy is the aggregate for one fiscal period. Root totals are always
// derived from department nodes, never stored independently, so they cannot
// drift.
type Hierarchy struct {
	Period      domain.FiscalPeriod
	Version     int64
	Departments map[domain.DepartmentID]*DepartmentNode
	Projects    map[domain.ProjectID]*ProjectNode
	Vendors     map[domain.VendorID]*VendorNode
}

// New creates an empty aggregate for the period.
func New(period domain.FiscalPeriod) *Hierarchy {
	return &Hierarchy{
		Period:      period,
		Departments: make(map[domain.DepartmentID]*DepartmentNode),
		Projects:    make(map[domain.ProjectID]*ProjectNode),
		Vendors:     make(map[domain.VendorID]*VendorNode),
	}
}

// FindDepartment looks a department up by name (case-insensitive).
func (h *Hierarchy) FindDepartment(name string) (*DepartmentNode, bool) {
	for _, dept := range h.Departments {
		if strings.EqualFold(dept.Name, name) {
			return dept, true
		}
	}
	return nil, false
}

// FindProject looks a project up by name within a department.
func (h *Hierarchy) FindProject(deptID domain.DepartmentID, name string) (*ProjectNode, bool) {
	for _, project := range h.Projects {
		if project.DepartmentID == deptID && strings.EqualFold(project.Name, name) {
			return project, true
		}
	}
	return nil, false
}

// FindVendorByIdentity looks a vendor up by external identity within a project.
func (h *Hierarchy) FindVendorByIdentity(projectID domain.ProjectID, identity string) (*VendorNode, bool) {
	for _, vendor := range h.Vendors {
		if vendor.ProjectID == projectID && vendor.Identity == identity {
			return vendor, true
		}
	}
	return nil, false
}

// EnsureDepartment finds or creates a department node, accumulating the
// allocation onto an existing node rather than overwriting it.
func (h *Hierarchy) EnsureDepartment(name string, allocated decimal.Decimal) (*DepartmentNode, error) {
	if strings.TrimSpace(name) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "department name is required")
	}
	if allocated.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "allocation must not be negative")
	}

	if dept, ok := h.FindDepartment(name); ok {
		dept.Allocated = dept.Allocated.Add(allocated)
		return dept, nil
	}

	dept := &DepartmentNode{
		ID:        domain.DepartmentID(uuid.New()),
		Name:      name,
		Allocated: allocated,
		Spent:     decimal.Zero,
	}
	h.Departments[dept.ID] = dept
	return dept, nil
}

// EnsureProject finds or creates a project node under an existing department,
// with the same accumulative semantics. The department must already exist;
// this is a lookup of the parent, not creation.
func (h *Hierarchy) EnsureProject(departmentName, name string, allocated decimal.Decimal) (*ProjectNode, error) {
	if strings.TrimSpace(name) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "project name is required")
	}
	if allocated.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "allocation must not be negative")
	}

	dept, ok := h.FindDepartment(departmentName)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "department %q not found in period %s", departmentName, h.Period)
	}

	if project, ok := h.FindProject(dept.ID, name); ok {
		project.Allocated = project.Allocated.Add(allocated)
		return project, nil
	}

	project := &ProjectNode{
		ID:           domain.ProjectID(uuid.New()),
		DepartmentID: dept.ID,
		Name:         name,
		Allocated:    allocated,
		Spent:        decimal.Zero,
	}
	h.Projects[project.ID] = project
	return project, nil
}

// EnsureVendor finds or creates a vendor node under an existing project.
// New nodes start in status allocated.
func (h *Hierarchy) EnsureVendor(projectID domain.ProjectID, identity string, allocated decimal.Decimal, walletRef string) (*VendorNode, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "vendor identity is required")
	}
	if allocated.IsNegative() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "allocation must not be negative")
	}
	if _, ok := h.Projects[projectID]; !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "project %s not found in period %s", projectID, h.Period)
	}

	if vendor, ok := h.FindVendorByIdentity(projectID, identity); ok {
		vendor.Allocated = vendor.Allocated.Add(allocated)
		return vendor, nil
	}

	vendor := &VendorNode{
		ID:        domain.VendorID(uuid.New()),
		ProjectID: projectID,
		Identity:  identity,
		WalletRef: walletRef,
		Allocated: allocated,
		Spent:     decimal.Zero,
		Status:    VendorStatusAllocated,
	}
	h.Vendors[vendor.ID] = vendor
	return vendor, nil
}

// RecordSpend propagates the amount to the vendor, its project, and its
// department, re-deriving review flags at each level. Over-spend is
// warn-only: nothing is rejected here.
func (h *Hierarchy) RecordSpend(vendorID domain.VendorID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return dErrors.New(dErrors.CodeInvalidInput, "spend amount must be positive")
	}
	return h.applySpend(vendorID, amount)
}

// ReverseSpend backs a previously recorded spend out of all three levels.
// Used only for compensation when a downstream ledger append fails.
func (h *Hierarchy) ReverseSpend(vendorID domain.VendorID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return dErrors.New(dErrors.CodeInvalidInput, "reversal amount must be positive")
	}
	return h.applySpend(vendorID, amount.Neg())
}

func (h *Hierarchy) applySpend(vendorID domain.VendorID, amount decimal.Decimal) error {
	vendor, ok := h.Vendors[vendorID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "vendor %s not found in period %s", vendorID, h.Period)
	}
	project, ok := h.Projects[vendor.ProjectID]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "vendor %s references missing project", vendorID)
	}
	dept, ok := h.Departments[project.DepartmentID]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "project %s references missing department", project.ID)
	}

	vendor.Spent = vendor.Spent.Add(amount)
	project.Spent = project.Spent.Add(amount)
	dept.Spent = dept.Spent.Add(amount)

	if vendor.Status == VendorStatusAllocated && vendor.Spent.IsPositive() {
		vendor.Status = VendorStatusInProgress
	}

	vendor.FlaggedForReview = overReviewRatio(vendor.Spent, vendor.Allocated)
	project.FlaggedForReview = overReviewRatio(project.Spent, project.Allocated)
	dept.FlaggedForReview = overReviewRatio(dept.Spent, dept.Allocated)
	return nil
}

// ReleaseAllocation returns reserved funds from a project and its department,
// e.g. when an approved request is cancelled before any vendor is bound.
func (h *Hierarchy) ReleaseAllocation(departmentName, projectName string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return dErrors.New(dErrors.CodeInvalidInput, "release amount must be positive")
	}
	dept, ok := h.FindDepartment(departmentName)
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "department %q not found in period %s", departmentName, h.Period)
	}
	project, ok := h.FindProject(dept.ID, projectName)
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "project %q not found in period %s", projectName, h.Period)
	}
	if amount.GreaterThan(project.Allocated) || amount.GreaterThan(dept.Allocated) {
		return dErrors.New(dErrors.CodeInvalidInput, "release exceeds the reserved allocation")
	}

	project.Allocated = project.Allocated.Sub(amount)
	dept.Allocated = dept.Allocated.Sub(amount)
	return nil
}

// ReverseVendorAllocation backs an allocation out of a vendor node, removing
// the node entirely when nothing remains on it. Used only for compensation
// when a downstream step of an allocation fails.
func (h *Hierarchy) ReverseVendorAllocation(vendorID domain.VendorID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return dErrors.New(dErrors.CodeInvalidInput, "reversal amount must be positive")
	}
	vendor, ok := h.Vendors[vendorID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "vendor %s not found in period %s", vendorID, h.Period)
	}
	if amount.GreaterThan(vendor.Allocated) {
		return dErrors.New(dErrors.CodeInvalidInput, "reversal exceeds the vendor allocation")
	}

	vendor.Allocated = vendor.Allocated.Sub(amount)
	if vendor.Allocated.IsZero() && vendor.Spent.IsZero() {
		h.RemoveVendor(vendorID)
	}
	return nil
}

// MarkVendorCompleted sets the vendor status once its allocation is fully
// released.
func (h *Hierarchy) MarkVendorCompleted(vendorID domain.VendorID) error {
	vendor, ok := h.Vendors[vendorID]
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "vendor %s not found in period %s", vendorID, h.Period)
	}
	vendor.Status = VendorStatusCompleted
	return nil
}

// RemoveVendor deletes a vendor node. Used only for compensation of a
// just-created node; established nodes are never removed.
func (h *Hierarchy) RemoveVendor(vendorID domain.VendorID) {
	delete(h.Vendors, vendorID)
}

// TotalAllocated derives the root allocation total.
func (h *Hierarchy) TotalAllocated() decimal.Decimal {
	total := decimal.Zero
	for _, dept := range h.Departments {
		total = total.Add(dept.Allocated)
	}
	return total
}

// TotalSpent derives the root spend total.
func (h *Hierarchy) TotalSpent() decimal.Decimal {
	total := decimal.Zero
	for _, dept := range h.Departments {
		total = total.Add(dept.Spent)
	}
	return total
}

// Clone deep-copies the aggregate so stores never share mutable state with
// callers.
func (h *Hierarchy) Clone() *Hierarchy {
	out := New(h.Period)
	out.Version = h.Version
	for id, dept := range h.Departments {
		copied := *dept
		out.Departments[id] = &copied
	}
	for id, project := range h.Projects {
		copied := *project
		out.Projects[id] = &copied
	}
	for id, vendor := range h.Vendors {
		copied := *vendor
		out.Vendors[id] = &copied
	}
	return out
}

// Utilization computes spent/allocated*100 rounded to two decimals, zero
// when nothing is allocated.
func Utilization(spent, allocated decimal.Decimal) decimal.Decimal {
	if allocated.IsZero() {
		return decimal.Zero
	}
	return spent.Div(allocated).Mul(decimal.NewFromInt(100)).Round(2)
}

func overReviewRatio(spent, allocated decimal.Decimal) bool {
	if allocated.IsZero() {
		return spent.IsPositive()
	}
	return spent.GreaterThan(allocated.Mul(reviewRatio))
}
