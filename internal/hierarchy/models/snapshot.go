package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable point-in-time view of one aggregate, shaped for
// external reporting. It holds no references into the live aggregate.
type Snapshot struct {
	Period         string          `json:"period"`
	Version        int64           `json:"version"`
	TakenAt        time.Time       `json:"taken_at"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	Utilization    decimal.Decimal `json:"utilization"`

	Departments []DepartmentSnapshot `json:"departments"`
}

// DepartmentSnapshot is one department with its projects.
type DepartmentSnapshot struct {
	Name             string            `json:"name"`
	Allocated        decimal.Decimal   `json:"allocated"`
	Spent            decimal.Decimal   `json:"spent"`
	Utilization      decimal.Decimal   `json:"utilization"`
	FlaggedForReview bool              `json:"flagged_for_review"`
	Projects         []ProjectSnapshot `json:"projects"`
}

// ProjectSnapshot is one project with its vendors.
type ProjectSnapshot struct {
	Name             string           `json:"name"`
	Allocated        decimal.Decimal  `json:"allocated"`
	Spent            decimal.Decimal  `json:"spent"`
	Utilization      decimal.Decimal  `json:"utilization"`
	FlaggedForReview bool             `json:"flagged_for_review"`
	Vendors          []VendorSnapshot `json:"vendors"`
}

// VendorSnapshot is one vendor leaf.
type VendorSnapshot struct {
	ID               string          `json:"id"`
	Identity         string          `json:"identity"`
	WalletRef        string          `json:"wallet_ref,omitempty"`
	Allocated        decimal.Decimal `json:"allocated"`
	Spent            decimal.Decimal `json:"spent"`
	Utilization      decimal.Decimal `json:"utilization"`
	Status           VendorStatus    `json:"status"`
	FlaggedForReview bool            `json:"flagged_for_review"`
}

// Snapshot derives the reporting view: totals at the root, then departments,
// projects, and vendors, each with utilization computed on the spot. Ordering
// is by name (identity for vendors) so output is stable.
func (h *Hierarchy) Snapshot(takenAt time.Time) Snapshot {
	snap := Snapshot{
		Period:         h.Period.String(),
		Version:        h.Version,
		TakenAt:        takenAt,
		TotalAllocated: h.TotalAllocated(),
		TotalSpent:     h.TotalSpent(),
	}
	snap.Utilization = Utilization(snap.TotalSpent, snap.TotalAllocated)

	projectsByDept := make(map[string][]ProjectSnapshot)
	vendorsByProject := make(map[string][]VendorSnapshot)

	for _, vendor := range h.Vendors {
		key := vendor.ProjectID.String()
		vendorsByProject[key] = append(vendorsByProject[key], VendorSnapshot{
			ID:               vendor.ID.String(),
			Identity:         vendor.Identity,
			WalletRef:        vendor.WalletRef,
			Allocated:        vendor.Allocated,
			Spent:            vendor.Spent,
			Utilization:      Utilization(vendor.Spent, vendor.Allocated),
			Status:           vendor.Status,
			FlaggedForReview: vendor.FlaggedForReview,
		})
	}
	for _, vendors := range vendorsByProject {
		sort.Slice(vendors, func(i, j int) bool { return vendors[i].Identity < vendors[j].Identity })
	}

	for _, project := range h.Projects {
		key := project.DepartmentID.String()
		projectsByDept[key] = append(projectsByDept[key], ProjectSnapshot{
			Name:             project.Name,
			Allocated:        project.Allocated,
			Spent:            project.Spent,
			Utilization:      Utilization(project.Spent, project.Allocated),
			FlaggedForReview: project.FlaggedForReview,
			Vendors:          vendorsByProject[project.ID.String()],
		})
	}
	for _, projects := range projectsByDept {
		sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	}

	for _, dept := range h.Departments {
		snap.Departments = append(snap.Departments, DepartmentSnapshot{
			Name:             dept.Name,
			Allocated:        dept.Allocated,
			Spent:            dept.Spent,
			Utilization:      Utilization(dept.Spent, dept.Allocated),
			FlaggedForReview: dept.FlaggedForReview,
			Projects:         projectsByDept[dept.ID.String()],
		})
	}
	sort.Slice(snap.Departments, func(i, j int) bool { return snap.Departments[i].Name < snap.Departments[j].Name })

	return snap
}
