package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
)

type HierarchySuite struct {
	suite.Suite
	h *Hierarchy
}

func TestHierarchySuite(t *testing.T) {
	suite.Run(t, new(HierarchySuite))
}

func (s *HierarchySuite) SetupTest() {
	s.h = New(domain.FiscalPeriod("2026"))
}

func (s *HierarchySuite) SetupSubTest() {
	s.SetupTest()
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// seed builds Engineering → Platform Rebuild → vendor V1 with the given
// allocations.
func (s *HierarchySuite) seed(deptAlloc, projAlloc, vendorAlloc int64) *VendorNode {
	_, err := s.h.EnsureDepartment("Engineering", amt(deptAlloc))
	s.Require().NoError(err)
	project, err := s.h.EnsureProject("Engineering", "Platform Rebuild", amt(projAlloc))
	s.Require().NoError(err)
	vendor, err := s.h.EnsureVendor(project.ID, "V1", amt(vendorAlloc), "wallet-v1")
	s.Require().NoError(err)
	return vendor
}

func (s *HierarchySuite) TestEnsureDepartment() {
	s.Run("creates then accumulates", func() {
		dept, err := s.h.EnsureDepartment("Engineering", amt(50_000))
		s.Require().NoError(err)
		s.True(dept.Allocated.Equal(amt(50_000)))

		again, err := s.h.EnsureDepartment("Engineering", amt(20_000))
		s.Require().NoError(err)
		s.Equal(dept.ID, again.ID)
		s.True(again.Allocated.Equal(amt(70_000)))
		s.Len(s.h.Departments, 1)
	})

	s.Run("name matching is case-insensitive", func() {
		first, err := s.h.EnsureDepartment("Marketing", amt(10))
		s.Require().NoError(err)
		second, err := s.h.EnsureDepartment("MARKETING", amt(5))
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
	})

	s.Run("rejects empty name and negative allocation", func() {
		_, err := s.h.EnsureDepartment("  ", amt(1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		_, err = s.h.EnsureDepartment("Ops", amt(-1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *HierarchySuite) TestEnsureProject() {
	s.Run("requires existing department", func() {
		_, err := s.h.EnsureProject("Ghost", "P", amt(10))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("accumulates onto existing project", func() {
		_, err := s.h.EnsureDepartment("Engineering", amt(100))
		s.Require().NoError(err)

		first, err := s.h.EnsureProject("Engineering", "Platform Rebuild", amt(40))
		s.Require().NoError(err)
		second, err := s.h.EnsureProject("Engineering", "Platform Rebuild", amt(10))
		s.Require().NoError(err)

		s.Equal(first.ID, second.ID)
		s.True(second.Allocated.Equal(amt(50)))
	})
}

func (s *HierarchySuite) TestEnsureVendor() {
	s.Run("new vendor starts allocated with wallet ref", func() {
		vendor := s.seed(100_000, 50_000, 40_000)
		s.Equal(VendorStatusAllocated, vendor.Status)
		s.Equal("wallet-v1", vendor.WalletRef)
		s.True(vendor.Spent.IsZero())
	})

	s.Run("unknown project is not found", func() {
		_, err := s.h.EnsureVendor(domain.ProjectID{}, "V9", amt(1), "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *HierarchySuite) TestRecordSpend() {
	s.Run("propagates through all three levels", func() {
		vendor := s.seed(100_000, 50_000, 40_000)

		s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(10_000)))

		project := s.h.Projects[vendor.ProjectID]
		dept := s.h.Departments[project.DepartmentID]
		s.True(vendor.Spent.Equal(amt(10_000)))
		s.True(project.Spent.Equal(amt(10_000)))
		s.True(dept.Spent.Equal(amt(10_000)))
		s.Equal(VendorStatusInProgress, vendor.Status)
	})

	s.Run("department spend equals sum of its projects, projects sum their vendors", func() {
		dept, err := s.h.EnsureDepartment("Engineering", amt(1_000_000))
		s.Require().NoError(err)
		p1, err := s.h.EnsureProject("Engineering", "P1", amt(400_000))
		s.Require().NoError(err)
		p2, err := s.h.EnsureProject("Engineering", "P2", amt(300_000))
		s.Require().NoError(err)
		v1, err := s.h.EnsureVendor(p1.ID, "V1", amt(200_000), "")
		s.Require().NoError(err)
		v2, err := s.h.EnsureVendor(p1.ID, "V2", amt(100_000), "")
		s.Require().NoError(err)
		v3, err := s.h.EnsureVendor(p2.ID, "V3", amt(150_000), "")
		s.Require().NoError(err)

		s.Require().NoError(s.h.RecordSpend(v1.ID, amt(50_000)))
		s.Require().NoError(s.h.RecordSpend(v2.ID, amt(25_000)))
		s.Require().NoError(s.h.RecordSpend(v3.ID, amt(10_000)))

		s.True(p1.Spent.Equal(v1.Spent.Add(v2.Spent)))
		s.True(p2.Spent.Equal(v3.Spent))
		s.True(dept.Spent.Equal(p1.Spent.Add(p2.Spent)))
		s.True(s.h.TotalSpent().Equal(dept.Spent))
	})

	s.Run("over-spend is accepted and flagged past 150 percent", func() {
		vendor := s.seed(100_000, 50_000, 10_000)

		// 140% of allocation: accepted, not yet flagged.
		s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(14_000)))
		s.False(vendor.FlaggedForReview)

		// Push past 150%.
		s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(2_000)))
		s.True(vendor.FlaggedForReview)
	})

	s.Run("unknown vendor is not found", func() {
		err := s.h.RecordSpend(domain.VendorID{}, amt(1))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("rejects non-positive amounts", func() {
		vendor := s.seed(1, 1, 1)
		err := s.h.RecordSpend(vendor.ID, decimal.Zero)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *HierarchySuite) TestReverseSpend() {
	vendor := s.seed(100_000, 50_000, 40_000)
	s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(10_000)))
	s.Require().NoError(s.h.ReverseSpend(vendor.ID, amt(10_000)))

	project := s.h.Projects[vendor.ProjectID]
	dept := s.h.Departments[project.DepartmentID]
	s.True(vendor.Spent.IsZero())
	s.True(project.Spent.IsZero())
	s.True(dept.Spent.IsZero())
}

func TestUtilization(t *testing.T) {
	u := Utilization(decimal.NewFromInt(10_000), decimal.NewFromInt(40_000))
	if !u.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25, got %s", u)
	}

	u = Utilization(decimal.NewFromInt(1), decimal.NewFromInt(3))
	if !u.Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("expected 33.33, got %s", u)
	}

	if !Utilization(decimal.NewFromInt(5), decimal.Zero).IsZero() {
		t.Fatalf("expected zero utilization when nothing allocated")
	}
}

func (s *HierarchySuite) TestSnapshot() {
	s.Run("derives totals and utilization per level", func() {
		vendor := s.seed(100_000, 50_000, 40_000)
		s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(10_000)))

		snap := s.h.Snapshot(time.Now())
		s.True(snap.TotalAllocated.Equal(amt(100_000)))
		s.True(snap.TotalSpent.Equal(amt(10_000)))
		s.Require().Len(snap.Departments, 1)

		dept := snap.Departments[0]
		s.Equal("Engineering", dept.Name)
		s.True(dept.Utilization.Equal(amt(10)))
		s.Require().Len(dept.Projects, 1)
		s.True(dept.Projects[0].Utilization.Equal(amt(20)))
		s.Require().Len(dept.Projects[0].Vendors, 1)
		s.True(dept.Projects[0].Vendors[0].Utilization.Equal(amt(25)))
	})

	s.Run("is isolated from later mutations", func() {
		vendor := s.seed(100, 50, 40)
		snap := s.h.Snapshot(time.Now())

		s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(30)))

		s.True(snap.TotalSpent.IsZero())
		s.True(snap.Departments[0].Projects[0].Vendors[0].Spent.IsZero())
	})
}

func (s *HierarchySuite) TestClone() {
	vendor := s.seed(100, 50, 40)
	clone := s.h.Clone()

	s.Require().NoError(s.h.RecordSpend(vendor.ID, amt(10)))

	s.True(clone.Vendors[vendor.ID].Spent.IsZero())
	s.True(clone.TotalSpent().IsZero())
}
