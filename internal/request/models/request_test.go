package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
)

type BudgetRequestSuite struct {
	suite.Suite
	now       time.Time
	requester domain.ActorID
	admin     domain.ActorID
}

func TestBudgetRequestSuite(t *testing.T) {
	suite.Run(t, new(BudgetRequestSuite))
}

func (s *BudgetRequestSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.requester = domain.ActorID(uuid.New())
	s.admin = domain.ActorID(uuid.New())
}

func (s *BudgetRequestSuite) newRequest() *BudgetRequest {
	r, err := NewRequest(NewInput{
		Requester:    s.requester,
		FiscalPeriod: "2026",
		Department:   "Engineering",
		Project:      "Platform Rebuild",
		Category:     "infrastructure",
		Amount:       decimal.NewFromInt(40_000),
		Currency:     "USD",
		Priority:     PriorityHigh,
	}, s.now)
	s.Require().NoError(err)
	return r
}

func (s *BudgetRequestSuite) TestNewRequest() {
	s.Run("starts pending with a creation history entry", func() {
		r := s.newRequest()
		s.Equal(StatePending, r.State)
		s.Require().Len(r.History, 1)
		s.Equal(StatePending, r.History[0].State)
		s.Equal(s.requester, r.History[0].Actor)
		s.True(r.Allocated.IsZero())
		s.True(r.Spent.IsZero())
	})

	s.Run("defaults priority to medium", func() {
		r, err := NewRequest(NewInput{
			Requester:    s.requester,
			FiscalPeriod: "2026",
			Department:   "Engineering",
			Project:      "P",
			Amount:       decimal.NewFromInt(1),
			Currency:     "USD",
		}, s.now)
		s.Require().NoError(err)
		s.Equal(PriorityMedium, r.Priority)
	})

	s.Run("rejects invalid input", func() {
		cases := []struct {
			name  string
			build func(in *NewInput)
		}{
			{"missing requester", func(in *NewInput) { in.Requester = domain.ActorID{} }},
			{"missing period", func(in *NewInput) { in.FiscalPeriod = "" }},
			{"blank department", func(in *NewInput) { in.Department = "  " }},
			{"zero amount", func(in *NewInput) { in.Amount = decimal.Zero }},
			{"negative amount", func(in *NewInput) { in.Amount = decimal.NewFromInt(-5) }},
			{"amount finer than 4 decimal places", func(in *NewInput) { in.Amount = decimal.RequireFromString("10.12345") }},
			{"missing currency", func(in *NewInput) { in.Currency = "" }},
			{"unknown priority", func(in *NewInput) { in.Priority = "urgent" }},
			{"required-by in the past", func(in *NewInput) { in.RequiredBy = s.now.Add(-time.Hour) }},
		}
		for _, tc := range cases {
			s.Run(tc.name, func() {
				in := NewInput{
					Requester:    s.requester,
					FiscalPeriod: "2026",
					Department:   "Engineering",
					Project:      "P",
					Amount:       decimal.NewFromInt(1),
					Currency:     "USD",
				}
				tc.build(&in)
				_, err := NewRequest(in, s.now)
				s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
			})
		}
	})
}

func (s *BudgetRequestSuite) TestTransitionGraph() {
	legal := []struct {
		from State
		to   State
	}{
		{StatePending, StateApproved},
		{StatePending, StateRejected},
		{StatePending, StateCancelled},
		{StateApproved, StateAllocated},
		{StateApproved, StateCancelled},
		{StateAllocated, StateCompleted},
	}
	allowed := map[[2]State]bool{}
	for _, edge := range legal {
		allowed[[2]State{edge.from, edge.to}] = true
		s.True(edge.from.CanTransitionTo(edge.to), "%s -> %s should be legal", edge.from, edge.to)
	}

	all := []State{StatePending, StateApproved, StateRejected, StateAllocated, StateCompleted, StateCancelled}
	for _, from := range all {
		for _, to := range all {
			if allowed[[2]State{from, to}] {
				continue
			}
			s.False(from.CanTransitionTo(to), "%s -> %s should be illegal", from, to)
		}
	}
}

func (s *BudgetRequestSuite) TestApplyTransition() {
	s.Run("approve stamps approver and timestamp", func() {
		r := s.newRequest()
		at := s.now.Add(time.Hour)
		s.Require().NoError(r.ApplyTransition(StateApproved, at, s.admin, "within budget"))

		s.Equal(StateApproved, r.State)
		s.Equal(s.admin, r.Approver)
		s.Require().NotNil(r.ApprovedAt)
		s.Equal(at, *r.ApprovedAt)
		s.Require().Len(r.History, 2)
		s.Equal("within budget", r.History[1].Note)
	})

	s.Run("illegal edge names both states and mutates nothing", func() {
		r := s.newRequest()
		err := r.ApplyTransition(StateCompleted, s.now, s.admin, "")

		var transitionErr *StateTransitionError
		s.Require().ErrorAs(err, &transitionErr)
		s.Equal(StatePending, transitionErr.From)
		s.Equal(StateCompleted, transitionErr.To)

		s.Equal(StatePending, r.State)
		s.Len(r.History, 1)
		s.Nil(r.CompletedAt)
	})

	s.Run("terminal states accept nothing", func() {
		for _, terminal := range []State{StateRejected, StateCancelled, StateCompleted} {
			s.True(terminal.Terminal())
		}

		r := s.newRequest()
		s.Require().NoError(r.ApplyTransition(StateRejected, s.now, s.admin, "over budget"))
		err := r.ApplyTransition(StateApproved, s.now, s.admin, "")
		var transitionErr *StateTransitionError
		s.Require().ErrorAs(err, &transitionErr)
	})

	s.Run("full happy path stamps each phase", func() {
		r := s.newRequest()
		s.Require().NoError(r.ApplyTransition(StateApproved, s.now.Add(1*time.Hour), s.admin, ""))
		s.Require().NoError(r.ApplyTransition(StateAllocated, s.now.Add(2*time.Hour), s.admin, ""))
		s.Require().NoError(r.ApplyTransition(StateCompleted, s.now.Add(3*time.Hour), s.admin, ""))

		s.NotNil(r.ApprovedAt)
		s.NotNil(r.AllocatedAt)
		s.NotNil(r.CompletedAt)
		s.Len(r.History, 4)
	})
}

func (s *BudgetRequestSuite) TestRemaining() {
	r := s.newRequest()
	r.Allocated = decimal.NewFromInt(40_000)
	r.Spent = decimal.NewFromInt(15_000)
	s.True(r.Remaining().Equal(decimal.NewFromInt(25_000)))
}

func (s *BudgetRequestSuite) TestClone() {
	r := s.newRequest()
	s.Require().NoError(r.ApplyTransition(StateApproved, s.now, s.admin, ""))

	clone := r.Clone()
	s.Require().NoError(clone.ApplyTransition(StateAllocated, s.now, s.admin, ""))
	clone.History[0].Note = "mutated"

	s.Equal(StateApproved, r.State)
	s.Nil(r.AllocatedAt)
	s.Equal("request created", r.History[0].Note)
}
