package handler

import (
	"time"

	"fiscus/internal/request/models"
)

type historyEntry struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor"`
	Note  string    `json:"note,omitempty"`
}

type requestResponse struct {
	ID           string `json:"id"`
	Requester    string `json:"requester"`
	FiscalPeriod string `json:"fiscal_period"`
	Department   string `json:"department"`
	Project      string `json:"project"`
	Category     string `json:"category,omitempty"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Description  string `json:"description,omitempty"`
	Priority     string `json:"priority"`
	State        string `json:"state"`

	Approver       string `json:"approver,omitempty"`
	VendorID       string `json:"vendor_id,omitempty"`
	VendorIdentity string `json:"vendor_identity,omitempty"`

	Allocated string `json:"allocated"`
	Spent     string `json:"spent"`
	Remaining string `json:"remaining"`

	History []historyEntry `json:"history"`

	CreatedAt   time.Time  `json:"created_at"`
	RequiredBy  *time.Time `json:"required_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type listResponse struct {
	Requests []requestResponse `json:"requests"`
}

func toResponse(r *models.BudgetRequest) requestResponse {
	resp := requestResponse{
		ID:             r.ID.String(),
		Requester:      r.Requester.String(),
		FiscalPeriod:   r.FiscalPeriod.String(),
		Department:     r.Department,
		Project:        r.Project,
		Category:       r.Category,
		Amount:         r.Amount.String(),
		Currency:       r.Currency,
		Description:    r.Description,
		Priority:       string(r.Priority),
		State:          string(r.State),
		VendorIdentity: r.VendorIdentity,
		Allocated:      r.Allocated.String(),
		Spent:          r.Spent.String(),
		Remaining:      r.Remaining().String(),
		CreatedAt:      r.CreatedAt,
		ApprovedAt:     r.ApprovedAt,
		AllocatedAt:    r.AllocatedAt,
		CompletedAt:    r.CompletedAt,
	}
	if !r.Approver.IsNil() {
		resp.Approver = r.Approver.String()
	}
	if !r.VendorID.IsNil() {
		resp.VendorID = r.VendorID.String()
	}
	if !r.RequiredBy.IsZero() {
		required := r.RequiredBy
		resp.RequiredBy = &required
	}
	for _, h := range r.History {
		resp.History = append(resp.History, historyEntry{
			State: string(h.State),
			At:    h.At,
			Actor: h.Actor.String(),
			Note:  h.Note,
		})
	}
	return resp
}
