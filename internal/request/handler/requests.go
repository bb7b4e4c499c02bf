package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/request/models"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
)

type createRequest struct {
	FiscalPeriod string `json:"fiscal_period"`
	Department   string `json:"department"`
	Project      string `json:"project"`
	Category     string `json:"category,omitempty"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Description  string `json:"description,omitempty"`
	Priority     string `json:"priority,omitempty"`
	RequiredBy   string `json:"required_by,omitempty"`
}

func (r createRequest) toInput() (models.NewInput, error) {
	period, err := domain.ParseFiscalPeriod(r.FiscalPeriod)
	if err != nil {
		return models.NewInput{}, err
	}

	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return models.NewInput{}, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string")
	}

	var requiredBy time.Time
	if r.RequiredBy != "" {
		requiredBy, err = time.Parse(time.RFC3339, r.RequiredBy)
		if err != nil {
			return models.NewInput{}, dErrors.New(dErrors.CodeInvalidInput, "required_by must be an RFC 3339 timestamp")
		}
	}

	return models.NewInput{
		FiscalPeriod: period,
		Department:   r.Department,
		Project:      r.Project,
		Category:     r.Category,
		Amount:       amount,
		Currency:     r.Currency,
		Description:  r.Description,
		Priority:     models.Priority(r.Priority),
		RequiredBy:   requiredBy,
	}, nil
}

type transitionRequest struct {
	Note string `json:"note,omitempty"`
}

type allocateRequest struct {
	VendorIdentity string `json:"vendor_identity"`
	// Amount defaults to the full requested amount when empty.
	Amount string `json:"amount,omitempty"`
}

type spendRequest struct {
	Amount string `json:"amount"`
	Note   string `json:"note,omitempty"`
}
