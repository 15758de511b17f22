package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Money amounts are encoded as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type LoanStatus string

const (
	LoanStatusPending   LoanStatus = "pending"
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
	LoanStatusDefaulted LoanStatus = "defaulted"
	LoanStatusCanceled  LoanStatus = "canceled"
)

func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusPending, LoanStatusActive, LoanStatusCompleted, LoanStatusDefaulted, LoanStatusCanceled:
		return true
	}
	return false
}

type InterestType string

const (
	InterestSimple   InterestType = "simple"
	InterestCompound InterestType = "compound"
)

func (t InterestType) Valid() bool {
	switch t {
	case InterestSimple, InterestCompound:
		return true
	}
	return false
}

type PaymentFrequency string

const (
	FrequencyMonthly   PaymentFrequency = "monthly"
	FrequencyWeekly    PaymentFrequency = "weekly"
	FrequencyBiWeekly  PaymentFrequency = "bi-weekly"
	FrequencyQuarterly PaymentFrequency = "quarterly"
)

func (f PaymentFrequency) Valid() bool {
	switch f {
	case FrequencyMonthly, FrequencyWeekly, FrequencyBiWeekly, FrequencyQuarterly:
		return true
	}
	return false
}

type Loan struct {
	ID                uuid.UUID        `json:"id"`
	LenderID          uuid.UUID        `json:"lender_id"`
	BorrowerID        uuid.UUID        `json:"borrower_id"`
	Principal         decimal.Decimal  `json:"principal"`
	InterestRate      decimal.Decimal  `json:"interest_rate"` // Percent per annum
	InterestType      InterestType     `json:"interest_type"`
	TermMonths        int              `json:"term_months"`
	PaymentFrequency  PaymentFrequency `json:"payment_frequency"`
	InstallmentAmount decimal.Decimal  `json:"installment_amount"`
	TotalInstallments int              `json:"total_installments"`
	TotalInterest     decimal.Decimal  `json:"total_interest"` // Scheduled interest over the whole term
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
	Status            LoanStatus       `json:"status"`
	Purpose           string           `json:"purpose,omitempty"`
	TotalPaid         decimal.Decimal  `json:"total_paid"`
	RemainingBalance  decimal.Decimal  `json:"remaining_balance"`
	NextDueDate       *time.Time       `json:"next_due_date,omitempty"`
	PenaltyRate       decimal.Decimal  `json:"penalty_rate"` // Percent of the unpaid installment
	TotalPenalty      decimal.Decimal  `json:"total_penalty"`
	GracePeriodDays   int              `json:"grace_period_days"`
	PaymentCount      int              `json:"payment_count"`
	LastPaymentDate   *time.Time       `json:"last_payment_date,omitempty"`
	Notes             string           `json:"notes,omitempty"`
	Version           int              `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TotalRepayable is everything the borrower owes over the life of the loan.
func (l *Loan) TotalRepayable() decimal.Decimal {
	return l.Principal.Add(l.TotalInterest).Add(l.TotalPenalty)
}

// IsParty reports whether the user is the lender or the borrower.
func (l *Loan) IsParty(userID uuid.UUID) bool {
	return l.LenderID == userID || l.BorrowerID == userID
}
