package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "pending"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
)

type PaymentHistoryEntry struct {
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      PaymentMethod   `json:"payment_method"`
}

type Installment struct {
	ID                 uuid.UUID             `json:"id"`
	LoanID             uuid.UUID             `json:"loan_id"`
	Number             int                   `json:"installment_number"`
	PrincipalPortion   decimal.Decimal       `json:"principal_amount"`
	InterestPortion    decimal.Decimal       `json:"interest_amount"`
	TotalAmount        decimal.Decimal       `json:"total_amount"`
	DueDate            time.Time             `json:"due_date"`
	PaidAmount         decimal.Decimal       `json:"paid_amount"`
	RemainingAmount    decimal.Decimal       `json:"remaining_amount"`
	Status             InstallmentStatus     `json:"status"`
	PaidDate           *time.Time            `json:"paid_date,omitempty"`
	PenaltyAmount      decimal.Decimal       `json:"penalty_amount"`
	PenaltyAppliedDate *time.Time            `json:"penalty_applied_date,omitempty"`
	DaysOverdue        int                   `json:"days_overdue"`
	PaymentHistory     []PaymentHistoryEntry `json:"payment_history"`
	RemindersSent      int                   `json:"reminders_sent"`
	LastReminderDate   *time.Time            `json:"last_reminder_date,omitempty"`
	Version            int                   `json:"version"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}
