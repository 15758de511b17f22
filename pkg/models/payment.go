package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodUPI          PaymentMethod = "upi"
	MethodCard         PaymentMethod = "card"
	MethodCheque       PaymentMethod = "cheque"
	MethodOnline       PaymentMethod = "online"
	MethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodUPI, MethodCard, MethodCheque, MethodOnline, MethodOther:
		return true
	}
	return false
}

type PaymentType string

const (
	PaymentTypeInstallment PaymentType = "installment"
	PaymentTypePartial     PaymentType = "partial"
	PaymentTypeAdvance     PaymentType = "advance"
	PaymentTypePenalty     PaymentType = "penalty"
	PaymentTypeFull        PaymentType = "full_payment"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Counted reports whether a payment in this status contributes to balances.
func (s PaymentStatus) Counted() bool {
	switch s {
	case PaymentPending, PaymentCompleted:
		return true
	case PaymentFailed, PaymentCancelled, PaymentRefunded:
		return false
	}
	return false
}

type PaymentSource string

const (
	SourceMobileApp   PaymentSource = "mobile_app"
	SourceWebPortal   PaymentSource = "web_portal"
	SourceAdminPanel  PaymentSource = "admin_panel"
	SourceManualEntry PaymentSource = "manual_entry"
)

type PaymentMetadata struct {
	IsEarlyPayment bool          `json:"is_early_payment"`
	DaysEarly      int           `json:"days_early"`
	IsLatePayment  bool          `json:"is_late_payment"`
	DaysLate       int           `json:"days_late"`
	Source         PaymentSource `json:"source"`
}

type PaymentVerification struct {
	IsVerified bool       `json:"is_verified"`
	VerifiedBy *uuid.UUID `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

type Payment struct {
	ID                  uuid.UUID           `json:"id"`
	LoanID              uuid.UUID           `json:"loan_id"`
	InstallmentID       *uuid.UUID          `json:"installment_id,omitempty"`
	PayerID             uuid.UUID           `json:"payer_id"`
	ReceiverID          uuid.UUID           `json:"receiver_id"`
	Amount              decimal.Decimal     `json:"amount"`
	PrincipalPortion    decimal.Decimal     `json:"principal_amount"`
	InterestPortion     decimal.Decimal     `json:"interest_amount"`
	PenaltyPortion      decimal.Decimal     `json:"penalty_amount"`
	PaymentDate         time.Time           `json:"payment_date"`
	DueDate             *time.Time          `json:"due_date,omitempty"`
	Method              PaymentMethod       `json:"payment_method"`
	Type                PaymentType         `json:"payment_type"`
	Status              PaymentStatus       `json:"status"`
	ReceiptNumber       string              `json:"receipt_number"`
	Metadata            PaymentMetadata     `json:"metadata"`
	IsOverpayment       bool                `json:"is_overpayment"`
	Verification        PaymentVerification `json:"verification"`
	NeedsReconciliation bool                `json:"needs_reconciliation"`
	ReconcileReason     string              `json:"reconcile_reason,omitempty"`
	Notes               string              `json:"notes,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}
