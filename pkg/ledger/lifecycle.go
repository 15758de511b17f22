package ledger

import (
	"time"

	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// DeriveLoan recomputes the loan's end date and remaining balance. It fails
// when the amount paid exceeds everything owed by more than tolerance.
func DeriveLoan(loan models.Loan, tolerance decimal.Decimal) (models.Loan, error) {
	loan = deriveLoanFields(loan)
	limit := loan.TotalRepayable().Add(tolerance)
	if loan.TotalPaid.GreaterThan(limit) {
		return loan, apperr.Validation("total paid %s exceeds repayable amount %s",
			loan.TotalPaid.StringFixed(2), loan.TotalRepayable().StringFixed(2))
	}
	return loan, nil
}

// deriveLoanFields never fails: missing inputs leave the zero state.
func deriveLoanFields(loan models.Loan) models.Loan {
	if !loan.StartDate.IsZero() && loan.TermMonths > 0 {
		loan.EndDate = loan.StartDate.AddDate(0, loan.TermMonths, 0)
	}
	balance := loan.Principal.Sub(loan.TotalPaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	loan.RemainingBalance = balance
	return loan
}

// DeriveInstallment recomputes remaining amount, status and days overdue as
// a pure function of paid amount, total amount, due date and now.
func DeriveInstallment(inst models.Installment, now time.Time) models.Installment {
	remaining := inst.TotalAmount.Sub(inst.PaidAmount)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	inst.RemainingAmount = remaining

	pastDue := !inst.DueDate.IsZero() && now.After(inst.DueDate)

	switch {
	case !inst.PaidAmount.IsPositive():
		if pastDue {
			inst.Status = models.InstallmentOverdue
		} else {
			inst.Status = models.InstallmentPending
		}
	case inst.PaidAmount.GreaterThanOrEqual(inst.TotalAmount):
		inst.Status = models.InstallmentPaid
		if inst.PaidDate == nil {
			paidAt := now
			inst.PaidDate = &paidAt
		}
	default:
		inst.Status = models.InstallmentPartiallyPaid
	}

	if pastDue && inst.Status != models.InstallmentPaid {
		inst.DaysOverdue = int(now.Sub(inst.DueDate) / day)
	} else {
		inst.DaysOverdue = 0
	}
	return inst
}

// AssessPenalty applies the loan's one-off late penalty once an unpaid
// installment is overdue by more than the grace period. The bool reports
// whether a penalty was applied by this call.
func AssessPenalty(inst models.Installment, loan models.Loan, now time.Time) (models.Installment, bool) {
	inst = DeriveInstallment(inst, now)
	if inst.Status == models.InstallmentPaid || inst.PenaltyAppliedDate != nil {
		return inst, false
	}
	if inst.DaysOverdue <= loan.GracePeriodDays || !loan.PenaltyRate.IsPositive() {
		return inst, false
	}
	inst.PenaltyAmount = inst.RemainingAmount.Mul(loan.PenaltyRate).Div(hundred).Round(2)
	appliedAt := now
	inst.PenaltyAppliedDate = &appliedAt
	return inst, true
}

// Refresh is the result of re-deriving a loan against its installments.
type Refresh struct {
	Loan         models.Loan
	Installments []models.Installment
	Penalized    []int // indexes into Installments whose penalty was applied now
}

// RefreshLoan re-derives every installment, accrues penalties and recomputes
// the loan's penalty total and next due date.
func RefreshLoan(loan models.Loan, installments []models.Installment, now time.Time) Refresh {
	out := Refresh{Installments: make([]models.Installment, len(installments))}
	totalPenalty := decimal.Zero
	var nextDue *time.Time

	for i, inst := range installments {
		derived, applied := AssessPenalty(inst, loan, now)
		if applied {
			out.Penalized = append(out.Penalized, i)
		}
		totalPenalty = totalPenalty.Add(derived.PenaltyAmount)
		if derived.Status != models.InstallmentPaid && (nextDue == nil || derived.DueDate.Before(*nextDue)) {
			due := derived.DueDate
			nextDue = &due
		}
		out.Installments[i] = derived
	}

	if len(installments) > 0 {
		loan.TotalPenalty = totalPenalty
		loan.NextDueDate = nextDue
	}
	out.Loan = deriveLoanFields(loan)
	return out
}

// canTransition reports whether a loan may move from one status to another.
func canTransition(from, to models.LoanStatus) bool {
	switch from {
	case models.LoanStatusPending:
		return to == models.LoanStatusActive || to == models.LoanStatusCanceled
	case models.LoanStatusActive:
		return to == models.LoanStatusCompleted || to == models.LoanStatusDefaulted
	case models.LoanStatusCompleted, models.LoanStatusDefaulted, models.LoanStatusCanceled:
		return false
	}
	return false
}
