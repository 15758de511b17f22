package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Reconciler rebuilds installment and loan totals from the payment log. It
// repairs the state left behind when a payment was stored but one of the
// follow-up updates failed.
type Reconciler struct {
	storage Store
	logger  *logrus.Logger
	now     func() time.Time
}

func NewReconciler(s Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{storage: s, logger: logger, now: time.Now}
}

// ReconcileReport summarises what a reconciliation changed.
type ReconcileReport struct {
	LoanID               uuid.UUID `json:"loan_id"`
	InstallmentsRepaired int       `json:"installments_repaired"`
	LoanRepaired         bool      `json:"loan_repaired"`
	PaymentsCleared      int       `json:"payments_cleared"`
}

// ReconcileLoan recomputes every installment's paid amount and history and
// the loan's total paid and payment count from the counted payments, then
// clears the reconciliation flags on the loan's payments.
func (r *Reconciler) ReconcileLoan(ctx context.Context, loanID uuid.UUID) (*ReconcileReport, error) {
	report := &ReconcileReport{LoanID: loanID}

	payments, err := r.storage.ListPayments(ctx, []uuid.UUID{loanID})
	if err != nil {
		return nil, err
	}
	counted := make([]*models.Payment, 0, len(payments))
	for _, p := range payments {
		if p.Status.Counted() {
			counted = append(counted, p)
		}
	}
	sort.SliceStable(counted, func(i, j int) bool {
		return counted[i].PaymentDate.Before(counted[j].PaymentDate)
	})

	installments, err := r.storage.ListInstallments(ctx, []uuid.UUID{loanID})
	if err != nil {
		return nil, err
	}
	for _, inst := range installments {
		repaired, err := r.reconcileInstallment(ctx, inst.ID, counted)
		if err != nil {
			return nil, err
		}
		if repaired {
			report.InstallmentsRepaired++
		}
	}

	report.LoanRepaired, err = r.reconcileLoanTotals(ctx, loanID, counted)
	if err != nil {
		return nil, err
	}

	for _, p := range payments {
		if !p.NeedsReconciliation {
			continue
		}
		if err := r.storage.SetReconciliation(ctx, p.ID, false, "", r.now().UTC()); err != nil {
			return nil, err
		}
		report.PaymentsCleared++
	}

	r.logger.WithFields(logrus.Fields{
		"loan_id":               loanID,
		"installments_repaired": report.InstallmentsRepaired,
		"loan_repaired":         report.LoanRepaired,
		"payments_cleared":      report.PaymentsCleared,
	}).Info("Loan reconciled")
	return report, nil
}

func (r *Reconciler) reconcileInstallment(ctx context.Context, installmentID uuid.UUID, counted []*models.Payment) (bool, error) {
	paid := decimal.Zero
	history := []models.PaymentHistoryEntry{}
	for _, p := range counted {
		if p.InstallmentID == nil || *p.InstallmentID != installmentID {
			continue
		}
		paid = paid.Add(p.Amount)
		history = append(history, models.PaymentHistoryEntry{
			PaymentID:   p.ID,
			Amount:      p.Amount,
			PaymentDate: p.PaymentDate,
			Method:      p.Method,
		})
	}

	var repaired bool
	err := retryOnConflict(func() error {
		inst, err := r.storage.GetInstallment(ctx, installmentID)
		if err != nil {
			return err
		}
		if inst.PaidAmount.Equal(paid) && len(inst.PaymentHistory) == len(history) {
			repaired = false
			return nil
		}
		inst.PaidAmount = paid
		inst.PaymentHistory = history
		if !paid.GreaterThanOrEqual(inst.TotalAmount) {
			inst.PaidDate = nil
		}
		now := r.now().UTC()
		derived := DeriveInstallment(*inst, now)
		derived.UpdatedAt = now
		repaired = true
		return r.storage.UpdateInstallment(ctx, &derived)
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return false, apperr.Conflict("installment %s was updated concurrently", installmentID)
	}
	return repaired, err
}

func (r *Reconciler) reconcileLoanTotals(ctx context.Context, loanID uuid.UUID, counted []*models.Payment) (bool, error) {
	total := decimal.Zero
	var last *time.Time
	for _, p := range counted {
		total = total.Add(p.Amount)
		paidAt := p.PaymentDate
		last = &paidAt
	}

	var repaired bool
	err := retryOnConflict(func() error {
		loan, err := r.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.TotalPaid.Equal(total) && loan.PaymentCount == len(counted) {
			repaired = false
			return nil
		}
		loan.TotalPaid = total
		loan.PaymentCount = len(counted)
		loan.LastPaymentDate = last
		updated := deriveLoanFields(*loan)
		if updated.Status == models.LoanStatusActive && updated.TotalPaid.GreaterThanOrEqual(updated.TotalRepayable()) {
			updated.Status = models.LoanStatusCompleted
			updated.NextDueDate = nil
		}
		updated.UpdatedAt = r.now().UTC()
		repaired = true
		return r.storage.UpdateLoan(ctx, &updated)
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return false, apperr.Conflict("loan %s was updated concurrently", loanID)
	}
	return repaired, err
}

// ReconcileFlagged reconciles every loan that has a flagged payment. A
// failure on one loan is logged and the sweep moves on.
func (r *Reconciler) ReconcileFlagged(ctx context.Context) ([]*ReconcileReport, error) {
	flagged, err := r.storage.ListPaymentsNeedingReconciliation(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	var reports []*ReconcileReport
	for _, p := range flagged {
		if seen[p.LoanID] {
			continue
		}
		seen[p.LoanID] = true

		report, err := r.ReconcileLoan(ctx, p.LoanID)
		if err != nil {
			r.logger.WithError(err).WithField("loan_id", p.LoanID).Error("Failed to reconcile loan")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}
