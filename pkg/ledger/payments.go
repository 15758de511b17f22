package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxReceiptAttempts = 5

// Reasons stored on payments that were persisted but not fully applied.
const (
	ReasonInstallmentUpdate = "installment_update_failed"
	ReasonLoanUpdate        = "loan_update_failed"
)

// PaymentRequest describes a repayment made by a borrower.
type PaymentRequest struct {
	LoanID        uuid.UUID            `json:"-"`
	InstallmentID *uuid.UUID           `json:"installment_id,omitempty"`
	PayerID       uuid.UUID            `json:"-"`
	Amount        decimal.Decimal      `json:"amount"`
	Method        models.PaymentMethod `json:"payment_method"`
	PaymentDate   time.Time            `json:"payment_date"`
	DueDate       *time.Time           `json:"due_date,omitempty"`
	Source        models.PaymentSource `json:"source,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

// UnmarshalJSON also accepts the camelCase keys sent by the web client:
// method, paymentDate, installmentId and dueDate. The snake_case key wins
// when a body carries both.
func (r *PaymentRequest) UnmarshalJSON(data []byte) error {
	type plain PaymentRequest
	var body struct {
		plain
		AltMethod        models.PaymentMethod `json:"method"`
		AltPaymentDate   *time.Time           `json:"paymentDate"`
		AltInstallmentID *uuid.UUID           `json:"installmentId"`
		AltDueDate       *time.Time           `json:"dueDate"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	*r = PaymentRequest(body.plain)
	if r.Method == "" {
		r.Method = body.AltMethod
	}
	if r.PaymentDate.IsZero() && body.AltPaymentDate != nil {
		r.PaymentDate = *body.AltPaymentDate
	}
	if r.InstallmentID == nil {
		r.InstallmentID = body.AltInstallmentID
	}
	if r.DueDate == nil {
		r.DueDate = body.AltDueDate
	}
	return nil
}

// RecordPayment persists a payment and applies it to its installment and loan.
func (l *Ledger) RecordPayment(ctx context.Context, req PaymentRequest) (*models.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	if !req.Method.Valid() {
		return nil, apperr.Validation("invalid payment method %q", req.Method)
	}

	loan, err := l.storage.GetLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	if loan.BorrowerID != req.PayerID {
		return nil, apperr.Authorization("only the borrower can record payments on this loan")
	}
	if loan.Status != models.LoanStatusActive {
		return nil, apperr.Validation("loan is not active")
	}

	var inst *models.Installment
	if req.InstallmentID != nil {
		inst, err = l.storage.GetInstallment(ctx, *req.InstallmentID)
		if err != nil {
			return nil, err
		}
		if inst.LoanID != loan.ID {
			return nil, apperr.NotFound("installment not found")
		}
	}

	now := l.now().UTC()
	payment := &models.Payment{
		ID:            uuid.New(),
		LoanID:        loan.ID,
		InstallmentID: req.InstallmentID,
		PayerID:       req.PayerID,
		ReceiverID:    loan.LenderID,
		Amount:        req.Amount,
		PaymentDate:   req.PaymentDate,
		DueDate:       req.DueDate,
		Method:        req.Method,
		Status:        models.PaymentCompleted,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = now
	}
	if payment.DueDate == nil && inst != nil {
		due := inst.DueDate
		payment.DueDate = &due
	}
	payment.Metadata.Source = req.Source
	if payment.Metadata.Source == "" {
		payment.Metadata.Source = models.SourceWebPortal
	}
	if payment.DueDate != nil {
		early, late := PaymentTiming(payment.PaymentDate, *payment.DueDate)
		payment.Metadata.IsEarlyPayment, payment.Metadata.DaysEarly = early > 0, early
		payment.Metadata.IsLatePayment, payment.Metadata.DaysLate = late > 0, late
	}

	if inst != nil {
		derived := DeriveInstallment(*inst, now)
		payment.PrincipalPortion, payment.InterestPortion, payment.PenaltyPortion, payment.IsOverpayment =
			splitPortions(derived, req.Amount)
	} else {
		payment.PrincipalPortion = req.Amount
		payment.InterestPortion = decimal.Zero
		payment.PenaltyPortion = decimal.Zero
	}
	// Overpayments are accepted and flagged; the lender settles the excess.
	if req.Amount.GreaterThan(nonNegative(loan.TotalRepayable().Sub(loan.TotalPaid))) {
		payment.IsOverpayment = true
	}
	payment.Type = paymentType(*loan, inst, req.Amount, now)

	if err := l.insertPayment(ctx, payment, now); err != nil {
		return nil, err
	}

	log := l.logger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"loan_id":    loan.ID,
		"amount":     payment.Amount.StringFixed(2),
	})

	if inst != nil {
		if err := l.applyToInstallment(ctx, inst.ID, payment); err != nil {
			l.flagForReconciliation(ctx, payment, ReasonInstallmentUpdate, err)
			return nil, fmt.Errorf("payment %s recorded but not applied to installment: %w", payment.ID, err)
		}
	}
	completed, err := l.applyToLoan(ctx, loan.ID, payment)
	if err != nil {
		l.flagForReconciliation(ctx, payment, ReasonLoanUpdate, err)
		return nil, fmt.Errorf("payment %s recorded but not applied to loan: %w", payment.ID, err)
	}

	log.WithField("receipt", payment.ReceiptNumber).Info("Payment recorded")
	l.track(ctx, payment.PayerID, &loan.ID, models.EventPaymentMade, map[string]interface{}{
		"amount":       payment.Amount.StringFixed(2),
		"payment_type": string(payment.Type),
		"is_late":      payment.Metadata.IsLatePayment,
	})
	if completed {
		log.Info("Loan completed")
		l.track(ctx, loan.LenderID, &loan.ID, models.EventLoanCompleted, nil)
	}
	return payment, nil
}

// insertPayment stores the payment, drawing a fresh receipt number whenever
// the previous one was already taken.
func (l *Ledger) insertPayment(ctx context.Context, payment *models.Payment, now time.Time) error {
	var err error
	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		payment.ReceiptNumber = l.receiptNumber(now)
		err = l.storage.CreatePayment(ctx, payment)
		if !errors.Is(err, store.ErrDuplicateReceipt) {
			return err
		}
		l.logger.WithField("receipt", payment.ReceiptNumber).Debug("Receipt number collision, regenerating")
	}
	return apperr.Conflict("could not allocate a unique receipt number")
}

func (l *Ledger) receiptNumber(day time.Time) string {
	l.mu.Lock()
	n := rand.New(l.randSrc).Intn(1000)
	l.mu.Unlock()
	return fmt.Sprintf("RCP%04d%02d%02d%03d", day.Year(), int(day.Month()), day.Day(), n)
}

func (l *Ledger) applyToInstallment(ctx context.Context, installmentID uuid.UUID, payment *models.Payment) error {
	err := retryOnConflict(func() error {
		inst, err := l.storage.GetInstallment(ctx, installmentID)
		if err != nil {
			return err
		}
		inst.PaidAmount = inst.PaidAmount.Add(payment.Amount)
		inst.PaymentHistory = append(inst.PaymentHistory, models.PaymentHistoryEntry{
			PaymentID:   payment.ID,
			Amount:      payment.Amount,
			PaymentDate: payment.PaymentDate,
			Method:      payment.Method,
		})
		now := l.now().UTC()
		derived := DeriveInstallment(*inst, now)
		derived.UpdatedAt = now
		return l.storage.UpdateInstallment(ctx, &derived)
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return apperr.Conflict("installment %s was updated concurrently", installmentID)
	}
	return err
}

// applyToLoan adds the payment to the loan totals and reports whether the
// loan was completed by it.
func (l *Ledger) applyToLoan(ctx context.Context, loanID uuid.UUID, payment *models.Payment) (bool, error) {
	var completed bool
	err := retryOnConflict(func() error {
		loan, err := l.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		loan.TotalPaid = loan.TotalPaid.Add(payment.Amount)
		loan.PaymentCount++
		if loan.LastPaymentDate == nil || payment.PaymentDate.After(*loan.LastPaymentDate) {
			paidAt := payment.PaymentDate
			loan.LastPaymentDate = &paidAt
		}
		updated, err := DeriveLoan(*loan, l.tolerance)
		if err != nil {
			l.logger.WithError(err).WithFields(logrus.Fields{
				"loan_id":    loanID,
				"payment_id": payment.ID,
			}).Warn("Loan overpaid beyond tolerance")
		}
		completed = false
		if updated.Status == models.LoanStatusActive && updated.TotalPaid.GreaterThanOrEqual(updated.TotalRepayable()) {
			updated.Status = models.LoanStatusCompleted
			updated.NextDueDate = nil
			completed = true
		}
		updated.UpdatedAt = l.now().UTC()
		return l.storage.UpdateLoan(ctx, &updated)
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return false, apperr.Conflict("loan %s was updated concurrently", loanID)
	}
	return completed, err
}

func (l *Ledger) flagForReconciliation(ctx context.Context, payment *models.Payment, reason string, cause error) {
	log := l.logger.WithError(cause).WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"loan_id":    payment.LoanID,
		"reason":     reason,
	})
	log.Error("Payment needs reconciliation")

	payment.NeedsReconciliation = true
	payment.ReconcileReason = reason
	payment.UpdatedAt = l.now().UTC()
	if err := l.storage.SetReconciliation(ctx, payment.ID, true, reason, payment.UpdatedAt); err != nil {
		log.WithField("flag_error", err.Error()).Error("Failed to flag payment for reconciliation")
	}
}

// VerifyPayment lets the receiving lender confirm a payment arrived.
func (l *Ledger) VerifyPayment(ctx context.Context, paymentID, actorID uuid.UUID, notes string) (*models.Payment, error) {
	payment, err := l.storage.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.ReceiverID != actorID {
		return nil, apperr.Authorization("only the receiver can verify this payment")
	}
	if payment.Verification.IsVerified {
		return payment, nil
	}
	now := l.now().UTC()
	payment.Verification = models.PaymentVerification{
		IsVerified: true,
		VerifiedBy: &actorID,
		VerifiedAt: &now,
		Notes:      notes,
	}
	payment.UpdatedAt = now
	if err := l.storage.UpdatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// PaymentTiming returns how many days early or late a payment was relative
// to its due date. Partial days count as a whole day.
func PaymentTiming(paymentDate, dueDate time.Time) (early, late int) {
	diff := int(math.Ceil(float64(paymentDate.Sub(dueDate)) / float64(day)))
	switch {
	case diff < 0:
		return -diff, 0
	case diff > 0:
		return 0, diff
	}
	return 0, 0
}

// splitPortions allocates an amount against what is still owed on an
// installment: interest first, then principal, then penalty. Anything left
// over counts as principal and marks the payment as an overpayment.
func splitPortions(inst models.Installment, amount decimal.Decimal) (principal, interest, penalty decimal.Decimal, overpay bool) {
	paid := inst.PaidAmount
	interestDue := nonNegative(inst.InterestPortion.Sub(paid))
	principalDue := nonNegative(inst.PrincipalPortion.Sub(nonNegative(paid.Sub(inst.InterestPortion))))
	penaltyDue := nonNegative(inst.PenaltyAmount.Sub(nonNegative(paid.Sub(inst.TotalAmount))))

	rest := amount
	interest = decimal.Min(rest, interestDue)
	rest = rest.Sub(interest)
	principal = decimal.Min(rest, principalDue)
	rest = rest.Sub(principal)
	penalty = decimal.Min(rest, penaltyDue)
	rest = rest.Sub(penalty)
	if rest.IsPositive() {
		principal = principal.Add(rest)
		overpay = true
	}
	return principal, interest, penalty, overpay
}

func paymentType(loan models.Loan, inst *models.Installment, amount decimal.Decimal, now time.Time) models.PaymentType {
	if inst == nil {
		return models.PaymentTypeAdvance
	}
	if amount.GreaterThanOrEqual(deriveLoanFields(loan).RemainingBalance) {
		return models.PaymentTypeFull
	}
	if amount.LessThan(DeriveInstallment(*inst, now).RemainingAmount) {
		return models.PaymentTypePartial
	}
	return models.PaymentTypeInstallment
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
