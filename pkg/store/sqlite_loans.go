package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

const loanColumns = `id, lender_id, borrower_id, principal, interest_rate, interest_type, term_months, payment_frequency,
	installment_amount, total_installments, total_interest, start_date, end_date, status, purpose, total_paid,
	remaining_balance, next_due_date, penalty_rate, total_penalty, grace_period_days, payment_count,
	last_payment_date, notes, version, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.LenderID.String(), loan.BorrowerID.String(), loan.Principal, loan.InterestRate,
		loan.InterestType, loan.TermMonths, loan.PaymentFrequency, loan.InstallmentAmount, loan.TotalInstallments,
		loan.TotalInterest, loan.StartDate.UTC(), loan.EndDate.UTC(), loan.Status, loan.Purpose, loan.TotalPaid,
		loan.RemainingBalance, nullTime(loan.NextDueDate), loan.PenaltyRate, loan.TotalPenalty, loan.GracePeriodDays,
		loan.PaymentCount, nullTime(loan.LastPaymentDate), loan.Notes, loan.Version, loan.CreatedAt.UTC(), loan.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("loan not found")
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan writes the loan if its version is unchanged and bumps the version.
func (s *SQLiteStore) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE loans SET principal = ?, interest_rate = ?, interest_type = ?, term_months = ?, payment_frequency = ?,
			installment_amount = ?, total_installments = ?, total_interest = ?, start_date = ?, end_date = ?, status = ?,
			purpose = ?, total_paid = ?, remaining_balance = ?, next_due_date = ?, penalty_rate = ?, total_penalty = ?,
			grace_period_days = ?, payment_count = ?, last_payment_date = ?, notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.Principal, loan.InterestRate, loan.InterestType, loan.TermMonths, loan.PaymentFrequency,
		loan.InstallmentAmount, loan.TotalInstallments, loan.TotalInterest, loan.StartDate.UTC(), loan.EndDate.UTC(), loan.Status,
		loan.Purpose, loan.TotalPaid, loan.RemainingBalance, nullTime(loan.NextDueDate), loan.PenaltyRate, loan.TotalPenalty,
		loan.GracePeriodDays, loan.PaymentCount, nullTime(loan.LastPaymentDate), loan.Notes, loan.UpdatedAt.UTC(),
		loan.ID.String(), loan.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := s.checkCAS(ctx, result, "loans", loan.ID, "loan not found"); err != nil {
		return err
	}
	loan.Version++
	return nil
}

// ListLoansByLender retrieves every loan given by a lender, newest first.
func (s *SQLiteStore) ListLoansByLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE lender_id = ? ORDER BY created_at DESC`, lenderID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list lender loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

// ListLoansByBorrower retrieves every loan taken by a borrower, newest first.
func (s *SQLiteStore) ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE borrower_id = ? ORDER BY created_at DESC`, borrowerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list borrower loans: %w", err)
	}
	defer rows.Close()
	return scanLoans(rows)
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, lenderStr, borrowerStr string
	var nextDue, lastPayment sql.NullTime
	err := row.Scan(&idStr, &lenderStr, &borrowerStr, &loan.Principal, &loan.InterestRate, &loan.InterestType,
		&loan.TermMonths, &loan.PaymentFrequency, &loan.InstallmentAmount, &loan.TotalInstallments, &loan.TotalInterest,
		&loan.StartDate, &loan.EndDate, &loan.Status, &loan.Purpose, &loan.TotalPaid, &loan.RemainingBalance, &nextDue,
		&loan.PenaltyRate, &loan.TotalPenalty, &loan.GracePeriodDays, &loan.PaymentCount, &lastPayment, &loan.Notes,
		&loan.Version, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.LenderID = uuid.MustParse(lenderStr)
	loan.BorrowerID = uuid.MustParse(borrowerStr)
	loan.NextDueDate = timePtr(nextDue)
	loan.LastPaymentDate = timePtr(lastPayment)
	return &loan, nil
}

const installmentColumns = `id, loan_id, number, principal_portion, interest_portion, total_amount, due_date, paid_amount,
	remaining_amount, status, paid_date, penalty_amount, penalty_applied_date, days_overdue, payment_history,
	reminders_sent, last_reminder_date, version, created_at, updated_at`

// CreateInstallments writes a loan's schedule in one transaction, replacing
// any rows already stored for that loan.
func (s *SQLiteStore) CreateInstallments(ctx context.Context, installments []*models.Installment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cleared := make(map[uuid.UUID]bool)
	for _, inst := range installments {
		if cleared[inst.LoanID] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = ?`, inst.LoanID.String()); err != nil {
			return fmt.Errorf("failed to clear installments: %w", err)
		}
		cleared[inst.LoanID] = true
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare installment insert: %w", err)
	}
	defer stmt.Close()

	for _, inst := range installments {
		history, err := json.Marshal(inst.PaymentHistory)
		if err != nil {
			return fmt.Errorf("failed to encode payment history: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			inst.ID.String(), inst.LoanID.String(), inst.Number, inst.PrincipalPortion, inst.InterestPortion,
			inst.TotalAmount, inst.DueDate.UTC(), inst.PaidAmount, inst.RemainingAmount, inst.Status,
			nullTime(inst.PaidDate), inst.PenaltyAmount, nullTime(inst.PenaltyAppliedDate), inst.DaysOverdue,
			string(history), inst.RemindersSent, nullTime(inst.LastReminderDate), inst.Version,
			inst.CreatedAt.UTC(), inst.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to create installment %d: %w", inst.Number, err)
		}
	}

	return tx.Commit()
}

// GetInstallment retrieves an installment by its ID.
func (s *SQLiteStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id.String())
	inst, err := scanInstallment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("installment not found")
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// UpdateInstallment writes the installment if its version is unchanged and bumps the version.
func (s *SQLiteStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	history, err := json.Marshal(inst.PaymentHistory)
	if err != nil {
		return fmt.Errorf("failed to encode payment history: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE installments SET paid_amount = ?, remaining_amount = ?, status = ?, paid_date = ?, penalty_amount = ?,
			penalty_applied_date = ?, days_overdue = ?, payment_history = ?, reminders_sent = ?, last_reminder_date = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		inst.PaidAmount, inst.RemainingAmount, inst.Status, nullTime(inst.PaidDate), inst.PenaltyAmount,
		nullTime(inst.PenaltyAppliedDate), inst.DaysOverdue, string(history), inst.RemindersSent,
		nullTime(inst.LastReminderDate), inst.UpdatedAt.UTC(), inst.ID.String(), inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	if err := s.checkCAS(ctx, result, "installments", inst.ID, "installment not found"); err != nil {
		return err
	}
	inst.Version++
	return nil
}

// ListInstallments retrieves the installments of the given loans ordered by loan and number.
func (s *SQLiteStore) ListInstallments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Installment, error) {
	if len(loanIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(loanIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE loan_id IN (`+in+`) ORDER BY loan_id, number`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

func scanInstallment(row scanner) (*models.Installment, error) {
	var inst models.Installment
	var idStr, loanStr, history string
	var paidDate, penaltyDate, lastReminder sql.NullTime
	err := row.Scan(&idStr, &loanStr, &inst.Number, &inst.PrincipalPortion, &inst.InterestPortion, &inst.TotalAmount,
		&inst.DueDate, &inst.PaidAmount, &inst.RemainingAmount, &inst.Status, &paidDate, &inst.PenaltyAmount,
		&penaltyDate, &inst.DaysOverdue, &history, &inst.RemindersSent, &lastReminder, &inst.Version,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.ID = uuid.MustParse(idStr)
	inst.LoanID = uuid.MustParse(loanStr)
	inst.PaidDate = timePtr(paidDate)
	inst.PenaltyAppliedDate = timePtr(penaltyDate)
	inst.LastReminderDate = timePtr(lastReminder)
	if err := json.Unmarshal([]byte(history), &inst.PaymentHistory); err != nil {
		return nil, fmt.Errorf("failed to decode payment history: %w", err)
	}
	return &inst, nil
}

// checkCAS turns a zero-row CAS update into NotFound or ErrVersionConflict.
func (s *SQLiteStore) checkCAS(ctx context.Context, result sql.Result, table string, id uuid.UUID, notFound string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	found, err := s.exists(ctx, table, id)
	if err != nil {
		return fmt.Errorf("failed to check %s existence: %w", table, err)
	}
	if !found {
		return apperr.NotFound(notFound)
	}
	return ErrVersionConflict
}
