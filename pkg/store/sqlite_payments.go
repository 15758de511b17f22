package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

const paymentColumns = `id, loan_id, installment_id, payer_id, receiver_id, amount, principal_portion, interest_portion,
	penalty_portion, payment_date, due_date, method, type, status, receipt_number, metadata, is_overpayment,
	verification, needs_reconciliation, reconcile_reason, notes, created_at, updated_at`

// CreatePayment inserts a new payment. A taken receipt number yields ErrDuplicateReceipt.
func (s *SQLiteStore) CreatePayment(ctx context.Context, p *models.Payment) error {
	metadata, verification, err := encodePaymentDocs(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), nullUUID(p.InstallmentID), p.PayerID.String(), p.ReceiverID.String(),
		p.Amount, p.PrincipalPortion, p.InterestPortion, p.PenaltyPortion, p.PaymentDate.UTC(), nullTime(p.DueDate),
		p.Method, p.Type, p.Status, p.ReceiptNumber, metadata, boolInt(p.IsOverpayment), verification,
		boolInt(p.NeedsReconciliation), p.ReconcileReason, p.Notes, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by its ID.
func (s *SQLiteStore) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id.String())
	p, err := scanPayment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("payment not found")
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// UpdatePayment rewrites the status, documents and notes of a payment. The
// reconciliation flag is left to SetReconciliation.
func (s *SQLiteStore) UpdatePayment(ctx context.Context, p *models.Payment) error {
	metadata, verification, err := encodePaymentDocs(p)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, metadata = ?, verification = ?, notes = ?, updated_at = ? WHERE id = ?`,
		p.Status, metadata, verification, p.Notes, p.UpdatedAt.UTC(), p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("payment not found")
	}
	return nil
}

// SetReconciliation sets or clears a payment's reconciliation flag.
func (s *SQLiteStore) SetReconciliation(ctx context.Context, id uuid.UUID, needs bool, reason string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE payments SET needs_reconciliation = ?, reconcile_reason = ?, updated_at = ? WHERE id = ?`,
		boolInt(needs), reason, at.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation flag: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("payment not found")
	}
	return nil
}

// ListPayments retrieves the payments of the given loans, newest first.
func (s *SQLiteStore) ListPayments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Payment, error) {
	if len(loanIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(loanIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id IN (`+in+`) ORDER BY payment_date DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

// ListPaymentsNeedingReconciliation retrieves every payment flagged after a partial failure.
func (s *SQLiteStore) ListPaymentsNeedingReconciliation(ctx context.Context) ([]*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE needs_reconciliation = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments needing reconciliation: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row scanner) (*models.Payment, error) {
	var p models.Payment
	var idStr, loanStr, payerStr, receiverStr, metadata, verification string
	var installmentStr sql.NullString
	var dueDate sql.NullTime
	var overpayment, reconcile int
	err := row.Scan(&idStr, &loanStr, &installmentStr, &payerStr, &receiverStr, &p.Amount, &p.PrincipalPortion,
		&p.InterestPortion, &p.PenaltyPortion, &p.PaymentDate, &dueDate, &p.Method, &p.Type, &p.Status,
		&p.ReceiptNumber, &metadata, &overpayment, &verification, &reconcile, &p.ReconcileReason, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.MustParse(idStr)
	p.LoanID = uuid.MustParse(loanStr)
	p.PayerID = uuid.MustParse(payerStr)
	p.ReceiverID = uuid.MustParse(receiverStr)
	if p.InstallmentID, err = uuidPtr(installmentStr); err != nil {
		return nil, fmt.Errorf("invalid installment id: %w", err)
	}
	p.DueDate = timePtr(dueDate)
	p.IsOverpayment = overpayment == 1
	p.NeedsReconciliation = reconcile == 1
	if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode payment metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(verification), &p.Verification); err != nil {
		return nil, fmt.Errorf("failed to decode payment verification: %w", err)
	}
	return &p, nil
}

func encodePaymentDocs(p *models.Payment) (string, string, error) {
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode payment metadata: %w", err)
	}
	verification, err := json.Marshal(p.Verification)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode payment verification: %w", err)
	}
	return string(metadata), string(verification), nil
}
