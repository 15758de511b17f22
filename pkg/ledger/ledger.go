package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// maxUpdateAttempts bounds the reload-and-retry loop around CAS updates.
const maxUpdateAttempts = 5

// Store is the subset of storage the ledger needs.
type Store interface {
	store.LoanStore
	store.PaymentStore
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateEvent(ctx context.Context, event *models.Event) error
}

// Ledger handles the business logic for loans and payments.
type Ledger struct {
	storage   Store
	logger    *logrus.Logger
	tolerance decimal.Decimal
	now       func() time.Time

	mu      sync.Mutex
	randSrc rand.Source // receipt numbers
}

// NewLedger creates a new Ledger with a given Store implementation.
func NewLedger(s Store, logger *logrus.Logger, tolerance decimal.Decimal) *Ledger {
	return &Ledger{
		storage:   s,
		logger:    logger,
		tolerance: tolerance,
		now:       time.Now,
		randSrc:   rand.NewSource(time.Now().UnixNano()),
	}
}

// LoanRequest carries the terms of a new loan.
type LoanRequest struct {
	LenderID         uuid.UUID               `json:"-"`
	BorrowerID       uuid.UUID               `json:"borrower_id"`
	Principal        decimal.Decimal         `json:"principal"`
	InterestRate     decimal.Decimal         `json:"interest_rate"`
	InterestType     models.InterestType     `json:"interest_type"`
	TermMonths       int                     `json:"term_months"`
	PaymentFrequency models.PaymentFrequency `json:"payment_frequency"`
	StartDate        time.Time               `json:"start_date"`
	PenaltyRate      *decimal.Decimal        `json:"penalty_rate,omitempty"`
	GracePeriodDays  *int                    `json:"grace_period_days,omitempty"`
	Purpose          string                  `json:"purpose"`
	Notes            string                  `json:"notes"`
}

// LoanDetails is a loan together with its freshly derived installments.
type LoanDetails struct {
	Loan         *models.Loan          `json:"loan"`
	Installments []*models.Installment `json:"installments"`
}

var (
	defaultPenaltyRate = decimal.NewFromInt(5)
	maxInterestRate    = decimal.NewFromInt(100)
)

const defaultGracePeriodDays = 3

func (req LoanRequest) validate() error {
	if !req.Principal.IsPositive() {
		return apperr.Validation("principal must be positive")
	}
	if req.InterestRate.IsNegative() || req.InterestRate.GreaterThan(maxInterestRate) {
		return apperr.Validation("interest rate must be between 0 and 100")
	}
	if req.TermMonths < 1 {
		return apperr.Validation("term must be at least one month")
	}
	if req.InterestType != "" && !req.InterestType.Valid() {
		return apperr.Validation("invalid interest type %q", req.InterestType)
	}
	if req.PaymentFrequency != "" && !req.PaymentFrequency.Valid() {
		return apperr.Validation("invalid payment frequency %q", req.PaymentFrequency)
	}
	if req.PenaltyRate != nil && (req.PenaltyRate.IsNegative() || req.PenaltyRate.GreaterThan(maxInterestRate)) {
		return apperr.Validation("penalty rate must be between 0 and 100")
	}
	if req.GracePeriodDays != nil && *req.GracePeriodDays < 0 {
		return apperr.Validation("grace period cannot be negative")
	}
	if req.LenderID == req.BorrowerID {
		return apperr.Validation("lender and borrower must differ")
	}
	return nil
}

// CreateLoan records a pending loan offered by a lender to a borrower.
func (l *Ledger) CreateLoan(ctx context.Context, req LoanRequest) (*models.Loan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	lender, err := l.storage.GetUser(ctx, req.LenderID)
	if err != nil {
		return nil, err
	}
	if lender.Role != models.RoleLender && lender.Role != models.RoleAdmin {
		return nil, apperr.Authorization("only lenders can create loans")
	}
	if _, err := l.storage.GetUser(ctx, req.BorrowerID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("borrower not found")
		}
		return nil, err
	}

	now := l.now().UTC()
	loan := models.Loan{
		ID:               uuid.New(),
		LenderID:         req.LenderID,
		BorrowerID:       req.BorrowerID,
		Principal:        req.Principal,
		InterestRate:     req.InterestRate,
		InterestType:     req.InterestType,
		TermMonths:       req.TermMonths,
		PaymentFrequency: req.PaymentFrequency,
		StartDate:        req.StartDate,
		Status:           models.LoanStatusPending,
		Purpose:          req.Purpose,
		PenaltyRate:      defaultPenaltyRate,
		GracePeriodDays:  defaultGracePeriodDays,
		TotalPaid:        decimal.Zero,
		TotalPenalty:     decimal.Zero,
		Notes:            req.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if loan.InterestType == "" {
		loan.InterestType = models.InterestSimple
	}
	if loan.PaymentFrequency == "" {
		loan.PaymentFrequency = models.FrequencyMonthly
	}
	if loan.StartDate.IsZero() {
		loan.StartDate = now
	}
	if req.PenaltyRate != nil {
		loan.PenaltyRate = *req.PenaltyRate
	}
	if req.GracePeriodDays != nil {
		loan.GracePeriodDays = *req.GracePeriodDays
	}

	// The schedule is previewed now and persisted on activation.
	loan, _ = GenerateSchedule(loan, now)
	loan, err = DeriveLoan(loan, l.tolerance)
	if err != nil {
		return nil, err
	}

	if err := l.storage.CreateLoan(ctx, &loan); err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"lender_id": loan.LenderID,
		"principal": loan.Principal.StringFixed(2),
	}).Info("Loan created")

	l.track(ctx, loan.LenderID, &loan.ID, models.EventLoanCreated, map[string]interface{}{
		"principal": loan.Principal.StringFixed(2),
	})
	return &loan, nil
}

// ActivateLoan persists the installment schedule and moves a pending loan to active.
func (l *Ledger) ActivateLoan(ctx context.Context, loanID, actorID uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.LenderID != actorID {
		return nil, apperr.Authorization("only the lender can activate this loan")
	}
	if !canTransition(loan.Status, models.LoanStatusActive) {
		return nil, apperr.Validation("cannot activate a %s loan", loan.Status)
	}

	now := l.now().UTC()
	scheduled, installments := GenerateSchedule(*loan, now)
	if err := l.storage.CreateInstallments(ctx, installments); err != nil {
		return nil, err
	}

	scheduled.Status = models.LoanStatusActive
	scheduled.NextDueDate = &installments[0].DueDate
	scheduled.UpdatedAt = now
	scheduled = deriveLoanFields(scheduled)
	if err := l.storage.UpdateLoan(ctx, &scheduled); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, apperr.Conflict("loan %s was updated concurrently", loanID)
		}
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"loan_id":      loan.ID,
		"installments": len(installments),
	}).Info("Loan activated")
	return &scheduled, nil
}

// CancelLoan withdraws a loan that has not been activated yet.
func (l *Ledger) CancelLoan(ctx context.Context, loanID, actorID uuid.UUID) (*models.Loan, error) {
	return l.transition(ctx, loanID, actorID, models.LoanStatusCanceled, func(loan *models.Loan) bool {
		return loan.IsParty(actorID)
	})
}

// MarkDefaulted records that the borrower stopped repaying an active loan.
func (l *Ledger) MarkDefaulted(ctx context.Context, loanID, actorID uuid.UUID) (*models.Loan, error) {
	return l.transition(ctx, loanID, actorID, models.LoanStatusDefaulted, func(loan *models.Loan) bool {
		return loan.LenderID == actorID
	})
}

func (l *Ledger) transition(ctx context.Context, loanID, actorID uuid.UUID, to models.LoanStatus, allowed func(*models.Loan) bool) (*models.Loan, error) {
	var out *models.Loan
	err := retryOnConflict(func() error {
		loan, err := l.storage.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !allowed(loan) {
			return apperr.Authorization("not allowed to mark this loan %s", to)
		}
		if !canTransition(loan.Status, to) {
			return apperr.Validation("cannot move a %s loan to %s", loan.Status, to)
		}
		loan.Status = to
		loan.UpdatedAt = l.now().UTC()
		if err := l.storage.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		out = loan
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, apperr.Conflict("loan %s was updated concurrently", loanID)
		}
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{"loan_id": loanID, "status": to, "actor_id": actorID}).Info("Loan status changed")
	return out, nil
}

// GetLoanDetails returns the loan with installments re-derived at the current
// time. Penalties that became due are persisted on the way out.
func (l *Ledger) GetLoanDetails(ctx context.Context, loanID, actorID uuid.UUID) (*LoanDetails, error) {
	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsParty(actorID) {
		return nil, apperr.Authorization("not a party to this loan")
	}
	stored, err := l.storage.ListInstallments(ctx, []uuid.UUID{loanID})
	if err != nil {
		return nil, err
	}

	values := make([]models.Installment, len(stored))
	for i, inst := range stored {
		values[i] = *inst
	}
	refresh := RefreshLoan(*loan, values, l.now().UTC())

	for _, i := range refresh.Penalized {
		inst := refresh.Installments[i]
		if err := l.storage.UpdateInstallment(ctx, &inst); err != nil {
			l.logger.WithError(err).WithField("installment_id", inst.ID).Warn("Failed to persist penalty")
			continue
		}
		refresh.Installments[i].Version = inst.Version
		l.track(ctx, loan.BorrowerID, &loan.ID, models.EventPenaltyApplied, map[string]interface{}{
			"installment_number": inst.Number,
			"penalty":            inst.PenaltyAmount.StringFixed(2),
		})
	}
	if len(refresh.Penalized) > 0 {
		updated := refresh.Loan
		updated.UpdatedAt = l.now().UTC()
		if err := l.storage.UpdateLoan(ctx, &updated); err != nil {
			l.logger.WithError(err).WithField("loan_id", loan.ID).Warn("Failed to persist loan penalty total")
		} else {
			refresh.Loan = updated
		}
	}

	details := &LoanDetails{Loan: &refresh.Loan, Installments: make([]*models.Installment, len(refresh.Installments))}
	for i := range refresh.Installments {
		details.Installments[i] = &refresh.Installments[i]
	}
	return details, nil
}

// ListLoans returns the loans a user lends or borrows.
func (l *Ledger) ListLoans(ctx context.Context, userID uuid.UUID, asLender bool) ([]*models.Loan, error) {
	var loans []*models.Loan
	var err error
	if asLender {
		loans, err = l.storage.ListLoansByLender(ctx, userID)
	} else {
		loans, err = l.storage.ListLoansByBorrower(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	for i, loan := range loans {
		derived := deriveLoanFields(*loan)
		loans[i] = &derived
	}
	return loans, nil
}

// track writes an analytics event; failures are logged, never surfaced.
func (l *Ledger) track(ctx context.Context, userID uuid.UUID, loanID *uuid.UUID, eventType models.EventType, data map[string]interface{}) {
	event := &models.Event{
		ID:        uuid.New(),
		UserID:    userID,
		LoanID:    loanID,
		Type:      eventType,
		Context:   data,
		CreatedAt: l.now().UTC(),
	}
	if err := l.storage.CreateEvent(ctx, event); err != nil {
		l.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to record analytics event")
	}
}

// retryOnConflict runs fn until it stops returning ErrVersionConflict or the
// attempts run out, in which case the last conflict is returned.
func retryOnConflict(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if err = fn(); !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
	return err
}
