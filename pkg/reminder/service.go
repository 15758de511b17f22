package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultNotificationLimit = 20

// Store is the storage the reminder service reads and writes.
type Store interface {
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)

	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
	UpdateReminder(ctx context.Context, reminder *models.Reminder) error
	ListRemindersForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error)

	GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
}

type Service struct {
	storage Store
	logger  *logrus.Logger
	now     func() time.Time
}

func NewService(s Store, logger *logrus.Logger) *Service {
	return &Service{storage: s, logger: logger, now: time.Now}
}

// Request schedules a reminder. RecipientID defaults to the creator.
type Request struct {
	CreatorID     uuid.UUID                 `json:"-"`
	RecipientID   *uuid.UUID                `json:"user_id,omitempty"`
	LoanID        uuid.UUID                 `json:"loan_id"`
	InstallmentID *uuid.UUID                `json:"installment_id,omitempty"`
	Type          models.ReminderType       `json:"reminder_type"`
	Title         string                    `json:"title"`
	Message       string                    `json:"message"`
	ScheduledDate time.Time                 `json:"scheduled_date"`
	DueDate       *time.Time                `json:"due_date,omitempty"`
	Amount        *decimal.Decimal          `json:"amount,omitempty"`
	Priority      models.Priority           `json:"priority"`
	Channels      []models.Channel          `json:"channels"`
	Frequency     models.Recurrence         `json:"frequency"`
	Recurring     models.RecurringConfig    `json:"recurring_config"`
	Conditions    models.ReminderConditions `json:"conditions"`
	Escalation    models.Escalation         `json:"escalation"`
	ExpiresAt     *time.Time                `json:"expires_at,omitempty"`
}

func (r *Request) validate() error {
	if !r.Type.Valid() {
		return apperr.Validation("invalid reminder type %q", r.Type)
	}
	if r.Title == "" || r.Message == "" {
		return apperr.Validation("title and message are required")
	}
	if r.ScheduledDate.IsZero() {
		return apperr.Validation("scheduled date is required")
	}
	if r.LoanID == uuid.Nil {
		return apperr.Validation("loan id is required")
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return apperr.Validation("invalid channel %q", ch)
		}
	}
	switch r.Frequency {
	case "", models.RecurOnce, models.RecurDaily, models.RecurWeekly, models.RecurMonthly:
	default:
		return apperr.Validation("invalid frequency %q", r.Frequency)
	}
	switch r.Priority {
	case "", models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
	default:
		return apperr.Validation("invalid priority %q", r.Priority)
	}
	if r.Recurring.Interval < 0 || r.Recurring.MaxOccurrences < 0 {
		return apperr.Validation("recurring interval and max occurrences must not be negative")
	}
	if r.Amount != nil && r.Amount.IsNegative() {
		return apperr.Validation("amount must not be negative")
	}
	return nil
}

// Create schedules a reminder on a loan the creator is party to.
func (s *Service) Create(ctx context.Context, req Request) (*models.Reminder, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	loan, err := s.storage.GetLoan(ctx, req.LoanID)
	if err != nil {
		return nil, err
	}
	recipient := req.CreatorID
	if req.RecipientID != nil {
		recipient = *req.RecipientID
	}
	if !loan.IsParty(req.CreatorID) || !loan.IsParty(recipient) {
		return nil, apperr.Authorization("not a party to this loan")
	}
	if req.InstallmentID != nil {
		inst, err := s.storage.GetInstallment(ctx, *req.InstallmentID)
		if err != nil {
			return nil, err
		}
		if inst.LoanID != loan.ID {
			return nil, apperr.NotFound("installment not found on this loan")
		}
		if req.DueDate == nil {
			due := inst.DueDate
			req.DueDate = &due
		}
	}

	now := s.now().UTC()
	r := &models.Reminder{
		ID:               uuid.New(),
		UserID:           recipient,
		LoanID:           loan.ID,
		InstallmentID:    req.InstallmentID,
		Type:             req.Type,
		Title:            req.Title,
		Message:          req.Message,
		ScheduledDate:    req.ScheduledDate.UTC(),
		DueDate:          req.DueDate,
		Amount:           req.Amount,
		Priority:         req.Priority,
		Status:           models.ReminderScheduled,
		Channels:         req.Channels,
		DeliveryAttempts: []models.DeliveryAttempt{},
		Frequency:        req.Frequency,
		Recurring:        req.Recurring,
		Conditions:       req.Conditions,
		Escalation:       req.Escalation,
		IsActive:         true,
		ExpiresAt:        req.ExpiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.Recurring.CurrentOccurrence = 0
	r.Escalation.IsEscalated = false
	r.Escalation.EscalatedAt = nil
	if r.Priority == "" {
		r.Priority = models.PriorityMedium
	}
	if len(r.Channels) == 0 {
		r.Channels = []models.Channel{models.ChannelInApp}
	}
	if r.Frequency == "" {
		r.Frequency = models.RecurOnce
	}

	if err := s.storage.CreateReminder(ctx, r); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"reminder_id": r.ID,
		"loan_id":     r.LoanID,
		"scheduled":   r.ScheduledDate,
	}).Info("Reminder scheduled")
	return r, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error) {
	return s.storage.ListRemindersForUser(ctx, userID, activeOnly)
}

// transitionError maps state machine refusals onto client errors.
func transitionError(err error) error {
	if errors.Is(err, ErrInactive) || errors.Is(err, ErrNotSent) || errors.Is(err, ErrEscalationNotConfigured) {
		return apperr.Wrap(apperr.KindValidation, err, err.Error())
	}
	return err
}

func validAction(a models.ResponseAction) bool {
	switch a {
	case "", models.ActionPaymentMade, models.ActionPaymentScheduled, models.ActionContactLender,
		models.ActionDisputeRaised, models.ActionIgnored:
		return true
	}
	return false
}

// Acknowledge records the recipient's response to a reminder.
func (s *Service) Acknowledge(ctx context.Context, id, userID uuid.UUID, text string, action models.ResponseAction) (*models.Reminder, error) {
	if !validAction(action) {
		return nil, apperr.Validation("invalid action %q", action)
	}
	r, err := s.storage.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, apperr.Authorization("reminder belongs to another user")
	}
	updated, intent, err := Acknowledge(*r, text, action, s.now().UTC())
	if err != nil {
		return nil, transitionError(err)
	}
	return s.persist(ctx, updated, intent)
}

// Cancel stops a reminder. The recipient and the loan's lender may cancel.
func (s *Service) Cancel(ctx context.Context, id, userID uuid.UUID) (*models.Reminder, error) {
	r, err := s.storage.GetReminder(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		loan, err := s.storage.GetLoan(ctx, r.LoanID)
		if err != nil {
			return nil, err
		}
		if loan.LenderID != userID {
			return nil, apperr.Authorization("reminder belongs to another user")
		}
	}
	updated, intent, err := Cancel(*r, s.now().UTC())
	if err != nil {
		return nil, transitionError(err)
	}
	return s.persist(ctx, updated, intent)
}

func (s *Service) persist(ctx context.Context, r models.Reminder, intent Intent) (*models.Reminder, error) {
	if intent.Has(IntentPersist) {
		if err := s.storage.UpdateReminder(ctx, &r); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{"reminder_id": r.ID, "status": r.Status}).Debug("Reminder updated")
	}
	return &r, nil
}

func (s *Service) Notifications(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	return s.storage.ListNotificationsForUser(ctx, userID, limit)
}

func (s *Service) ownNotification(ctx context.Context, id, userID uuid.UUID) (*models.Notification, error) {
	n, err := s.storage.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, apperr.Authorization("notification belongs to another user")
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, id, userID uuid.UUID) (*models.Notification, error) {
	n, err := s.ownNotification(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	updated := MarkRead(*n, s.now().UTC())
	if err := s.storage.UpdateNotification(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) MarkActionTaken(ctx context.Context, id, userID uuid.UUID) (*models.Notification, error) {
	n, err := s.ownNotification(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	updated := MarkActionTaken(*n, s.now().UTC())
	if err := s.storage.UpdateNotification(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}
