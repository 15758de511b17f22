package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
)

var (
	// ErrVersionConflict is returned by CAS updates when the stored version moved on.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateReceipt is returned when a receipt number is already taken.
	ErrDuplicateReceipt = errors.New("duplicate receipt number")
	// ErrDuplicateEmail is returned when a user with the email already exists.
	ErrDuplicateEmail = errors.New("email already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateUser(ctx context.Context, user *models.User) error
}

// LoanStore persists loans and their installments. UpdateLoan and
// UpdateInstallment compare the Version field and bump it on success.
// CreateInstallments replaces any installments already stored for the loan.
type LoanStore interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	ListLoansByLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*models.Loan, error)

	CreateInstallments(ctx context.Context, installments []*models.Installment) error
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	UpdateInstallment(ctx context.Context, inst *models.Installment) error
	ListInstallments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Installment, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	// SetReconciliation writes only the reconciliation flag and reason, so it
	// never overwrites a concurrent status or verification change.
	SetReconciliation(ctx context.Context, id uuid.UUID, needs bool, reason string, at time.Time) error
	ListPayments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Payment, error)
	ListPaymentsNeedingReconciliation(ctx context.Context) ([]*models.Payment, error)
}

type ReminderStore interface {
	CreateReminder(ctx context.Context, reminder *models.Reminder) error
	GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error)
	UpdateReminder(ctx context.Context, reminder *models.Reminder) error
	ListRemindersForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error)
	ListDueReminders(ctx context.Context, before time.Time) ([]*models.Reminder, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotificationsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	// ListRetryableNotifications returns unread notifications with a failed
	// channel whose retry count is still below maxRetries.
	ListRetryableNotifications(ctx context.Context, maxRetries int) ([]*models.Notification, error)
}

type EventStore interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
}

// ChatStore persists assistant conversations and their messages.
// AddConversationActivity bumps the message counters in place.
type ChatStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error)
	AddConversationActivity(ctx context.Context, id uuid.UUID, messages, suggestions int, at time.Time) error
	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Message, error)
}

// Storage defines the interface for all database operations.
type Storage interface {
	UserStore
	LoanStore
	PaymentStore
	ReminderStore
	NotificationStore
	EventStore
	ChatStore

	Close() error
}
