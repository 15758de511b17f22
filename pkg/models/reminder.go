package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type ReminderType string

const (
	ReminderPaymentDue         ReminderType = "payment_due"
	ReminderPaymentOverdue     ReminderType = "payment_overdue"
	ReminderPenaltyWarning     ReminderType = "penalty_warning"
	ReminderUpcomingPayment    ReminderType = "upcoming_payment"
	ReminderLoanCompletion     ReminderType = "loan_completion"
	ReminderDocumentSubmission ReminderType = "document_submission"
	ReminderAgreementSigning   ReminderType = "agreement_signing"
	ReminderCustom             ReminderType = "custom"
)

func (t ReminderType) Valid() bool {
	switch t {
	case ReminderPaymentDue, ReminderPaymentOverdue, ReminderPenaltyWarning, ReminderUpcomingPayment,
		ReminderLoanCompletion, ReminderDocumentSubmission, ReminderAgreementSigning, ReminderCustom:
		return true
	}
	return false
}

type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderExpired   ReminderStatus = "expired"
)

type Recurrence string

const (
	RecurOnce    Recurrence = "once"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptPending AttemptStatus = "pending"
)

type DeliveryAttempt struct {
	Channel      Channel       `json:"channel"`
	AttemptDate  time.Time     `json:"attempt_date"`
	Status       AttemptStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	DeliveryID   string        `json:"delivery_id,omitempty"`
}

type RecurringConfig struct {
	Interval          int        `json:"interval,omitempty"` // Days, overrides the frequency step when set
	MaxOccurrences    int        `json:"max_occurrences,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	CurrentOccurrence int        `json:"current_occurrence"`
}

type ReminderConditions struct {
	DaysBeforeDue       *int             `json:"days_before_due,omitempty"`
	DaysAfterDue        *int             `json:"days_after_due,omitempty"`
	MinimumAmount       *decimal.Decimal `json:"minimum_amount,omitempty"`
	OnlyIfUnpaid        bool             `json:"only_if_unpaid"`
	SkipIfPartiallyPaid bool             `json:"skip_if_partially_paid"`
}

type Escalation struct {
	EscalateAfterDays int        `json:"escalate_after_days,omitempty"`
	EscalateToUserID  *uuid.UUID `json:"escalate_to_user_id,omitempty"`
	Message           string     `json:"escalation_message,omitempty"`
	IsEscalated       bool       `json:"is_escalated"`
	EscalatedAt       *time.Time `json:"escalated_at,omitempty"`
}

type ResponseAction string

const (
	ActionPaymentMade      ResponseAction = "payment_made"
	ActionPaymentScheduled ResponseAction = "payment_scheduled"
	ActionContactLender    ResponseAction = "contact_lender"
	ActionDisputeRaised    ResponseAction = "dispute_raised"
	ActionIgnored          ResponseAction = "ignored"
)

type UserResponse struct {
	IsAcknowledged bool           `json:"is_acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResponseText   string         `json:"response_text,omitempty"`
	ActionTaken    ResponseAction `json:"action_taken,omitempty"`
	ActionTakenAt  *time.Time     `json:"action_taken_at,omitempty"`
}

type Reminder struct {
	ID               uuid.UUID          `json:"id"`
	UserID           uuid.UUID          `json:"user_id"`
	LoanID           uuid.UUID          `json:"loan_id"`
	InstallmentID    *uuid.UUID         `json:"installment_id,omitempty"`
	Type             ReminderType       `json:"reminder_type"`
	Title            string             `json:"title"`
	Message          string             `json:"message"`
	ScheduledDate    time.Time          `json:"scheduled_date"`
	DueDate          *time.Time         `json:"due_date,omitempty"`
	Amount           *decimal.Decimal   `json:"amount,omitempty"`
	Priority         Priority           `json:"priority"`
	Status           ReminderStatus     `json:"status"`
	Channels         []Channel          `json:"channels"`
	DeliveryAttempts []DeliveryAttempt  `json:"delivery_attempts"`
	Frequency        Recurrence         `json:"frequency"`
	Recurring        RecurringConfig    `json:"recurring_config"`
	Conditions       ReminderConditions `json:"conditions"`
	Escalation       Escalation         `json:"escalation"`
	UserResponse     UserResponse       `json:"user_response"`
	IsActive         bool               `json:"is_active"`
	SentAt           *time.Time         `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time         `json:"delivered_at,omitempty"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}
