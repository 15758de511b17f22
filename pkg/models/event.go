package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventLoanCreated           EventType = "loan_created"
	EventPaymentMade           EventType = "payment_made"
	EventPaymentMissed         EventType = "payment_missed"
	EventLoanCompleted         EventType = "loan_completed"
	EventReminderSent          EventType = "reminder_sent"
	EventPenaltyApplied        EventType = "penalty_applied"
	EventDashboardViewed       EventType = "dashboard_viewed"
	EventAISuggestionRequested EventType = "ai_suggestion_requested"
)

func (t EventType) Valid() bool {
	switch t {
	case EventLoanCreated, EventPaymentMade, EventPaymentMissed, EventLoanCompleted,
		EventReminderSent, EventPenaltyApplied, EventDashboardViewed, EventAISuggestionRequested:
		return true
	}
	return false
}

// Event is an append-only analytics record.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"user_id"`
	LoanID    *uuid.UUID             `json:"loan_id,omitempty"`
	Type      EventType              `json:"event_type"`
	Context   map[string]interface{} `json:"context,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

type EventFilter struct {
	UserID *uuid.UUID
	LoanID *uuid.UUID
	Type   EventType
	From   *time.Time
	To     *time.Time
	Limit  int
}
