package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NotificationType string

const (
	NotifyPaymentReminder  NotificationType = "payment_reminder"
	NotifyPaymentOverdue   NotificationType = "payment_overdue"
	NotifyPaymentReceived  NotificationType = "payment_received"
	NotifyLoanApproved     NotificationType = "loan_approved"
	NotifyLoanRejected     NotificationType = "loan_rejected"
	NotifyLoanCompleted    NotificationType = "loan_completed"
	NotifyPenaltyApplied   NotificationType = "penalty_applied"
	NotifySystemUpdate     NotificationType = "system_update"
	NotifyDocumentRequired NotificationType = "document_required"
	NotifyAgreementSigned  NotificationType = "agreement_signed"
)

type NotificationStatus string

const (
	NotificationSent      NotificationStatus = "sent"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationRead      NotificationStatus = "read"
	NotificationFailed    NotificationStatus = "failed"
)

type ChannelStatus string

const (
	ChannelPending   ChannelStatus = "pending"
	ChannelSent      ChannelStatus = "sent"
	ChannelDelivered ChannelStatus = "delivered"
	ChannelRead      ChannelStatus = "read"
	ChannelFailed    ChannelStatus = "failed"
	ChannelBounced   ChannelStatus = "bounced"
)

type ChannelDelivery struct {
	Status       ChannelStatus `json:"status"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time    `json:"delivered_at,omitempty"`
	ReadAt       *time.Time    `json:"read_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

type NotificationData struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	DueDate     *time.Time       `json:"due_date,omitempty"`
	DaysOverdue int              `json:"days_overdue,omitempty"`
	ActionURL   string           `json:"action_url,omitempty"`
	ButtonText  string           `json:"button_text,omitempty"`
}

const MaxNotificationRetries = 3

type Notification struct {
	ID             uuid.UUID                   `json:"id"`
	UserID         uuid.UUID                   `json:"user_id"`
	LoanID         *uuid.UUID                  `json:"loan_id,omitempty"`
	InstallmentID  *uuid.UUID                  `json:"installment_id,omitempty"`
	PaymentID      *uuid.UUID                  `json:"payment_id,omitempty"`
	Type           NotificationType            `json:"type"`
	Title          string                      `json:"title"`
	Message        string                      `json:"message"`
	Priority       Priority                    `json:"priority"`
	Status         NotificationStatus          `json:"status"`
	Channels       []Channel                   `json:"channels"`
	DeliveryStatus map[Channel]ChannelDelivery `json:"delivery_status"`
	Data           NotificationData            `json:"data"`
	ScheduledFor   time.Time                   `json:"scheduled_for"`
	ExpiresAt      *time.Time                  `json:"expires_at,omitempty"`
	IsRead         bool                        `json:"is_read"`
	ReadAt         *time.Time                  `json:"read_at,omitempty"`
	ActionTaken    bool                        `json:"action_taken"`
	ActionTakenAt  *time.Time                  `json:"action_taken_at,omitempty"`
	RetryCount     int                         `json:"retry_count"`
	LastRetryAt    *time.Time                  `json:"last_retry_at,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}
