package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationClosed   ConversationStatus = "closed"
)

type ConversationType string

const (
	ConversationGeneral         ConversationType = "general"
	ConversationLoanSpecific    ConversationType = "loan_specific"
	ConversationPaymentGuidance ConversationType = "payment_guidance"
	ConversationPenaltyQuery    ConversationType = "penalty_query"
)

func (t ConversationType) Valid() bool {
	switch t {
	case ConversationGeneral, ConversationLoanSpecific, ConversationPaymentGuidance, ConversationPenaltyQuery:
		return true
	}
	return false
}

type ConversationMetadata struct {
	TotalMessages      int        `json:"total_messages"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	AISuggestionsCount int        `json:"ai_suggestions_count"`
}

// Conversation is a user's thread with the loan assistant, optionally tied
// to one of their loans.
type Conversation struct {
	ID         uuid.UUID            `json:"id"`
	UserID     uuid.UUID            `json:"user_id"`
	LoanID     *uuid.UUID           `json:"loan_id,omitempty"`
	Title      string               `json:"title"`
	Status     ConversationStatus   `json:"status"`
	Type       ConversationType     `json:"conversation_type"`
	Metadata   ConversationMetadata `json:"metadata"`
	IsArchived bool                 `json:"is_archived"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageAI     MessageType = "ai"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageAI, MessageSystem:
		return true
	}
	return false
}

type ReplyKind string

const (
	ReplyPaymentPlan        ReplyKind = "payment_plan"
	ReplyPenaltyExplanation ReplyKind = "penalty_explanation"
	ReplyGeneralAdvice      ReplyKind = "general_advice"
	ReplyLoanCalculation    ReplyKind = "loan_calculation"
)

// AIResponse describes how an assistant message was produced.
type AIResponse struct {
	SuggestionType ReplyKind `json:"suggestion_type"`
	Confidence     float64   `json:"confidence"`
	TokensUsed     int       `json:"tokens_used"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	ModelUsed      string    `json:"model_used"`
}

type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	UserID         uuid.UUID   `json:"user_id"`
	Type           MessageType `json:"message_type"`
	Content        string      `json:"content"`
	AIResponse     *AIResponse `json:"ai_response,omitempty"`
	IsRead         bool        `json:"is_read"`
	IsDeleted      bool        `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
