// Package chat keeps assistant conversations and their messages, and answers
// user messages through a pluggable Responder.
package chat

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultTitle     = "New Conversation"
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type Store interface {
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)

	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error)
	AddConversationActivity(ctx context.Context, id uuid.UUID, messages, suggestions int, at time.Time) error
	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Message, error)
}

type Service struct {
	storage   Store
	responder Responder
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(s Store, responder Responder, logger *logrus.Logger) *Service {
	return &Service{storage: s, responder: responder, logger: logger, now: time.Now}
}

// ConversationRequest opens a conversation, optionally about one loan.
type ConversationRequest struct {
	UserID uuid.UUID               `json:"-"`
	LoanID *uuid.UUID              `json:"loan_id,omitempty"`
	Title  string                  `json:"title"`
	Type   models.ConversationType `json:"conversation_type"`
}

// CreateConversation opens a conversation. A loan, when given, must be one the
// user is a party to.
func (s *Service) CreateConversation(ctx context.Context, req ConversationRequest) (*models.Conversation, error) {
	if req.Type == "" {
		req.Type = models.ConversationGeneral
		if req.LoanID != nil {
			req.Type = models.ConversationLoanSpecific
		}
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("invalid conversation type %q", req.Type)
	}
	if req.LoanID != nil {
		loan, err := s.storage.GetLoan(ctx, *req.LoanID)
		if err != nil {
			return nil, err
		}
		if !loan.IsParty(req.UserID) {
			return nil, apperr.Authorization("not a party to this loan")
		}
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}

	now := s.now().UTC()
	c := &models.Conversation{
		ID:        uuid.New(),
		UserID:    req.UserID,
		LoanID:    req.LoanID,
		Title:     title,
		Status:    models.ConversationActive,
		Type:      req.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.storage.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"conversation_id": c.ID, "user_id": c.UserID}).Info("Conversation created")
	return c, nil
}

// Conversations lists the user's open conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	conversations, err := s.storage.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conversations == nil {
		conversations = []*models.Conversation{}
	}
	return conversations, nil
}

func (s *Service) owned(ctx context.Context, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	c, err := s.storage.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, apperr.Authorization("not your conversation")
	}
	return c, nil
}

type MessageRequest struct {
	ConversationID uuid.UUID          `json:"-"`
	UserID         uuid.UUID          `json:"-"`
	Content        string             `json:"content"`
	Type           models.MessageType `json:"message_type"`
}

// Exchange is a stored message plus the assistant's reply to it, if any.
type Exchange struct {
	Message *models.Message `json:"message"`
	Reply   *models.Message `json:"reply,omitempty"`
}

// SendMessage stores a message in one of the user's conversations. User
// messages get an assistant reply; a responder failure is logged and the
// message is kept without one.
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) (*Exchange, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" || req.Type == "" {
		return nil, apperr.Validation("content and message type are required")
	}
	if req.Type != models.MessageUser && req.Type != models.MessageSystem {
		return nil, apperr.Validation("message type must be user or system")
	}
	conv, err := s.owned(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Type:           req.Type,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.storage.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.storage.AddConversationActivity(ctx, conv.ID, 1, 0, now); err != nil {
		return nil, err
	}

	out := &Exchange{Message: msg}
	if req.Type != models.MessageUser {
		return out, nil
	}

	log := s.logger.WithFields(logrus.Fields{"conversation_id": conv.ID, "message_id": msg.ID})
	started := s.now()
	reply, err := s.responder.Respond(ctx, *conv, content)
	if err != nil {
		log.WithError(err).Warn("Responder failed")
		return out, nil
	}
	answeredAt := s.now().UTC()
	answer := &models.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		UserID:         req.UserID,
		Type:           models.MessageAI,
		Content:        reply.Content,
		AIResponse: &models.AIResponse{
			SuggestionType: reply.Kind,
			Confidence:     reply.Confidence,
			TokensUsed:     reply.TokensUsed,
			ResponseTimeMS: answeredAt.Sub(started).Milliseconds(),
			ModelUsed:      reply.Model,
		},
		CreatedAt: answeredAt,
		UpdatedAt: answeredAt,
	}
	if err := s.storage.CreateMessage(ctx, answer); err != nil {
		log.WithError(err).Warn("Failed to store reply")
		return out, nil
	}
	if err := s.storage.AddConversationActivity(ctx, conv.ID, 1, 1, answeredAt); err != nil {
		log.WithError(err).Warn("Failed to count reply")
	}
	out.Reply = answer
	return out, nil
}

// MessagePage is one page of a conversation, newest message first.
type MessagePage struct {
	Messages []*models.Message `json:"messages"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
	Total    int               `json:"total"`
}

// Messages returns a page of the conversation's messages. Page counts from 1.
func (s *Service) Messages(ctx context.Context, conversationID, userID uuid.UUID, page, limit int) (*MessagePage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	conv, err := s.owned(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	messages, err := s.storage.ListMessages(ctx, conv.ID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return &MessagePage{Messages: messages, Page: page, Limit: limit, Total: conv.Metadata.TotalMessages}, nil
}
