package chat

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/sirupsen/logrus"
)

// MockStore is a simple in-memory implementation of the Store interface for testing.
type MockStore struct {
	loans         map[uuid.UUID]*models.Loan
	conversations map[uuid.UUID]*models.Conversation
	messages      []*models.Message
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:         make(map[uuid.UUID]*models.Loan),
		conversations: make(map[uuid.UUID]*models.Conversation),
	}
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	if l, ok := m.loans[id]; ok {
		return l, nil
	}
	return nil, apperr.NotFound("loan not found")
}

func (m *MockStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	stored := *c
	m.conversations[c.ID] = &stored
	return nil
}

func (m *MockStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if c, ok := m.conversations[id]; ok {
		out := *c
		return &out, nil
	}
	return nil, apperr.NotFound("conversation not found")
}

func (m *MockStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for _, c := range m.conversations {
		if c.UserID == userID && !c.IsArchived {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MockStore) AddConversationActivity(ctx context.Context, id uuid.UUID, messages, suggestions int, at time.Time) error {
	c, ok := m.conversations[id]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.Metadata.TotalMessages += messages
	c.Metadata.AISuggestionsCount += suggestions
	c.Metadata.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (m *MockStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Message, error) {
	var out []*models.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if msg := m.messages[i]; msg.ConversationID == conversationID && !msg.IsDeleted {
			out = append(out, msg)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type failingResponder struct{}

func (failingResponder) Respond(ctx context.Context, conv models.Conversation, content string) (Reply, error) {
	return Reply{}, errors.New("backend unavailable")
}

func newTestService(responder Responder) (*Service, *MockStore) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	m := NewMockStore()
	s := NewService(m, responder, logger)
	s.now = func() time.Time { return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC) }
	return s, m
}

func TestCreateConversation(t *testing.T) {
	s, m := newTestService(KeywordResponder{})
	borrower := uuid.New()
	loan := &models.Loan{ID: uuid.New(), LenderID: uuid.New(), BorrowerID: borrower}
	m.loans[loan.ID] = loan

	general, err := s.CreateConversation(context.Background(), ConversationRequest{UserID: borrower})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if general.Title != "New Conversation" || general.Type != models.ConversationGeneral || general.Status != models.ConversationActive {
		t.Errorf("Unexpected defaults %+v", general)
	}

	onLoan, err := s.CreateConversation(context.Background(), ConversationRequest{UserID: borrower, LoanID: &loan.ID, Title: "My loan"})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if onLoan.Type != models.ConversationLoanSpecific {
		t.Errorf("Expected loan specific conversation, got %s", onLoan.Type)
	}

	tests := []struct {
		name string
		req  ConversationRequest
		want apperr.Kind
	}{
		{"bad type", ConversationRequest{UserID: borrower, Type: "gossip"}, apperr.KindValidation},
		{"unknown loan", ConversationRequest{UserID: borrower, LoanID: func() *uuid.UUID { id := uuid.New(); return &id }()}, apperr.KindNotFound},
		{"not a party", ConversationRequest{UserID: uuid.New(), LoanID: &loan.ID}, apperr.KindAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateConversation(context.Background(), tt.req); !apperr.Is(err, tt.want) {
				t.Errorf("Expected error kind %v, got %v", tt.want, err)
			}
		})
	}

	listed, err := s.Conversations(context.Background(), borrower)
	if err != nil || len(listed) != 2 {
		t.Errorf("Expected 2 conversations, got %d (%v)", len(listed), err)
	}
	if none, _ := s.Conversations(context.Background(), uuid.New()); none == nil || len(none) != 0 {
		t.Errorf("Expected an empty list for a new user, got %v", none)
	}
}

func TestSendMessageReplies(t *testing.T) {
	s, m := newTestService(KeywordResponder{})
	user := uuid.New()
	conv, _ := s.CreateConversation(context.Background(), ConversationRequest{UserID: user})

	tests := []struct {
		content string
		want    models.ReplyKind
	}{
		{"How do I schedule my next PAYMENT?", models.ReplyPaymentPlan},
		{"Why was a penalty added?", models.ReplyPenaltyExplanation},
		{"Hello there", models.ReplyGeneralAdvice},
	}
	for _, tt := range tests {
		out, err := s.SendMessage(context.Background(), MessageRequest{
			ConversationID: conv.ID, UserID: user, Content: tt.content, Type: models.MessageUser,
		})
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if out.Reply == nil || out.Reply.Type != models.MessageAI {
			t.Fatalf("Expected an ai reply, got %+v", out.Reply)
		}
		if out.Reply.AIResponse.SuggestionType != tt.want || out.Reply.AIResponse.Confidence != 0.8 {
			t.Errorf("%q: expected %s, got %+v", tt.content, tt.want, out.Reply.AIResponse)
		}
	}

	stored := m.conversations[conv.ID]
	if stored.Metadata.TotalMessages != 6 || stored.Metadata.AISuggestionsCount != 3 || stored.Metadata.LastMessageAt == nil {
		t.Errorf("Unexpected conversation metadata %+v", stored.Metadata)
	}

	system, err := s.SendMessage(context.Background(), MessageRequest{
		ConversationID: conv.ID, UserID: user, Content: "Loan activated", Type: models.MessageSystem,
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if system.Reply != nil {
		t.Errorf("Expected no reply to a system message")
	}
}

func TestSendMessageErrors(t *testing.T) {
	s, _ := newTestService(KeywordResponder{})
	owner := uuid.New()
	conv, _ := s.CreateConversation(context.Background(), ConversationRequest{UserID: owner})

	tests := []struct {
		name string
		req  MessageRequest
		want apperr.Kind
	}{
		{"empty content", MessageRequest{ConversationID: conv.ID, UserID: owner, Content: "  ", Type: models.MessageUser}, apperr.KindValidation},
		{"missing type", MessageRequest{ConversationID: conv.ID, UserID: owner, Content: "hi"}, apperr.KindValidation},
		{"ai type", MessageRequest{ConversationID: conv.ID, UserID: owner, Content: "hi", Type: models.MessageAI}, apperr.KindValidation},
		{"unknown conversation", MessageRequest{ConversationID: uuid.New(), UserID: owner, Content: "hi", Type: models.MessageUser}, apperr.KindNotFound},
		{"not the owner", MessageRequest{ConversationID: conv.ID, UserID: uuid.New(), Content: "hi", Type: models.MessageUser}, apperr.KindAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.SendMessage(context.Background(), tt.req); !apperr.Is(err, tt.want) {
				t.Errorf("Expected error kind %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSendMessageKeepsMessageWhenResponderFails(t *testing.T) {
	s, m := newTestService(failingResponder{})
	user := uuid.New()
	conv, _ := s.CreateConversation(context.Background(), ConversationRequest{UserID: user})

	out, err := s.SendMessage(context.Background(), MessageRequest{ConversationID: conv.ID, UserID: user, Content: "hi", Type: models.MessageUser})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if out.Reply != nil {
		t.Errorf("Expected no reply, got %+v", out.Reply)
	}
	if len(m.messages) != 1 || m.conversations[conv.ID].Metadata.AISuggestionsCount != 0 {
		t.Errorf("Expected only the user message stored, got %d", len(m.messages))
	}
}

func TestMessagesPaging(t *testing.T) {
	s, _ := newTestService(KeywordResponder{})
	user := uuid.New()
	conv, _ := s.CreateConversation(context.Background(), ConversationRequest{UserID: user})
	for i := 0; i < 3; i++ {
		if _, err := s.SendMessage(context.Background(), MessageRequest{ConversationID: conv.ID, UserID: user, Content: "payment", Type: models.MessageUser}); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	page, err := s.Messages(context.Background(), conv.ID, user, 0, 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if page.Page != 1 || page.Limit != 50 || page.Total != 6 || len(page.Messages) != 6 {
		t.Errorf("Unexpected first page %+v", page)
	}
	if page.Messages[0].Type != models.MessageAI {
		t.Errorf("Expected newest message first, got %s", page.Messages[0].Type)
	}

	second, _ := s.Messages(context.Background(), conv.ID, user, 2, 4)
	if len(second.Messages) != 2 {
		t.Errorf("Expected 2 messages on page 2, got %d", len(second.Messages))
	}
	capped, _ := s.Messages(context.Background(), conv.ID, user, 1, 1000)
	if capped.Limit != 100 {
		t.Errorf("Expected the limit to be capped at 100, got %d", capped.Limit)
	}

	if _, err := s.Messages(context.Background(), conv.ID, uuid.New(), 1, 10); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("Expected outsider to be refused, got %v", err)
	}
}
