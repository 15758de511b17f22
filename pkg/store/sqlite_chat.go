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

const conversationColumns = `id, user_id, loan_id, title, status, conversation_type, total_messages, last_message_at,
	ai_suggestions_count, is_archived, created_at, updated_at`

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.UserID.String(), nullUUID(c.LoanID), c.Title, c.Status, c.Type, c.Metadata.TotalMessages,
		nullTime(c.Metadata.LastMessageAt), c.Metadata.AISuggestionsCount, boolInt(c.IsArchived),
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by its ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String())
	c, err := scanConversation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// ListConversations retrieves a user's open conversations, most recently
// active first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? AND is_archived = 0 ORDER BY updated_at DESC`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for conversations: %w", err)
	}
	return conversations, nil
}

// AddConversationActivity adds to the message and suggestion counters and
// stamps the last message time.
func (s *SQLiteStore) AddConversationActivity(ctx context.Context, id uuid.UUID, messages, suggestions int, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET total_messages = total_messages + ?, ai_suggestions_count = ai_suggestions_count + ?,
			last_message_at = ?, updated_at = ?
		WHERE id = ?`,
		messages, suggestions, at.UTC(), at.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var c models.Conversation
	var idStr, userStr string
	var loanStr sql.NullString
	var lastMessage sql.NullTime
	var archived int
	err := row.Scan(&idStr, &userStr, &loanStr, &c.Title, &c.Status, &c.Type, &c.Metadata.TotalMessages, &lastMessage,
		&c.Metadata.AISuggestionsCount, &archived, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ID = uuid.MustParse(idStr)
	c.UserID = uuid.MustParse(userStr)
	if c.LoanID, err = uuidPtr(loanStr); err != nil {
		return nil, fmt.Errorf("invalid loan id on conversation: %w", err)
	}
	c.Metadata.LastMessageAt = timePtr(lastMessage)
	c.IsArchived = archived == 1
	return &c, nil
}

// CreateMessage inserts a new chat message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, m *models.Message) error {
	var aiResponse interface{}
	if m.AIResponse != nil {
		encoded, err := json.Marshal(m.AIResponse)
		if err != nil {
			return fmt.Errorf("failed to encode ai response: %w", err)
		}
		aiResponse = string(encoded)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, message_type, content, ai_response, is_read, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), m.ConversationID.String(), m.UserID.String(), m.Type, m.Content, aiResponse,
		boolInt(m.IsRead), boolInt(m.IsDeleted), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages retrieves one page of a conversation's messages, newest
// first. Deleted messages are left out.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, message_type, content, ai_response, is_read, created_at, updated_at
		FROM messages WHERE conversation_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		conversationID.String(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		var idStr, convStr, userStr string
		var aiResponse sql.NullString
		var read int
		if err := rows.Scan(&idStr, &convStr, &userStr, &m.Type, &m.Content, &aiResponse, &read, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		m.ID = uuid.MustParse(idStr)
		m.ConversationID = uuid.MustParse(convStr)
		m.UserID = uuid.MustParse(userStr)
		m.IsRead = read == 1
		if aiResponse.Valid {
			m.AIResponse = &models.AIResponse{}
			if err := json.Unmarshal([]byte(aiResponse.String), m.AIResponse); err != nil {
				return nil, fmt.Errorf("failed to decode ai response: %w", err)
			}
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for messages: %w", err)
	}
	return messages, nil
}
