package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

// Reminders and notifications carry nested delivery state, so the full record
// lives in a JSON body column next to the indexed fields we query on.

// CreateReminder inserts a new reminder.
func (s *SQLiteStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reminder: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, user_id, loan_id, status, scheduled_date, is_active, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UserID.String(), r.LoanID.String(), r.Status, r.ScheduledDate.UTC(), boolInt(r.IsActive),
		string(body), r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	return nil
}

// GetReminder retrieves a reminder by its ID.
func (s *SQLiteStore) GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reminders WHERE id = ?`, id.String()).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("reminder not found")
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	var r models.Reminder
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("failed to decode reminder: %w", err)
	}
	return &r, nil
}

// UpdateReminder rewrites a reminder.
func (s *SQLiteStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reminder: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, scheduled_date = ?, is_active = ?, body = ?, updated_at = ? WHERE id = ?`,
		r.Status, r.ScheduledDate.UTC(), boolInt(r.IsActive), string(body), r.UpdatedAt.UTC(), r.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("reminder not found")
	}
	return nil
}

// ListRemindersForUser retrieves a user's reminders ordered by schedule.
func (s *SQLiteStore) ListRemindersForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error) {
	query := `SELECT body FROM reminders WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1 AND status IN ('scheduled', 'sent')`
	}
	query += ` ORDER BY scheduled_date ASC`
	rows, err := s.db.QueryContext(ctx, query, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListDueReminders retrieves active scheduled reminders whose time has come.
func (s *SQLiteStore) ListDueReminders(ctx context.Context, before time.Time) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM reminders WHERE status = 'scheduled' AND is_active = 1 AND scheduled_date <= ?
		ORDER BY scheduled_date ASC`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		var r models.Reminder
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("failed to decode reminder: %w", err)
		}
		reminders = append(reminders, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for reminders: %w", err)
	}
	return reminders, nil
}

// CreateNotification inserts a new notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, status, is_read, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.UserID.String(), n.Status, boolInt(n.IsRead), string(body), n.CreatedAt.UTC(), n.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// GetNotification retrieves a notification by its ID.
func (s *SQLiteStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM notifications WHERE id = ?`, id.String()).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("notification not found")
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	var n models.Notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &n, nil
}

// UpdateNotification rewrites a notification.
func (s *SQLiteStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, is_read = ?, body = ?, updated_at = ? WHERE id = ?`,
		n.Status, boolInt(n.IsRead), string(body), n.UpdatedAt.UTC(), n.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("notification not found")
	}
	return nil
}

// ListNotificationsForUser retrieves a user's most recent notifications.
func (s *SQLiteStore) ListNotificationsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return scanNotifications(rows)
}

// ListRetryableNotifications returns unread notifications that already
// failed on a channel and still have retries left, oldest first.
func (s *SQLiteStore) ListRetryableNotifications(ctx context.Context, maxRetries int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM notifications
		WHERE is_read = 0 AND status != ?
			AND json_extract(body, '$.retry_count') > 0 AND json_extract(body, '$.retry_count') < ?
		ORDER BY created_at`,
		models.NotificationRead, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable notifications: %w", err)
	}
	all, err := scanNotifications(rows)
	if err != nil {
		return nil, err
	}
	var retryable []*models.Notification
	for _, n := range all {
		for _, d := range n.DeliveryStatus {
			if d.Status == models.ChannelFailed {
				retryable = append(retryable, n)
				break
			}
		}
	}
	return retryable, nil
}

func scanNotifications(rows *sql.Rows) ([]*models.Notification, error) {
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		var n models.Notification
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return nil, fmt.Errorf("failed to decode notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for notifications: %w", err)
	}
	return notifications, nil
}

// CreateEvent appends an analytics event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e *models.Event) error {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("failed to encode event context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, loan_id, event_type, context, user_agent, ip_address, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.UserID.String(), nullUUID(e.LoanID), e.Type, string(contextJSON), e.UserAgent, e.IPAddress,
		e.SessionID, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// ListEvents retrieves events matching the filter, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	var where []string
	var args []interface{}
	if filter.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID.String())
	}
	if filter.LoanID != nil {
		where = append(where, "loan_id = ?")
		args = append(args, filter.LoanID.String())
	}
	if filter.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.Type)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT id, user_id, loan_id, event_type, context, user_agent, ip_address, session_id, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		var idStr, userStr, contextJSON string
		var loanStr sql.NullString
		if err := rows.Scan(&idStr, &userStr, &loanStr, &e.Type, &contextJSON, &e.UserAgent, &e.IPAddress,
			&e.SessionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.ID = uuid.MustParse(idStr)
		e.UserID = uuid.MustParse(userStr)
		if e.LoanID, err = uuidPtr(loanStr); err != nil {
			return nil, fmt.Errorf("invalid loan id on event: %w", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &e.Context); err != nil {
			return nil, fmt.Errorf("failed to decode event context: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for events: %w", err)
	}
	return events, nil
}
