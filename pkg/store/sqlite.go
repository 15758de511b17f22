package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// One connection keeps the per-connection PRAGMAs in force and
	// serialises writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.WithField("dsn", dataSourceName).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Money columns are TEXT so no decimal precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		phone_number TEXT NOT NULL DEFAULT '',
		profile_pic TEXT NOT NULL DEFAULT '',
		is_verified INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		lender_id TEXT NOT NULL,
		borrower_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		interest_type TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		payment_frequency TEXT NOT NULL,
		installment_amount TEXT NOT NULL DEFAULT '0',
		total_installments INTEGER NOT NULL DEFAULT 0,
		total_interest TEXT NOT NULL DEFAULT '0',
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		purpose TEXT NOT NULL DEFAULT '',
		total_paid TEXT NOT NULL DEFAULT '0',
		remaining_balance TEXT NOT NULL DEFAULT '0',
		next_due_date DATETIME,
		penalty_rate TEXT NOT NULL DEFAULT '5',
		total_penalty TEXT NOT NULL DEFAULT '0',
		grace_period_days INTEGER NOT NULL DEFAULT 3,
		payment_count INTEGER NOT NULL DEFAULT 0,
		last_payment_date DATETIME,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(lender_id) REFERENCES users(id),
		FOREIGN KEY(borrower_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_lender ON loans(lender_id, status);
	CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower_id, status);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		due_date DATETIME NOT NULL,
		paid_amount TEXT NOT NULL DEFAULT '0',
		remaining_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_date DATETIME,
		penalty_amount TEXT NOT NULL DEFAULT '0',
		penalty_applied_date DATETIME,
		days_overdue INTEGER NOT NULL DEFAULT 0,
		payment_history TEXT NOT NULL DEFAULT '[]',
		reminders_sent INTEGER NOT NULL DEFAULT 0,
		last_reminder_date DATETIME,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(loan_id, number),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(due_date, status);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_id TEXT,
		payer_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		penalty_portion TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		due_date DATETIME,
		method TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		receipt_number TEXT NOT NULL UNIQUE,
		metadata TEXT NOT NULL,
		is_overpayment INTEGER NOT NULL DEFAULT 0,
		verification TEXT NOT NULL,
		needs_reconciliation INTEGER NOT NULL DEFAULT 0,
		reconcile_reason TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id),
		FOREIGN KEY(installment_id) REFERENCES installments(id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_loan ON payments(loan_id, payment_date);
	CREATE INDEX IF NOT EXISTS idx_payments_reconcile ON payments(needs_reconciliation);
	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		loan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		scheduled_date DATETIME NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, is_active, scheduled_date);
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		loan_id TEXT,
		event_type TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '{}',
		user_agent TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_loan ON events(loan_id, event_type);
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		loan_id TEXT,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		conversation_type TEXT NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		last_message_at DATETIME,
		ai_suggestions_count INTEGER NOT NULL DEFAULT 0,
		is_archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, is_archived, updated_at);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		ai_response TEXT,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(conversation_id) REFERENCES conversations(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// exists reports whether a row with id is present in table.
func (s *SQLiteStore) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table+" WHERE id = ?", id.String()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// inClause builds "?, ?, ?" and the matching args for a list of IDs.
func inClause(ids []uuid.UUID) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	return strings.Join(placeholders, ", "), args
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func uuidPtr(ns sql.NullString) (*uuid.UUID, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
