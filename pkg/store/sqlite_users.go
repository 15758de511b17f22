package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

const userColumns = `id, first_name, last_name, email, password_hash, role, phone_number, profile_pic, is_verified, is_active,
	last_login, created_at, updated_at`

// CreateUser inserts a new user. Emails are stored lower-cased.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.String(), user.FirstName, user.LastName, user.Email, user.PasswordHash, user.Role, user.PhoneNumber, user.ProfilePic,
		boolInt(user.IsVerified), boolInt(user.IsActive), nullTime(user.LastLogin), user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

// TouchLastLogin stamps the user's last login time.
func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`, at.UTC(), at.UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// UpdateUser rewrites a user's profile fields.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *models.User) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET first_name = ?, last_name = ?, phone_number = ?, profile_pic = ?, updated_at = ? WHERE id = ?`,
		user.FirstName, user.LastName, user.PhoneNumber, user.ProfilePic, user.UpdatedAt.UTC(), user.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	var idStr string
	var verified, active int
	var lastLogin sql.NullTime
	err := row.Scan(&idStr, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.Role, &user.PhoneNumber,
		&user.ProfilePic, &verified, &active, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.ID = uuid.MustParse(idStr)
	user.IsVerified = verified == 1
	user.IsActive = active == 1
	user.LastLogin = timePtr(lastLogin)
	return &user, nil
}
