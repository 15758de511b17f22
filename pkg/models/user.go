package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleClient Role = "client"
	RoleLender Role = "lender"
	RoleAdmin  Role = "admin"
)

// SelfAssignable reports whether a user may pick the role at sign-up.
func (r Role) SelfAssignable() bool {
	return r == RoleClient || r == RoleLender
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	ProfilePic   string     `json:"profile_pic,omitempty"`
	IsVerified   bool       `json:"is_verified"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type SignUpInput struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        Role   `json:"role"`
	PhoneNumber string `json:"phone_number"`
}

// ProfileUpdate carries the editable profile fields. Empty fields are left
// unchanged.
type ProfileUpdate struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	ProfilePic  string `json:"profile_pic"`
}

type SignInInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
