// Package auth handles sign-up, sign-in and the bearer tokens that carry a
// user's identity between requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Service signs users up and in and issues their tokens.
type Service struct {
	users       store.UserStore
	jwtSecret   []byte
	tokenExpiry time.Duration
	logger      *logrus.Logger
	now         func() time.Time
}

func NewService(users store.UserStore, jwtSecret string, tokenExpiry time.Duration, logger *logrus.Logger) *Service {
	return &Service{
		users:       users,
		jwtSecret:   []byte(jwtSecret),
		tokenExpiry: tokenExpiry,
		logger:      logger,
		now:         time.Now,
	}
}

// Session is what sign-up and sign-in hand back.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func validateSignUp(input models.SignUpInput) error {
	if input.FirstName == "" || input.LastName == "" || input.Email == "" || input.Password == "" {
		return apperr.Validation("all fields are required")
	}
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return apperr.Validation("invalid email address")
	}
	if len(input.Password) < minPasswordLength {
		return apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if input.Role != "" && !input.Role.SelfAssignable() {
		return apperr.Validation("role must be client or lender")
	}
	return nil
}

// SignUp creates an active account and signs it in.
func (s *Service) SignUp(ctx context.Context, input models.SignUpInput) (*Session, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	s.logger.WithField("email", input.Email).Info("Signing up new user")

	if err := validateSignUp(input); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.WithError(err).Error("Failed to hash password")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := input.Role
	if role == "" {
		role = models.RoleClient
	}
	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New(),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		PasswordHash: string(hashed),
		Role:         role,
		PhoneNumber:  input.PhoneNumber,
		IsActive:     true,
		LastLogin:    &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, apperr.Validation("email already exists")
		}
		s.logger.WithError(err).Error("Failed to create user")
		return nil, fmt.Errorf("create user: %w", err)
	}

	token, err := s.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User signed up")
	return &Session{Token: token, User: user}, nil
}

// SignIn checks the password and stamps the login time.
func (s *Service) SignIn(ctx context.Context, input models.SignInInput) (*Session, error) {
	if input.Email == "" || input.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}
	user, err := s.users.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.logger.WithField("email", input.Email).Warn("Sign in for unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		s.logger.WithField("user_id", user.ID).Warn("Wrong password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, apperr.Authorization("account is deactivated")
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLogin = &now

	token, err := s.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("User signed in")
	return &Session{Token: token, User: user}, nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.users.GetUser(ctx, userID)
}

// UpdateProfile overwrites the non-empty fields of the update.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, update models.ProfileUpdate) (*models.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(update.FirstName); v != "" {
		user.FirstName = v
	}
	if v := strings.TrimSpace(update.LastName); v != "" {
		user.LastName = v
	}
	if v := strings.TrimSpace(update.PhoneNumber); v != "" {
		user.PhoneNumber = v
	}
	if v := strings.TrimSpace(update.ProfilePic); v != "" {
		user.ProfilePic = v
	}
	user.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("Profile updated")
	return user, nil
}

// GenerateToken issues an HS256 token whose subject is the user id.
func (s *Service) GenerateToken(userID uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns the user id it was issued for.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return userID, nil
}
