package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chatrelay/internal/db"
)

// ErrInvalidCredentials is returned for unknown users and wrong
// passwords alike, so callers cannot distinguish the two.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service verifies credentials and issues tokens against the user store.
type Service struct {
	database *db.DB
	codec    *Codec
}

// NewService creates a credential service backed by the given store and
// token codec.
func NewService(database *db.DB, codec *Codec) *Service {
	return &Service{database: database, codec: codec}
}

// VerifyCredentials checks a username/password pair and returns the
// identity on success.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (string, error) {
	user, err := s.database.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return user.Username, nil
}

// IssueToken produces an access token for a verified identity.
func (s *Service) IssueToken(identity string) (string, error) {
	return s.codec.IssueDefault(identity)
}

// Register creates a new user with a bcrypt-hashed password.
// Returns db.ErrUserExists when the username is taken.
func (s *Service) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.database.CreateUser(ctx, db.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
	})
}

// HashPassword creates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
