package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ndenisov/chatsync/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations: the session provider the
// rest of the system consumes for signup, signin, and current-user
// resolution from a bearer token.
type Service struct {
	store     store.ProfileStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(profileStore store.ProfileStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     profileStore,
		jwtConfig: jwtConfig,
	}
}

// SignUp creates a new profile with hashed password and returns a JWT token.
func (s *Service) SignUp(ctx context.Context, username, password string) (string, *store.Profile, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", nil, ErrInvalidPassword
	}

	// Check if user already exists
	existing, err := s.store.GetProfileByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", nil, ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	profile, err := s.store.CreateProfile(ctx, username, hashedPassword, "")
	if err != nil {
		return "", nil, fmt.Errorf("create profile: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, profile.ID, profile.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, profile, nil
}

// SignIn validates credentials and returns a JWT token.
func (s *Service) SignIn(ctx context.Context, username, password string) (string, *store.Profile, error) {
	profile, err := s.store.GetProfileByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if errPwd := ComparePassword(profile.PasswordHash, password); errPwd != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, profile.ID, profile.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}

	return token, profile, nil
}

// ValidateToken parses and validates a JWT token against the service config.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

// CurrentUser resolves a bearer token to its profile.
func (s *Service) CurrentUser(ctx context.Context, tokenString string) (*store.Profile, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return s.store.GetProfileByID(ctx, claims.UserID)
}
