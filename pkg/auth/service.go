// Package auth implements the authentication kernel: registration, login,
// token refresh with rotation, logout revocation, and the password reset flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saptiva-ai/copilotos/pkg/models"
	"github.com/saptiva-ai/copilotos/pkg/store"
)

var (
	// ErrInvalidCredentials is returned for unknown users and wrong passwords
	// alike, so login failures do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserInactive indicates a deactivated account.
	ErrUserInactive = errors.New("user account is inactive")

	// ErrUsernameTaken and ErrEmailTaken map to USERNAME_EXISTS and
	// DUPLICATE_EMAIL at the HTTP surface.
	ErrUsernameTaken = errors.New("username already exists")
	ErrEmailTaken    = errors.New("email already registered")
)

// ValidationError reports a rejected registration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Service is the authentication kernel.
type Service struct {
	users  store.UserStore
	tokens *TokenService
	logger *slog.Logger
}

func NewService(users store.UserStore, tokens *TokenService) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: slog.With("component", "auth"),
	}
}

// RegisterRequest carries the registration fields.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new active account. Usernames are trimmed, emails are
// lowercased, and the password policy is enforced before hashing.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)

	if len(username) < 3 {
		return nil, NewValidationError("username", "must be at least 3 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, NewValidationError("email", "must be a valid email address")
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, NewValidationError("password", err.Error())
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if field, ok := store.IsDuplicate(err); ok {
			if field == "email" {
				return nil, ErrEmailTaken
			}
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Login authenticates by username or email and issues a token pair. Legacy
// bcrypt hashes are upgraded to argon2id on successful login.
func (s *Service) Login(ctx context.Context, identifier, password string) (*models.User, *models.TokenPair, error) {
	user, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	if err := VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to verify password: %w", err)
	}

	if NeedsRehash(user.PasswordHash) {
		if upgraded, hashErr := HashPassword(password); hashErr == nil {
			user.PasswordHash = upgraded
		}
	}

	now := time.Now().UTC()
	user.LastLogin = &now
	user.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		// Login still succeeds; the upgrade retries on the next login.
		s.logger.Warn("Failed to persist login metadata", "user_id", user.ID, "error", err)
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("User logged in", "user_id", user.ID)
	return user, pair, nil
}

// Refresh validates a refresh token, revokes it, and issues a fresh pair.
// Rotation means a stolen refresh token stops working after first use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.tokens.Validate(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return nil, err
	}
	return s.issuePair(user)
}

// Logout revokes both tokens of a session. Missing or expired tokens are
// ignored so logout is idempotent.
func (s *Service) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken != "" {
		if err := s.tokens.Revoke(ctx, accessToken); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
			return err
		}
	}
	return nil
}

// ForgotPassword issues a reset token for the account, if one exists. The
// empty-result path is indistinguishable from success to the caller; the
// token reaches the user out of band.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	token, err := s.tokens.IssueResetToken(user.ID, user.Username)
	if err != nil {
		return "", err
	}
	s.logger.Info("Password reset token issued", "user_id", user.ID)
	return token, nil
}

// ResetPassword validates a reset token and replaces the password. The token
// is revoked so it cannot be replayed.
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.tokens.Validate(ctx, resetToken, TokenTypeReset)
	if err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return NewValidationError("password", err.Error())
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.tokens.Revoke(ctx, resetToken); err != nil {
		return err
	}
	s.logger.Info("Password reset completed", "user_id", user.ID)
	return nil
}

// ValidateAccess is the middleware entry point: it checks an access token and
// returns its claims.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (*Claims, error) {
	return s.tokens.Validate(ctx, accessToken, TokenTypeAccess)
}

// CurrentUser loads the account behind validated claims.
func (s *Service) CurrentUser(ctx context.Context, claims *Claims) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *Service) issuePair(user *models.User) (*models.TokenPair, error) {
	access, refresh, err := s.tokens.IssuePair(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}

// lookup resolves a login identifier to a user: exact username first, email
// second. Usernames may contain "@", so the shape of the identifier alone
// cannot decide the table.
func (s *Service) lookup(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)

	user, err := s.users.GetUserByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if strings.Contains(identifier, "@") {
		return s.users.GetUserByEmail(ctx, strings.ToLower(identifier))
	}
	return nil, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
