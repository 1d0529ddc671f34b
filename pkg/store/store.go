// Package store defines the document-store contracts the core consumes and
// their MongoDB and in-memory implementations. The core treats stored
// entities as documents with an opaque id, an owner, and a domain payload.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
)

// DuplicateError indicates a uniqueness violation on the named field.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value for field %q", e.Field)
}

// IsDuplicate reports whether err is a uniqueness violation, returning the
// offending field name when it is.
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// SessionStore persists chat sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context, userID string, limit, offset int, filter models.SessionFilter) ([]*models.ChatSession, int, error)
	UpdateSession(ctx context.Context, session *models.ChatSession) error
	DeleteSession(ctx context.Context, id string) error
}

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.ChatMessage) error
	// ListMessages returns messages for a chat, newest first.
	ListMessages(ctx context.Context, chatID string, limit, offset int, includeSystem bool, roleFilter string) ([]*models.ChatMessage, int, error)
	DeleteMessagesByChat(ctx context.Context, chatID string) error
}

// Store aggregates all document collections behind one handle.
type Store interface {
	UserStore
	SessionStore
	MessageStore
	Close(ctx context.Context) error
}
