package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/saptiva-ai/copilotos/pkg/models"
)

// MemoryStore is the in-process Store used by tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	sessions map[string]*models.ChatSession
	messages map[string][]*models.ChatMessage // chat_id → messages in insert order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.ChatSession),
		messages: make(map[string][]*models.ChatMessage),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return &DuplicateError{Field: "username"}
		}
		if existing.Email == user.Email {
			return &DuplicateError{Field: "email"}
		}
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[id]; ok {
		cp := *session
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListSessions(_ context.Context, userID string, limit, offset int, filter models.SessionFilter) ([]*models.ChatSession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.ChatSession
	for _, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(session.Title), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.StartDate != nil && session.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && session.CreatedAt.After(*filter.EndDate) {
			continue
		}
		cp := *session
		matched = append(matched, &cp)
	}

	// Pinned sessions first, then most recently updated.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Pinned != matched[j].Pinned {
			return matched[i].Pinned
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], &cp)
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string, limit, offset int, includeSystem bool, roleFilter string) ([]*models.ChatMessage, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[chatID]
	matched := make([]*models.ChatMessage, 0, len(stored))
	// Newest first.
	for i := len(stored) - 1; i >= 0; i-- {
		msg := stored[i]
		if !includeSystem && msg.Role == "system" {
			continue
		}
		if roleFilter != "" && msg.Role != roleFilter {
			continue
		}
		cp := *msg
		matched = append(matched, &cp)
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) DeleteMessagesByChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, chatID)
	return nil
}

func (s *MemoryStore) Close(context.Context) error {
	return nil
}
