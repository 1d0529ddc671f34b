// Package services implements the session and history operations behind the
// HTTP surface. Every operation performs an owner check before touching the
// resource; history reads go through the shared cache.
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saptiva-ai/copilotos/pkg/cache"
	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/models"
	"github.com/saptiva-ai/copilotos/pkg/store"
)

const historyCacheTTL = 5 * time.Minute

// HistoryService serves session listings, message history, exports, and the
// per-session canvas state.
type HistoryService struct {
	store  store.Store
	cache  cache.Cache
	tasks  *mcp.TaskManager
	logger *slog.Logger
}

func NewHistoryService(st store.Store, c cache.Cache, tasks *mcp.TaskManager) *HistoryService {
	return &HistoryService{
		store:  st,
		cache:  c,
		tasks:  tasks,
		logger: slog.With("component", "history"),
	}
}

// GetSessions lists the user's sessions, pinned first then most recent.
func (s *HistoryService) GetSessions(ctx context.Context, userID string, limit, offset int, filter models.SessionFilter) (*models.SessionPage, error) {
	sessions, total, err := s.store.ListSessions(ctx, userID, limit, offset, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return &models.SessionPage{
		Sessions:   sessions,
		TotalCount: total,
		HasMore:    offset+len(sessions) < total,
	}, nil
}

// GetMessages returns a page of a chat's history, newest first, enriched
// with research task snapshots. Pages are served from cache when possible.
func (s *HistoryService) GetMessages(ctx context.Context, chatID, userID string, limit, offset int, includeSystem bool, roleFilter string, includeResearchTasks bool) (*models.MessagePage, error) {
	if _, err := s.ownedSession(ctx, chatID, userID); err != nil {
		return nil, err
	}

	cacheKey := historyKey(chatID, limit, offset, includeSystem, roleFilter)
	if cached, found, err := s.cache.Get(ctx, cacheKey); err == nil && found {
		var page models.MessagePage
		if err := json.Unmarshal([]byte(cached), &page); err == nil {
			s.enrich(&page, userID, includeResearchTasks)
			return &page, nil
		}
	}

	msgs, total, err := s.store.ListMessages(ctx, chatID, limit, offset, includeSystem, roleFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	page := &models.MessagePage{
		Messages:   make([]*models.EnrichedMessage, len(msgs)),
		TotalCount: total,
		HasMore:    offset+len(msgs) < total,
	}
	for i, m := range msgs {
		page.Messages[i] = &models.EnrichedMessage{ChatMessage: m}
	}

	if data, err := json.Marshal(page); err == nil {
		if err := s.cache.Set(ctx, cacheKey, string(data), historyCacheTTL); err != nil {
			s.logger.Warn("Failed to cache history page", "chat_id", chatID, "error", err)
		}
	}

	s.enrich(page, userID, includeResearchTasks)
	return page, nil
}

// enrich attaches live task snapshots. Snapshots are never cached; the task
// state moves independently of the message log.
func (s *HistoryService) enrich(page *models.MessagePage, userID string, includeResearchTasks bool) {
	if !includeResearchTasks || s.tasks == nil {
		return
	}
	for _, m := range page.Messages {
		if m.TaskID == "" {
			continue
		}
		if task, err := s.tasks.Get(m.TaskID, userID); err == nil {
			m.ResearchTask = task
		}
	}
}

// UpdateSession renames or (un)pins a session.
func (s *HistoryService) UpdateSession(ctx context.Context, sessionID, userID string, req models.UpdateSessionRequest) (*models.ChatSession, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		session.Title = *req.Title
	}
	if req.Pinned != nil {
		session.Pinned = *req.Pinned
	}
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session, cascades to its messages, and drops the
// cached history pages.
func (s *HistoryService) DeleteSession(ctx context.Context, sessionID, userID string) error {
	if _, err := s.ownedSession(ctx, sessionID, userID); err != nil {
		return err
	}

	if err := s.store.DeleteMessagesByChat(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.InvalidateHistory(ctx, sessionID)
	s.logger.Info("Session deleted", "session_id", sessionID, "user_id", userID)
	return nil
}

// InvalidateHistory drops every cached page of a chat.
func (s *HistoryService) InvalidateHistory(ctx context.Context, chatID string) {
	keys, err := s.cache.Keys(ctx, "history:"+chatID+":*")
	if err != nil || len(keys) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Failed to invalidate history cache", "chat_id", chatID, "error", err)
	}
}

// GetCanvas returns the session's opaque canvas blob.
func (s *HistoryService) GetCanvas(ctx context.Context, sessionID, userID string) (map[string]any, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.CanvasState == nil {
		return map[string]any{}, nil
	}
	return session.CanvasState, nil
}

// PatchCanvas merges the given keys into the canvas blob. Null values
// delete keys.
func (s *HistoryService) PatchCanvas(ctx context.Context, sessionID, userID string, patch map[string]any) (map[string]any, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if session.CanvasState == nil {
		session.CanvasState = make(map[string]any)
	}
	for key, value := range patch {
		if value == nil {
			delete(session.CanvasState, key)
			continue
		}
		session.CanvasState[key] = value
	}
	session.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update canvas state: %w", err)
	}
	return session.CanvasState, nil
}

// ListResearchTasks returns snapshots of the research tasks referenced by a
// session's messages, newest first.
func (s *HistoryService) ListResearchTasks(ctx context.Context, sessionID, userID string, status models.TaskStatus) ([]*models.Task, error) {
	if _, err := s.ownedSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	if s.tasks == nil {
		return nil, nil
	}

	msgs, _, err := s.store.ListMessages(ctx, sessionID, 0, 0, true, "")
	if err != nil {
		return nil, fmt.Errorf("failed to scan session messages: %w", err)
	}

	var out []*models.Task
	seen := make(map[string]bool)
	for _, m := range msgs {
		if m.TaskID == "" || seen[m.TaskID] {
			continue
		}
		seen[m.TaskID] = true
		task, err := s.tasks.Get(m.TaskID, userID)
		if err != nil {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// Export renders a chat transcript as json, csv, or txt.
func (s *HistoryService) Export(ctx context.Context, chatID, userID, format string, includeMetadata bool) ([]byte, string, error) {
	session, err := s.ownedSession(ctx, chatID, userID)
	if err != nil {
		return nil, "", err
	}

	msgs, _, err := s.store.ListMessages(ctx, chatID, 0, 0, true, "")
	if err != nil {
		return nil, "", fmt.Errorf("failed to load messages for export: %w", err)
	}
	// Stored newest first; exports read top to bottom.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	switch format {
	case "json":
		data, err := exportJSON(session, msgs, includeMetadata)
		return data, "application/json", err
	case "csv":
		data, err := exportCSV(msgs, includeMetadata)
		return data, "text/csv", err
	case "txt":
		return exportTXT(session, msgs), "text/plain; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func exportJSON(session *models.ChatSession, msgs []*models.ChatMessage, includeMetadata bool) ([]byte, error) {
	type exportMessage struct {
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		CreatedAt time.Time      `json:"created_at"`
		Model     string         `json:"model,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}
	out := struct {
		SessionID  string          `json:"session_id"`
		Title      string          `json:"title"`
		ExportedAt time.Time       `json:"exported_at"`
		Messages   []exportMessage `json:"messages"`
	}{
		SessionID:  session.ID,
		Title:      session.Title,
		ExportedAt: time.Now().UTC(),
	}
	for _, m := range msgs {
		em := exportMessage{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt, Model: m.Model}
		if includeMetadata {
			em.Metadata = m.Metadata
		}
		out.Messages = append(out.Messages, em)
	}
	return json.MarshalIndent(out, "", "  ")
}

func exportCSV(msgs []*models.ChatMessage, includeMetadata bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"created_at", "role", "content"}
	if includeMetadata {
		header = append(header, "model", "metadata")
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, m := range msgs {
		row := []string{m.CreatedAt.Format(time.RFC3339), m.Role, m.Content}
		if includeMetadata {
			meta, _ := json.Marshal(m.Metadata)
			row = append(row, m.Model, string(meta))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func exportTXT(session *models.ChatSession, msgs []*models.ChatMessage) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Conversación: %s\n\n", session.Title)
	for _, m := range msgs {
		fmt.Fprintf(&buf, "[%s] %s:\n%s\n\n", m.CreatedAt.Format(time.RFC3339), m.Role, m.Content)
	}
	return buf.Bytes()
}

// ownedSession loads a session and enforces ownership.
func (s *HistoryService) ownedSession(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrForbidden
	}
	return session, nil
}

func historyKey(chatID string, limit, offset int, includeSystem bool, roleFilter string) string {
	return "history:" + chatID + ":" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset) +
		":" + strconv.FormatBool(includeSystem) + ":" + roleFilter
}
