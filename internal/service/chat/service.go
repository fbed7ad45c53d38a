package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatdeck/internal/models"

	"github.com/google/uuid"
)

// Service handles session and message persistence.
type Service struct {
	db *sql.DB
}

// NewService builds a new chat service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateSession inserts a new empty session for the given user.
func (s *Service) CreateSession(ctx context.Context, user *models.User, title string) (*models.Session, error) {
	if user == nil || user.Username == "" {
		return nil, models.ErrUnauthorized
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, username, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Username, session.Title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// ListSessions returns all sessions for a user ordered by last activity,
// newest first.
func (s *Service) ListSessions(ctx context.Context, username string) ([]models.Session, error) {
	if username == "" {
		return nil, models.ErrUnauthorized
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, title, created_at, updated_at FROM sessions WHERE username = ? ORDER BY updated_at DESC`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var se models.Session
		if err := rows.Scan(&se.ID, &se.Username, &se.Title, &se.CreatedAt, &se.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, se)
	}
	return sessions, rows.Err()
}

// GetSessionWithMessages returns one session owned by the user and its
// messages in append order.
func (s *Service) GetSessionWithMessages(ctx context.Context, username, sessionID string) (*models.Session, []*models.Message, error) {
	session, err := s.getOwnedSession(ctx, username, sessionID)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, author, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return session, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Author, &m.CreatedAt); err != nil {
			return session, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return session, messages, rows.Err()
}

// AppendMessage stores a new message, updates the session's updated_at
// timestamp, and fills in the session title from the first user message when
// none is set yet.
func (s *Service) AppendMessage(ctx context.Context, username string, msg models.Message) (*models.Message, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return nil, errors.New("content cannot be empty")
	}
	session, err := s.getOwnedSession(ctx, username, msg.SessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, author, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.Author, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}

	title := session.Title
	if title == "" && msg.Role == models.MessageRoleUser {
		title = deriveTitle(msg.Content)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, title = ? WHERE id = ?`,
		now, title, msg.SessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return &msg, nil
}

// DeleteSession removes a session and all related messages. The requesting
// user must own the session.
func (s *Service) DeleteSession(ctx context.Context, user *models.User, sessionID string) error {
	if user == nil || user.Username == "" {
		return models.ErrUnauthorized
	}
	if _, err := s.getOwnedSession(ctx, user.Username, sessionID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}

// RenameSession sets a session title for the specified user. The rename
// counts as activity, so updated_at moves too.
func (s *Service) RenameSession(ctx context.Context, username, sessionID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title cannot be empty")
	}
	if _, err := s.getOwnedSession(ctx, username, sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now().UTC(), sessionID,
	); err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return nil
}

// getOwnedSession loads the session and enforces ownership: a session that
// exists but belongs to someone else is reported as unauthorized, a missing
// one as not found.
func (s *Service) getOwnedSession(ctx context.Context, username, sessionID string) (*models.Session, error) {
	if username == "" {
		return nil, models.ErrUnauthorized
	}
	if sessionID == "" {
		return nil, models.ErrNotFound
	}
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, title, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.Username, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.Username != username {
		return nil, models.ErrUnauthorized
	}
	return &session, nil
}

func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= 30 {
		return content
	}
	return string(runes[:30]) + "..."
}
