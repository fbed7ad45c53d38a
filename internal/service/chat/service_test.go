package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"chatdeck/internal/config"
	"chatdeck/internal/models"
	"chatdeck/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func testUser(username string) *models.User {
	return &models.User{Username: username, Name: username, Role: models.RoleViewer}
}

func TestCreateSessionRequiresUser(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)

	if _, err := svc.CreateSession(context.Background(), nil, ""); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.CreateSession(context.Background(), &models.User{}, ""); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty username, got %v", err)
	}
}

func TestListSessionsOnlyReturnsOwn(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	bob := testUser("bob")
	if _, err := svc.CreateSession(ctx, alice, "a1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.CreateSession(ctx, alice, "a2"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.CreateSession(ctx, bob, "b1"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	sessions, err := svc.ListSessions(ctx, alice.Username)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(sessions))
	}
	for _, se := range sessions {
		if se.Username != alice.Username {
			t.Fatalf("session %s belongs to %s", se.ID, se.Username)
		}
	}
}

func TestAppendMessageOrderAndTimestamps(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	session, err := svc.CreateSession(ctx, alice, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	contents := []string{"first", "second", "third", "fourth", "fifth"}
	for i, content := range contents {
		role := models.MessageRoleUser
		if i%2 == 1 {
			role = models.MessageRoleAssistant
		}
		if _, err := svc.AppendMessage(ctx, alice.Username, models.Message{
			SessionID: session.ID,
			Role:      role,
			Content:   content,
		}); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	_, messages, err := svc.GetSessionWithMessages(ctx, alice.Username, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(messages))
	}
	for i, m := range messages {
		if m.Content != contents[i] {
			t.Fatalf("message %d out of order: got %q want %q", i, m.Content, contents[i])
		}
		if i > 0 && m.CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("timestamps not non-decreasing at index %d", i)
		}
	}
}

func TestAppendMessageSetsTitleFromFirstUserMessage(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	session, err := svc.CreateSession(ctx, alice, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	long := strings.Repeat("x", 40)
	if _, err := svc.AppendMessage(ctx, alice.Username, models.Message{
		SessionID: session.ID,
		Role:      models.MessageRoleUser,
		Content:   long,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _, err := svc.GetSessionWithMessages(ctx, alice.Username, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	want := strings.Repeat("x", 30) + "..."
	if got.Title != want {
		t.Fatalf("expected derived title %q, got %q", want, got.Title)
	}
}

func TestAppendMessageMissingSession(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)

	_, err := svc.AppendMessage(context.Background(), "alice", models.Message{
		SessionID: "does-not-exist",
		Role:      models.MessageRoleUser,
		Content:   "hello",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageForeignSession(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, testUser("alice"), "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err = svc.AppendMessage(ctx, "bob", models.Message{
		SessionID: session.ID,
		Role:      models.MessageRoleUser,
		Content:   "hi",
	})
	if !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDeleteSessionOwnership(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	session, err := svc.CreateSession(ctx, alice, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, alice.Username, models.Message{
		SessionID: session.ID, Role: models.MessageRoleUser, Content: "hi",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.DeleteSession(ctx, testUser("bob"), session.ID); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign delete, got %v", err)
	}
	// Session must still be present after the refused delete.
	if _, _, err := svc.GetSessionWithMessages(ctx, alice.Username, session.ID); err != nil {
		t.Fatalf("session should survive foreign delete: %v", err)
	}

	if err := svc.DeleteSession(ctx, alice, session.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, _, err := svc.GetSessionWithMessages(ctx, alice.Username, session.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, session.ID).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected messages removed with session, got %d", count)
	}
}

func TestRenameSession(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	session, err := svc.CreateSession(ctx, alice, "old")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := svc.RenameSession(ctx, alice.Username, session.ID, "new title"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _, err := svc.GetSessionWithMessages(ctx, alice.Username, session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Title != "new title" {
		t.Fatalf("expected renamed title, got %q", got.Title)
	}
	if err := svc.RenameSession(ctx, alice.Username, session.ID, "  "); err == nil {
		t.Fatalf("expected error for empty title")
	}
}

func TestRenameSessionCountsAsActivity(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	alice := testUser("alice")
	first, err := svc.CreateSession(ctx, alice, "first")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	second, err := svc.CreateSession(ctx, alice, "second")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	sessions, err := svc.ListSessions(ctx, alice.Username)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if sessions[0].ID != second.ID {
		t.Fatalf("expected newest session first, got %q", sessions[0].Title)
	}

	// Renaming the older session moves it to the top of the list.
	if err := svc.RenameSession(ctx, alice.Username, first.ID, "renamed"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	sessions, err = svc.ListSessions(ctx, alice.Username)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if sessions[0].ID != first.ID {
		t.Fatalf("expected renamed session first, got %q", sessions[0].Title)
	}
	if !sessions[0].UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updated_at to advance on rename")
	}
}
