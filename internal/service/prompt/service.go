package prompt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatdeck/internal/models"
	"chatdeck/internal/redis"
	"chatdeck/internal/storage"
)

const (
	listCacheKey = "prompts:all"
	listCacheTTL = time.Hour
)

const timestampLayout = "2006-01-02 15:04:05"

// Service handles prompt template persistence, the chat command convention,
// and import/export. Write operations require the admin or editor role;
// reads and export are open to every role.
type Service struct {
	db    *sql.DB
	cache *redis.Client
}

// NewService builds a new prompt service. cache may be nil.
func NewService(db *sql.DB, cache *redis.Client) *Service {
	return &Service{db: db, cache: cache}
}

// Command derives the chat command for a template title: a leading slash,
// lowercased, spaces replaced with dashes.
func Command(title string) string {
	return "/" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")
}

// Create stores a new template. Fails with ErrDuplicateName when a template
// with the same command already exists.
func (s *Service) Create(ctx context.Context, user *models.User, title, content string) (*models.PromptTemplate, error) {
	if err := requireEditor(user); err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, errors.New("title and content are required")
	}
	command := Command(title)

	// The command column is the primary key, so a concurrent create of the
	// same name loses here rather than at a separate existence check.
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (command, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		command, title, content, now, now,
	); err != nil {
		if storage.IsDuplicate(err) {
			return nil, fmt.Errorf("%w: %s", models.ErrDuplicateName, command)
		}
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	s.invalidateCache(ctx)
	return &models.PromptTemplate{Title: title, Command: command, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

// Update replaces the body of an existing template.
func (s *Service) Update(ctx context.Context, user *models.User, command, content string) (*models.PromptTemplate, error) {
	if err := requireEditor(user); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE prompts SET content = ?, updated_at = ? WHERE command = ?`,
		content, now, command,
	)
	if err != nil {
		return nil, fmt.Errorf("update prompt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("prompt rows affected: %w", err)
	}
	if affected == 0 {
		return nil, models.ErrNotFound
	}
	s.invalidateCache(ctx)
	return s.Get(ctx, command)
}

// Delete removes a template by command.
func (s *Service) Delete(ctx context.Context, user *models.User, command string) error {
	if err := requireEditor(user); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE command = ?`, command)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("prompt rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	s.invalidateCache(ctx)
	return nil
}

// Get returns a single template by command.
func (s *Service) Get(ctx context.Context, command string) (*models.PromptTemplate, error) {
	var p models.PromptTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT command, title, content, created_at, updated_at FROM prompts WHERE command = ?`,
		command,
	).Scan(&p.Command, &p.Title, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return &p, nil
}

// List returns all templates ordered by title, served from the cache when
// possible. A cache failure degrades to a direct read.
func (s *Service) List(ctx context.Context) ([]models.PromptTemplate, error) {
	if cached, err := s.cache.Get(ctx, listCacheKey); err == nil {
		var prompts []models.PromptTemplate
		if err := json.Unmarshal([]byte(cached), &prompts); err == nil {
			return prompts, nil
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT command, title, content, created_at, updated_at FROM prompts ORDER BY title ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.PromptTemplate
	for rows.Next() {
		var p models.PromptTemplate
		if err := rows.Scan(&p.Command, &p.Title, &p.Content, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(prompts); err == nil {
		_ = s.cache.Set(ctx, listCacheKey, data, listCacheTTL)
	}
	return prompts, nil
}

// Export serializes one template to its portable file form.
func (s *Service) Export(ctx context.Context, command string) ([]byte, error) {
	p, err := s.Get(ctx, command)
	if err != nil {
		return nil, err
	}
	return marshalExport([]models.PromptTemplate{*p})
}

// ExportAll serializes every template to a single portable file.
func (s *Service) ExportAll(ctx context.Context) ([]byte, error) {
	prompts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return marshalExport(prompts)
}

// Import parses a portable template file and upserts its entries. Returns
// ErrMalformedTemplate when the payload cannot be parsed or an entry lacks a
// title or content.
func (s *Service) Import(ctx context.Context, user *models.User, data []byte) ([]models.PromptTemplate, error) {
	if err := requireEditor(user); err != nil {
		return nil, err
	}
	entries, err := parseExport(data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	imported := make([]models.PromptTemplate, 0, len(entries))
	for _, e := range entries {
		command := e.Command
		if command == "" {
			command = Command(e.Title)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO prompts (command, title, content, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(command) DO UPDATE SET title = excluded.title, content = excluded.content, updated_at = excluded.updated_at`,
			command, e.Title, e.Content, now, now,
		); err != nil {
			return nil, fmt.Errorf("import prompt %s: %w", command, err)
		}
		imported = append(imported, models.PromptTemplate{
			Title: e.Title, Command: command, Content: e.Content, CreatedAt: now, UpdatedAt: now,
		})
	}
	s.invalidateCache(ctx)
	return imported, nil
}

// Expand rewrites chat input that starts with a template command. The
// command token is replaced by the template body; any trailing text is
// preserved after it. Input that matches no template passes through as is.
func (s *Service) Expand(ctx context.Context, input string) (string, error) {
	if !strings.HasPrefix(input, "/") {
		return input, nil
	}
	command, rest, _ := strings.Cut(input, " ")
	p, err := s.Get(ctx, command)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return input, nil
		}
		return "", err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return p.Content, nil
	}
	return p.Content + " " + rest, nil
}

func requireEditor(user *models.User) error {
	if user == nil || !user.Role.CanManagePrompts() {
		return models.ErrUnauthorized
	}
	return nil
}

func marshalExport(prompts []models.PromptTemplate) ([]byte, error) {
	exports := make([]models.PromptExport, len(prompts))
	for i, p := range prompts {
		exports[i] = models.PromptExport{
			Title:       p.Title,
			Command:     p.Command,
			Content:     p.Content,
			LastUpdated: p.UpdatedAt.Format(timestampLayout),
		}
	}
	data, err := json.MarshalIndent(exports, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return data, nil
}

func parseExport(data []byte) ([]models.PromptExport, error) {
	var entries []models.PromptExport
	if err := json.Unmarshal(data, &entries); err != nil {
		// Accept a single object as well as an array.
		var single models.PromptExport
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMalformedTemplate, err)
		}
		entries = []models.PromptExport{single}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no templates in file", models.ErrMalformedTemplate)
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Title) == "" || strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("%w: template missing title or content", models.ErrMalformedTemplate)
		}
	}
	return entries, nil
}

func (s *Service) invalidateCache(ctx context.Context) {
	_ = s.cache.Del(ctx, listCacheKey)
}
