package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bookmind/internal/core"
	"bookmind/internal/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed source of truth for all entities. Every read
// is scoped by user id; operations that cannot be scoped are not exposed.
type Store struct {
	db   *sql.DB
	path string
}

const (
	maxRetries   = 3
	retryBaseoff = 100 * time.Millisecond
)

// NewStore opens (creating if needed) the SQLite database at the given
// path. A "sqlite://" prefix is accepted and stripped.
func NewStore(dbPath string) (*Store, error) {
	dbPath = strings.TrimPrefix(dbPath, "sqlite://")
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

// initialize creates the necessary tables and indexes
func (s *Store) initialize() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		technology_interests TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);`

	savedContentTable := `
	CREATE TABLE IF NOT EXISTS saved_content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		extracted_text TEXT NOT NULL DEFAULT '',
		quality_score INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		saved_at DATETIME NOT NULL,
		analysis_claimed_at DATETIME,
		analysis_failed_at DATETIME,
		UNIQUE (user_id, url)
	);`

	contentAnalysisTable := `
	CREATE TABLE IF NOT EXISTS content_analysis (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_id INTEGER NOT NULL UNIQUE REFERENCES saved_content (id) ON DELETE CASCADE,
		analysis_data TEXT NOT NULL DEFAULT '{}',
		key_concepts TEXT NOT NULL DEFAULT '[]',
		content_type TEXT NOT NULL DEFAULT '',
		difficulty_level TEXT NOT NULL DEFAULT '',
		technology_tags TEXT NOT NULL DEFAULT '[]',
		relevance_score REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	projectsTable := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		technologies TEXT NOT NULL DEFAULT '[]',
		intent_analysis TEXT,
		intent_analysis_updated DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		embedding TEXT,
		created_at DATETIME NOT NULL
	);`

	userFeedbackTable := `
	CREATE TABLE IF NOT EXISTS user_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		content_id INTEGER NOT NULL,
		recommendation_id TEXT,
		feedback_type TEXT NOT NULL,
		context_data TEXT NOT NULL DEFAULT '{}',
		timestamp DATETIME NOT NULL
	);`

	userAPIKeysTable := `
	CREATE TABLE IF NOT EXISTS user_api_keys (
		user_id INTEGER PRIMARY KEY REFERENCES users (id) ON DELETE CASCADE,
		key_ciphertext BLOB,
		key_hash TEXT NOT NULL DEFAULT '',
		key_name TEXT NOT NULL DEFAULT '',
		requests_this_minute INTEGER NOT NULL DEFAULT 0,
		requests_today INTEGER NOT NULL DEFAULT 0,
		requests_this_month INTEGER NOT NULL DEFAULT 0,
		minute_started_at DATETIME NOT NULL,
		day_started_at DATETIME NOT NULL,
		month_started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_saved_content_user ON saved_content (user_id, saved_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user ON projects (user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks (project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_user_ts ON user_feedback (user_id, timestamp DESC);`,
	}

	stmts := []string{
		usersTable, savedContentTable, contentAnalysisTable,
		projectsTable, tasksTable, userFeedbackTable, userAPIKeysTable,
	}
	stmts = append(stmts, indexes...)
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs fn up to maxRetries times with exponential backoff,
// retrying only transient failures. Constraint violations and context
// cancellation surface immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return core.Timeout(op, ctx.Err())
		}
		if !retryable(err) {
			return err
		}
		wait := retryBaseoff << attempt
		logger.Warn("store retry", "op", op, "attempt", attempt+1, "wait", wait.String())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return core.Timeout(op, ctx.Err())
		}
	}
	return core.StoreUnavailable(fmt.Errorf("%s: %w", op, err))
}

func retryable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// BookmarkFilter narrows ListBookmarks. Query matches title/notes/URL as
// substring; Category is exact; Tag requires inclusion.
type BookmarkFilter struct {
	Query    string
	Category string
	Tag      string
}

// Page describes stable pagination over saved_at DESC, id DESC.
type Page struct {
	Limit  int
	Offset int
}

// CreateUser inserts a user and returns it with the assigned id.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string, interests []string) (*core.User, error) {
	if username == "" || email == "" {
		return nil, core.InvalidInput("username and email are required")
	}
	interestsJSON := marshalStrings(interests)
	now := time.Now().UTC()
	var id int64
	err := s.withRetry(ctx, "create user", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash, technology_interests, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			username, email, passwordHash, interestsJSON, now)
		if err != nil {
			if isConstraint(err) {
				return core.Conflict("username or email already taken", err)
			}
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return &core.User{ID: id, Username: username, Email: email, PasswordHash: passwordHash,
		TechnologyInterests: interests, CreatedAt: now}, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*core.User, error) {
	return s.getUserWhere(ctx, `id = ?`, id)
}

// GetUserByUsername loads a user by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*core.User, error) {
	return s.getUserWhere(ctx, `username = ?`, username)
}

func (s *Store) getUserWhere(ctx context.Context, where string, args ...any) (*core.User, error) {
	var u core.User
	var interests string
	err := s.withRetry(ctx, "get user", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, username, email, password_hash, technology_interests, created_at
			 FROM users WHERE `+where, args...)
		return row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &interests, &u.CreatedAt)
	})
	if err == sql.ErrNoRows {
		return nil, core.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	u.TechnologyInterests = unmarshalStrings(interests)
	return &u, nil
}

// UpsertResult reports what a write did.
type UpsertResult struct {
	ID      int64
	Created bool
}

// UpsertBookmark deduplicates on (user, url): an existing row is updated
// in place keeping its id and saved_at; a new row gets saved_at = now.
// Embeddings are stored as given; callers normalize before writing.
func (s *Store) UpsertBookmark(ctx context.Context, b *core.Bookmark) (*UpsertResult, error) {
	if b.UserID == 0 || b.URL == "" {
		return nil, core.InvalidInput("user and url are required")
	}
	tagsJSON := marshalStrings(b.Tags)
	embJSON := marshalEmbedding(b.Embedding)

	var result UpsertResult
	err := s.withRetry(ctx, "upsert bookmark", func() error {
		var existingID int64
		created := false
		row := s.db.QueryRowContext(ctx,
			`SELECT id FROM saved_content WHERE user_id = ? AND url = ?`, b.UserID, b.URL)
		if err := row.Scan(&existingID); err == sql.ErrNoRows {
			created = true
		} else if err != nil {
			return err
		}

		savedAt := b.SavedAt
		if savedAt.IsZero() {
			savedAt = time.Now().UTC()
		}

		// Atomic on (user_id, url): concurrent saves of the same URL merge
		// into one row instead of one of them failing on the constraint.
		// The conflict branch keeps the existing saved_at.
		var id int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO saved_content
			 (user_id, url, title, notes, category, tags, extracted_text, quality_score, embedding, saved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, url) DO UPDATE SET
			     title = excluded.title, notes = excluded.notes,
			     category = excluded.category, tags = excluded.tags,
			     extracted_text = excluded.extracted_text,
			     quality_score = excluded.quality_score,
			     embedding = excluded.embedding,
			     analysis_failed_at = NULL
			 RETURNING id`,
			b.UserID, b.URL, b.Title, b.Notes, b.Category, tagsJSON,
			b.ExtractedText, b.QualityScore, embJSON, savedAt).Scan(&id)
		if err != nil {
			return err
		}
		result = UpsertResult{ID: id, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.ID = result.ID
	return &result, nil
}

// MergeBookmarkMeta updates only title/notes of an existing bookmark,
// keeping scraped fields intact. Empty values are ignored. Used by the
// dedup path of ingestion.
func (s *Store) MergeBookmarkMeta(ctx context.Context, userID, id int64, title, notes string) error {
	return s.withRetry(ctx, "merge bookmark meta", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE saved_content
			 SET title = CASE WHEN ? != '' THEN ? ELSE title END,
			     notes = CASE WHEN ? != '' THEN ? ELSE notes END
			 WHERE id = ? AND user_id = ?`,
			title, title, notes, notes, id, userID)
		return err
	})
}

// GetBookmark loads one bookmark scoped to the user.
func (s *Store) GetBookmark(ctx context.Context, userID, id int64) (*core.Bookmark, error) {
	return s.getBookmarkWhere(ctx, `id = ? AND user_id = ?`, id, userID)
}

// GetBookmarkByURL loads one bookmark by its per-user unique URL.
func (s *Store) GetBookmarkByURL(ctx context.Context, userID int64, url string) (*core.Bookmark, error) {
	return s.getBookmarkWhere(ctx, `user_id = ? AND url = ?`, userID, url)
}

func (s *Store) getBookmarkWhere(ctx context.Context, where string, args ...any) (*core.Bookmark, error) {
	var b core.Bookmark
	var tags string
	var emb sql.NullString
	err := s.withRetry(ctx, "get bookmark", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, url, title, notes, category, tags, extracted_text, quality_score, embedding, saved_at
			 FROM saved_content WHERE `+where, args...)
		return row.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.Notes, &b.Category,
			&tags, &b.ExtractedText, &b.QualityScore, &emb, &b.SavedAt)
	})
	if err == sql.ErrNoRows {
		return nil, core.NotFound("bookmark")
	}
	if err != nil {
		return nil, err
	}
	b.Tags = unmarshalStrings(tags)
	b.Embedding = unmarshalEmbedding(emb)
	return &b, nil
}

// ListBookmarks returns a page of the user's bookmarks plus the unpaged
// total, ordered by saved_at DESC, id DESC.
func (s *Store) ListBookmarks(ctx context.Context, userID int64, filter BookmarkFilter, page Page) ([]core.Bookmark, int, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	if filter.Query != "" {
		where = append(where, "(title LIKE ? OR notes LIKE ? OR url LIKE ?)")
		pat := "%" + filter.Query + "%"
		args = append(args, pat, pat, pat)
	}
	if filter.Category != "" {
		where = append(where, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Tag != "" {
		// Tags are a JSON array of strings; inclusion is a quoted substring match.
		where = append(where, "tags LIKE ?")
		args = append(args, `%"`+filter.Tag+`"%`)
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := s.withRetry(ctx, "count bookmarks", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM saved_content WHERE `+cond, args...)
		return row.Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	queryArgs := append(append([]any{}, args...), limit, page.Offset)
	var items []core.Bookmark
	err = s.withRetry(ctx, "list bookmarks", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, user_id, url, title, notes, category, tags, extracted_text, quality_score, embedding, saved_at
			 FROM saved_content WHERE `+cond+`
			 ORDER BY saved_at DESC, id DESC LIMIT ? OFFSET ?`, queryArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			var b core.Bookmark
			var tags string
			var emb sql.NullString
			if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.Notes, &b.Category,
				&tags, &b.ExtractedText, &b.QualityScore, &emb, &b.SavedAt); err != nil {
				return err
			}
			b.Tags = unmarshalStrings(tags)
			b.Embedding = unmarshalEmbedding(emb)
			items = append(items, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// DeleteBookmark removes one bookmark scoped to the user.
func (s *Store) DeleteBookmark(ctx context.Context, userID, id int64) error {
	return s.deleteBookmarkWhere(ctx, `id = ? AND user_id = ?`, id, userID)
}

// DeleteBookmarkByURL removes one bookmark by its per-user URL.
func (s *Store) DeleteBookmarkByURL(ctx context.Context, userID int64, url string) error {
	return s.deleteBookmarkWhere(ctx, `user_id = ? AND url = ?`, userID, url)
}

func (s *Store) deleteBookmarkWhere(ctx context.Context, where string, args ...any) error {
	var affected int64
	err := s.withRetry(ctx, "delete bookmark", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM saved_content WHERE `+where, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.NotFound("bookmark")
	}
	return nil
}

func marshalStrings(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalStrings(data string) []string {
	var list []string
	if data != "" {
		_ = json.Unmarshal([]byte(data), &list)
	}
	return list
}

func marshalEmbedding(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func unmarshalEmbedding(v sql.NullString) []float32 {
	if !v.Valid || v.String == "" {
		return nil
	}
	var emb []float32
	_ = json.Unmarshal([]byte(v.String), &emb)
	return emb
}
