package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"bookmind/internal/core"
)

// RecordFeedback appends a feedback event. Events are never updated.
func (s *Store) RecordFeedback(ctx context.Context, ev *core.FeedbackEvent) error {
	if ev.UserID == 0 || ev.ContentID == 0 {
		return core.InvalidInput("user and content are required")
	}
	if !core.ValidFeedbackType(ev.FeedbackType) {
		return core.InvalidInput("unknown feedback type: " + ev.FeedbackType)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	contextJSON := "{}"
	if len(ev.ContextData) > 0 {
		data, _ := json.Marshal(ev.ContextData)
		contextJSON = string(data)
	}
	return s.withRetry(ctx, "record feedback", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO user_feedback (user_id, content_id, recommendation_id, feedback_type, context_data, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.UserID, ev.ContentID, nullString(ev.RecommendationID), ev.FeedbackType, contextJSON, ev.Timestamp)
		if err != nil {
			return err
		}
		ev.ID, err = res.LastInsertId()
		return err
	})
}

// ListFeedback returns the user's feedback events at or after since,
// newest first.
func (s *Store) ListFeedback(ctx context.Context, userID int64, since time.Time) ([]core.FeedbackEvent, error) {
	var events []core.FeedbackEvent
	err := s.withRetry(ctx, "list feedback", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, user_id, content_id, recommendation_id, feedback_type, context_data, timestamp
			 FROM user_feedback
			 WHERE user_id = ? AND timestamp >= ?
			 ORDER BY timestamp DESC`, userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		events = events[:0]
		for rows.Next() {
			var ev core.FeedbackEvent
			var recID sql.NullString
			var contextJSON string
			if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ContentID, &recID,
				&ev.FeedbackType, &contextJSON, &ev.Timestamp); err != nil {
				return err
			}
			ev.RecommendationID = recID.String
			if contextJSON != "" && contextJSON != "{}" {
				_ = json.Unmarshal([]byte(contextJSON), &ev.ContextData)
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// CountFeedback reports the total feedback events for a user.
func (s *Store) CountFeedback(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.withRetry(ctx, "count feedback", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM user_feedback WHERE user_id = ?`, userID)
		return row.Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CreateProject inserts a project for the user.
func (s *Store) CreateProject(ctx context.Context, p *core.Project) error {
	if p.UserID == 0 || p.Title == "" {
		return core.InvalidInput("user and title are required")
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return s.withRetry(ctx, "create project", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO projects (user_id, title, description, technologies, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.UserID, p.Title, p.Description, marshalStrings(p.Technologies), now, now)
		if err != nil {
			return err
		}
		p.ID, err = res.LastInsertId()
		return err
	})
}

// GetProject loads a project scoped to the user, including its cached
// intent when present.
func (s *Store) GetProject(ctx context.Context, userID, id int64) (*core.Project, error) {
	var p core.Project
	var techs string
	var intentJSON sql.NullString
	var intentUpdated sql.NullTime
	err := s.withRetry(ctx, "get project", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, user_id, title, description, technologies, intent_analysis, intent_analysis_updated, created_at, updated_at
			 FROM projects WHERE id = ? AND user_id = ?`, id, userID)
		return row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &techs,
			&intentJSON, &intentUpdated, &p.CreatedAt, &p.UpdatedAt)
	})
	if err == sql.ErrNoRows {
		return nil, core.NotFound("project")
	}
	if err != nil {
		return nil, err
	}
	p.Technologies = unmarshalStrings(techs)
	if intentJSON.Valid && intentJSON.String != "" {
		var intent core.Intent
		if json.Unmarshal([]byte(intentJSON.String), &intent) == nil {
			p.Intent = &intent
		}
	}
	if intentUpdated.Valid {
		p.IntentAnalysisUpdated = intentUpdated.Time
	}
	return &p, nil
}

// UpdateProject rewrites title/description/technologies and clears any
// cached intent, since the context text it was computed from changed.
func (s *Store) UpdateProject(ctx context.Context, p *core.Project) error {
	now := time.Now().UTC()
	var affected int64
	err := s.withRetry(ctx, "update project", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE projects
			 SET title = ?, description = ?, technologies = ?,
			     intent_analysis = NULL, intent_analysis_updated = NULL, updated_at = ?
			 WHERE id = ? AND user_id = ?`,
			p.Title, p.Description, marshalStrings(p.Technologies), now, p.ID, p.UserID)
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
		return core.NotFound("project")
	}
	p.Intent = nil
	p.IntentAnalysisUpdated = time.Time{}
	p.UpdatedAt = now
	return nil
}

// SaveProjectIntent stores the analyzed intent on the project. The
// intent_analysis_updated timestamp is set iff the intent is non-empty.
func (s *Store) SaveProjectIntent(ctx context.Context, userID, projectID int64, intent *core.Intent) error {
	if intent == nil {
		return core.InvalidInput("intent is required")
	}
	data, _ := json.Marshal(intent)
	now := time.Now().UTC()
	var affected int64
	err := s.withRetry(ctx, "save project intent", func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE projects SET intent_analysis = ?, intent_analysis_updated = ? WHERE id = ? AND user_id = ?`,
			string(data), now, projectID, userID)
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
		return core.NotFound("project")
	}
	return nil
}

// CreateTask inserts a task under a project. The project must belong to
// the user; ownership is checked here, not trusted from the caller.
func (s *Store) CreateTask(ctx context.Context, userID int64, t *core.Task) error {
	if t.ProjectID == 0 || t.Title == "" {
		return core.InvalidInput("project and title are required")
	}
	if _, err := s.GetProject(ctx, userID, t.ProjectID); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	return s.withRetry(ctx, "create task", func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO tasks (project_id, title, description, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			t.ProjectID, t.Title, t.Description, marshalEmbedding(t.Embedding), now)
		if err != nil {
			return err
		}
		t.ID, err = res.LastInsertId()
		return err
	})
}

// ListTasks returns the tasks of one project, oldest first. Ownership of
// the project is verified first.
func (s *Store) ListTasks(ctx context.Context, userID, projectID int64) ([]core.Task, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	var tasks []core.Task
	err := s.withRetry(ctx, "list tasks", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, project_id, title, description, embedding, created_at
			 FROM tasks WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		tasks = tasks[:0]
		for rows.Next() {
			var t core.Task
			var emb sql.NullString
			if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &emb, &t.CreatedAt); err != nil {
				return err
			}
			t.Embedding = unmarshalEmbedding(emb)
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
