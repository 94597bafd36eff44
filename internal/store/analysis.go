package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"bookmind/internal/core"
)

// UpsertAnalysis writes the analysis row for a bookmark, replacing any
// existing one, and clears the claim/failure markers on the content row.
func (s *Store) UpsertAnalysis(ctx context.Context, contentID int64, a *core.ContentAnalysis) error {
	if contentID == 0 {
		return core.InvalidInput("content id is required")
	}
	if a.ContentType != "" && !core.ValidContentType(a.ContentType) {
		return core.InvalidInput("unknown content type: " + a.ContentType)
	}
	if a.Difficulty != "" && !core.ValidDifficulty(a.Difficulty) {
		return core.InvalidInput("unknown difficulty: " + a.Difficulty)
	}

	data, _ := json.Marshal(a)
	now := time.Now().UTC()
	return s.withRetry(ctx, "upsert analysis", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO content_analysis
			 (content_id, analysis_data, key_concepts, content_type, difficulty_level, technology_tags, relevance_score, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (content_id) DO UPDATE SET
			   analysis_data = excluded.analysis_data,
			   key_concepts = excluded.key_concepts,
			   content_type = excluded.content_type,
			   difficulty_level = excluded.difficulty_level,
			   technology_tags = excluded.technology_tags,
			   relevance_score = excluded.relevance_score,
			   updated_at = excluded.updated_at`,
			contentID, string(data), marshalStrings(a.KeyConcepts), a.ContentType,
			a.Difficulty, marshalStrings(a.Technologies), a.RelevanceScore, now, now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE saved_content SET analysis_claimed_at = NULL, analysis_failed_at = NULL WHERE id = ?`,
			contentID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetAnalysis loads the analysis row for one bookmark, or NotFound.
func (s *Store) GetAnalysis(ctx context.Context, contentID int64) (*core.ContentAnalysis, error) {
	var a core.ContentAnalysis
	var keyConcepts, techTags string
	err := s.withRetry(ctx, "get analysis", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT id, content_id, key_concepts, content_type, difficulty_level, technology_tags, relevance_score, created_at, updated_at
			 FROM content_analysis WHERE content_id = ?`, contentID)
		return row.Scan(&a.ID, &a.ContentID, &keyConcepts, &a.ContentType,
			&a.Difficulty, &techTags, &a.RelevanceScore, &a.CreatedAt, &a.UpdatedAt)
	})
	if err == sql.ErrNoRows {
		return nil, core.NotFound("analysis")
	}
	if err != nil {
		return nil, err
	}
	a.KeyConcepts = unmarshalStrings(keyConcepts)
	a.Technologies = unmarshalStrings(techTags)
	return &a, nil
}

// ClaimUnanalyzed atomically claims up to limit bookmarks that have no
// analysis row, no live claim, and no failure inside the cooldown window.
// Claimed rows are invisible to other workers for claimTTL.
func (s *Store) ClaimUnanalyzed(ctx context.Context, limit int, cooldown, claimTTL time.Duration) ([]core.Bookmark, error) {
	if limit <= 0 {
		limit = 10
	}
	now := time.Now().UTC()
	var claimed []core.Bookmark
	err := s.withRetry(ctx, "claim unanalyzed", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		rows, err := tx.QueryContext(ctx,
			`SELECT sc.id, sc.user_id, sc.url, sc.title, sc.notes, sc.category, sc.tags,
			        sc.extracted_text, sc.quality_score, sc.embedding, sc.saved_at
			 FROM saved_content sc
			 LEFT JOIN content_analysis ca ON ca.content_id = sc.id
			 WHERE ca.id IS NULL
			   AND (sc.analysis_claimed_at IS NULL OR sc.analysis_claimed_at < ?)
			   AND (sc.analysis_failed_at IS NULL OR sc.analysis_failed_at < ?)
			 ORDER BY sc.saved_at ASC
			 LIMIT ?`,
			now.Add(-claimTTL), now.Add(-cooldown), limit)
		if err != nil {
			return err
		}
		claimed = claimed[:0]
		for rows.Next() {
			var b core.Bookmark
			var tags string
			var emb sql.NullString
			if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.Notes, &b.Category,
				&tags, &b.ExtractedText, &b.QualityScore, &emb, &b.SavedAt); err != nil {
				rows.Close()
				return err
			}
			b.Tags = unmarshalStrings(tags)
			b.Embedding = unmarshalEmbedding(emb)
			claimed = append(claimed, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, b := range claimed {
			if _, err := tx.ExecContext(ctx,
				`UPDATE saved_content SET analysis_claimed_at = ? WHERE id = ?`, now, b.ID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReleaseAnalysisClaim returns a claimed bookmark to the unanalyzed pool.
// With failed=true a failure timestamp starts the cooldown.
func (s *Store) ReleaseAnalysisClaim(ctx context.Context, contentID int64, failed bool) error {
	return s.withRetry(ctx, "release analysis claim", func() error {
		var failedAt any
		if failed {
			failedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE saved_content SET analysis_claimed_at = NULL, analysis_failed_at = ? WHERE id = ?`,
			failedAt, contentID)
		return err
	})
}

// CountUnanalyzed reports how many bookmarks still lack an analysis row,
// ignoring claim and cooldown state.
func (s *Store) CountUnanalyzed(ctx context.Context) (int, error) {
	var n int
	err := s.withRetry(ctx, "count unanalyzed", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM saved_content sc
			 LEFT JOIN content_analysis ca ON ca.content_id = sc.id
			 WHERE ca.id IS NULL`)
		return row.Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetOrderedContentForUser returns the user's bookmarks joined with their
// analyses, ordered by quality_score DESC, saved_at DESC, capped at
// maxItems (default 100). This is the engines' candidate feed.
func (s *Store) GetOrderedContentForUser(ctx context.Context, userID int64, maxItems int) ([]core.Candidate, error) {
	if maxItems <= 0 {
		maxItems = 100
	}
	var out []core.Candidate
	err := s.withRetry(ctx, "get ordered content", func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT sc.id, sc.user_id, sc.url, sc.title, sc.notes, sc.category, sc.tags,
			        sc.extracted_text, sc.quality_score, sc.embedding, sc.saved_at,
			        ca.id, ca.content_id, ca.key_concepts, ca.content_type, ca.difficulty_level,
			        ca.technology_tags, ca.relevance_score, ca.created_at, ca.updated_at
			 FROM saved_content sc
			 LEFT JOIN content_analysis ca ON ca.content_id = sc.id
			 WHERE sc.user_id = ?
			 ORDER BY sc.quality_score DESC, sc.saved_at DESC
			 LIMIT ?`, userID, maxItems)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var b core.Bookmark
			var tags string
			var emb sql.NullString
			var aID, aContentID sql.NullInt64
			var aKeyConcepts, aContentType, aDifficulty, aTechTags sql.NullString
			var aRelevance sql.NullFloat64
			var aCreated, aUpdated sql.NullTime
			if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.Notes, &b.Category,
				&tags, &b.ExtractedText, &b.QualityScore, &emb, &b.SavedAt,
				&aID, &aContentID, &aKeyConcepts, &aContentType, &aDifficulty,
				&aTechTags, &aRelevance, &aCreated, &aUpdated); err != nil {
				return err
			}
			b.Tags = unmarshalStrings(tags)
			b.Embedding = unmarshalEmbedding(emb)
			cand := core.Candidate{Bookmark: b}
			if aID.Valid {
				cand.Analysis = &core.ContentAnalysis{
					ID:             aID.Int64,
					ContentID:      aContentID.Int64,
					KeyConcepts:    unmarshalStrings(aKeyConcepts.String),
					ContentType:    aContentType.String,
					Difficulty:     aDifficulty.String,
					Technologies:   unmarshalStrings(aTechTags.String),
					RelevanceScore: aRelevance.Float64,
					CreatedAt:      aCreated.Time,
					UpdatedAt:      aUpdated.Time,
				}
			}
			out = append(out, cand)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
