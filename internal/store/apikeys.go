package store

import (
	"context"
	"database/sql"
	"time"

	"bookmind/internal/core"
)

// APIKeyRow is the persisted per-user API key state: ciphertext plus the
// fixed-window counters. The registry layer owns all interpretation.
type APIKeyRow struct {
	UserID             int64
	Ciphertext         []byte
	KeyHash            string
	KeyName            string
	RequestsThisMinute int
	RequestsToday      int
	RequestsThisMonth  int
	MinuteStartedAt    time.Time
	DayStartedAt       time.Time
	MonthStartedAt     time.Time
}

// GetAPIKeyRow loads the row for a user, or NotFound when none exists.
func (s *Store) GetAPIKeyRow(ctx context.Context, userID int64) (*APIKeyRow, error) {
	var r APIKeyRow
	var cipher []byte
	err := s.withRetry(ctx, "get api key", func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT user_id, key_ciphertext, key_hash, key_name,
			        requests_this_minute, requests_today, requests_this_month,
			        minute_started_at, day_started_at, month_started_at
			 FROM user_api_keys WHERE user_id = ?`, userID)
		return row.Scan(&r.UserID, &cipher, &r.KeyHash, &r.KeyName,
			&r.RequestsThisMinute, &r.RequestsToday, &r.RequestsThisMonth,
			&r.MinuteStartedAt, &r.DayStartedAt, &r.MonthStartedAt)
	})
	if err == sql.ErrNoRows {
		return nil, core.NotFound("api key")
	}
	if err != nil {
		return nil, err
	}
	r.Ciphertext = cipher
	return &r, nil
}

// PutAPIKeyRow writes the full row, inserting or replacing. Used both for
// key changes and counter updates; the registry serializes callers per
// user so this never races with itself.
func (s *Store) PutAPIKeyRow(ctx context.Context, r *APIKeyRow) error {
	now := time.Now().UTC()
	return s.withRetry(ctx, "put api key", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO user_api_keys
			 (user_id, key_ciphertext, key_hash, key_name,
			  requests_this_minute, requests_today, requests_this_month,
			  minute_started_at, day_started_at, month_started_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id) DO UPDATE SET
			   key_ciphertext = excluded.key_ciphertext,
			   key_hash = excluded.key_hash,
			   key_name = excluded.key_name,
			   requests_this_minute = excluded.requests_this_minute,
			   requests_today = excluded.requests_today,
			   requests_this_month = excluded.requests_this_month,
			   minute_started_at = excluded.minute_started_at,
			   day_started_at = excluded.day_started_at,
			   month_started_at = excluded.month_started_at,
			   updated_at = excluded.updated_at`,
			r.UserID, r.Ciphertext, r.KeyHash, r.KeyName,
			r.RequestsThisMinute, r.RequestsToday, r.RequestsThisMonth,
			r.MinuteStartedAt, r.DayStartedAt, r.MonthStartedAt, now)
		return err
	})
}

// ClearAPIKey removes the stored key but keeps the counters: clearing a
// key does not reset a user's spend windows.
func (s *Store) ClearAPIKey(ctx context.Context, userID int64) error {
	return s.withRetry(ctx, "clear api key", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE user_api_keys SET key_ciphertext = NULL, key_hash = '', key_name = '' WHERE user_id = ?`,
			userID)
		return err
	})
}
