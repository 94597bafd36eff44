package apikeys

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"bookmind/internal/core"
	"bookmind/internal/logger"
	"bookmind/internal/store"
)

// Limits are the per-user fixed-window request budgets. Counters reset at
// window boundaries; there is no sliding window.
type Limits struct {
	PerMinute int
	PerDay    int
	PerMonth  int
}

// DefaultLimits mirror the free-tier Gemini quotas.
func DefaultLimits() Limits {
	return Limits{PerMinute: 15, PerDay: 1500, PerMonth: 45000}
}

// keyShape matches Google AI Studio keys. SetKey rejects anything else.
var keyShape = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{30,40}$`)

// Registry owns per-user encrypted API keys and rate-limit accounting.
// CheckAndReserve is linearizable per user: a per-user mutex serializes
// the read-check-increment against the store row.
type Registry struct {
	store  *store.Store
	cipher *keyCipher
	limits Limits

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewRegistry derives the encryption key from the process-wide secret.
func NewRegistry(st *store.Store, secretKey string, limits Limits) (*Registry, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required for API key encryption")
	}
	if limits.PerMinute <= 0 || limits.PerDay <= 0 || limits.PerMonth <= 0 {
		limits = DefaultLimits()
	}
	return &Registry{
		store:  st,
		cipher: newKeyCipher(secretKey),
		limits: limits,
		locks:  make(map[int64]*sync.Mutex),
	}, nil
}

// userLock returns the mutex serializing all row mutations for one user.
func (r *Registry) userLock(userID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[userID] = l
	}
	return l
}

// SetKey encrypts and stores the user's key. The plaintext is never
// persisted; a SHA-256 hash is kept for equality checks.
func (r *Registry) SetKey(ctx context.Context, userID int64, plaintextKey, name string) error {
	if !keyShape.MatchString(plaintextKey) {
		return core.InvalidInput("key does not look like a Gemini API key")
	}
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	ciphertext, err := r.cipher.encrypt([]byte(plaintextKey))
	if err != nil {
		return core.Internal("encrypt api key", err)
	}

	row, err := r.loadOrInitRow(ctx, userID)
	if err != nil {
		return err
	}
	row.Ciphertext = ciphertext
	row.KeyHash = hashKey(plaintextKey)
	row.KeyName = name
	if err := r.store.PutAPIKeyRow(ctx, row); err != nil {
		return err
	}
	logger.Info("api key stored", "user", userID, "name", name)
	return nil
}

// ClearKey removes the stored key. Usage counters are kept.
func (r *Registry) ClearKey(ctx context.Context, userID int64) error {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return r.store.ClearAPIKey(ctx, userID)
}

// HasKey reports whether the user has a stored key.
func (r *Registry) HasKey(ctx context.Context, userID int64) (bool, error) {
	row, err := r.store.GetAPIKeyRow(ctx, userID)
	if core.IsKind(err, core.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(row.Ciphertext) > 0, nil
}

// GetKey decrypts the user's key for dispatch. Never expose the result to
// a client surface.
func (r *Registry) GetKey(ctx context.Context, userID int64) (string, error) {
	row, err := r.store.GetAPIKeyRow(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(row.Ciphertext) == 0 {
		return "", core.NotFound("api key")
	}
	plaintext, err := r.cipher.decrypt(row.Ciphertext)
	if err != nil {
		return "", core.Internal("decrypt api key", err)
	}
	return string(plaintext), nil
}

// Reservation is the outcome of CheckAndReserve.
type Reservation struct {
	OK     bool
	Wait   time.Duration
	Reason string
}

// CheckAndReserve atomically consumes one request slot from every window,
// or reports how long to wait for the tightest exceeded one. Under the
// per-user lock the read-modify-write is linearizable: N concurrent calls
// against M remaining slots yield exactly M successes.
func (r *Registry) CheckAndReserve(ctx context.Context, userID int64) (*Reservation, error) {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := r.loadOrInitRow(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rollWindows(row, now)

	if row.RequestsThisMinute >= r.limits.PerMinute {
		wait := row.MinuteStartedAt.Add(time.Minute).Sub(now)
		return &Reservation{Wait: maxDuration(wait, time.Second), Reason: "per-minute limit reached"}, nil
	}
	if row.RequestsToday >= r.limits.PerDay {
		wait := row.DayStartedAt.Add(24 * time.Hour).Sub(now)
		return &Reservation{Wait: maxDuration(wait, time.Minute), Reason: "daily limit reached"}, nil
	}
	if row.RequestsThisMonth >= r.limits.PerMonth {
		wait := row.MonthStartedAt.AddDate(0, 1, 0).Sub(now)
		return &Reservation{Wait: maxDuration(wait, time.Hour), Reason: "monthly limit reached"}, nil
	}

	row.RequestsThisMinute++
	row.RequestsToday++
	row.RequestsThisMonth++
	if err := r.store.PutAPIKeyRow(ctx, row); err != nil {
		return nil, err
	}
	return &Reservation{OK: true}, nil
}

// GetUsage returns a counter snapshot with windows rolled to now.
func (r *Registry) GetUsage(ctx context.Context, userID int64) (*core.APIKeyUsage, error) {
	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	row, err := r.loadOrInitRow(ctx, userID)
	if err != nil {
		return nil, err
	}
	rollWindows(row, time.Now().UTC())
	return &core.APIKeyUsage{
		UserID:             userID,
		HasKey:             len(row.Ciphertext) > 0,
		KeyName:            row.KeyName,
		RequestsThisMinute: row.RequestsThisMinute,
		RequestsToday:      row.RequestsToday,
		RequestsThisMonth:  row.RequestsThisMonth,
		MinuteStartedAt:    row.MinuteStartedAt,
		DayStartedAt:       row.DayStartedAt,
		MonthStartedAt:     row.MonthStartedAt,
	}, nil
}

func (r *Registry) loadOrInitRow(ctx context.Context, userID int64) (*store.APIKeyRow, error) {
	row, err := r.store.GetAPIKeyRow(ctx, userID)
	if core.IsKind(err, core.KindNotFound) {
		now := time.Now().UTC()
		return &store.APIKeyRow{
			UserID:          userID,
			MinuteStartedAt: now,
			DayStartedAt:    startOfDay(now),
			MonthStartedAt:  startOfMonth(now),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// rollWindows resets any counter whose window boundary has passed.
func rollWindows(row *store.APIKeyRow, now time.Time) {
	if now.Sub(row.MinuteStartedAt) >= time.Minute {
		row.RequestsThisMinute = 0
		row.MinuteStartedAt = now
	}
	if startOfDay(now).After(row.DayStartedAt) {
		row.RequestsToday = 0
		row.DayStartedAt = startOfDay(now)
	}
	if startOfMonth(now).After(row.MonthStartedAt) {
		row.RequestsThisMonth = 0
		row.MonthStartedAt = startOfMonth(now)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
