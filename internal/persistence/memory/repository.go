// Package memory keeps gamification state in process for local runs and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"example.com/gamification/internal/domain"
)

// Repository is an in-memory implementation of domain.Repository.
type Repository struct {
	mu           sync.RWMutex
	activities   map[string][]domain.ActivityEvent
	ledgers      map[string]domain.StreakLedger
	achievements map[int64]domain.Achievement
	unlocks      map[string][]domain.UnlockRecord
	nextAchID    int64
	nextUnlockID int64
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:   make(map[string][]domain.ActivityEvent),
		ledgers:      make(map[string]domain.StreakLedger),
		achievements: make(map[int64]domain.Achievement),
		unlocks:      make(map[string][]domain.UnlockRecord),
	}
}

// AppendActivity implements domain.ActivityLog.
func (r *Repository) AppendActivity(_ context.Context, event domain.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[event.UserID] = append(r.activities[event.UserID], event)
	return nil
}

// ListActivities implements domain.ActivityLog.
func (r *Repository) ListActivities(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityEvent, *domain.Cursor, error) {
	r.mu.RLock()
	events := slices.Clone(r.activities[userID])
	r.mu.RUnlock()

	slices.SortFunc(events, func(a, b domain.ActivityEvent) int {
		return -compareActivity(a, b)
	})

	out := make([]domain.ActivityEvent, 0, limit)
	for _, event := range events {
		if cursor != nil && compareActivity(event, cursorEvent(*cursor)) >= 0 {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(out) == limit {
		last := out[len(out)-1]
		next = &domain.Cursor{ActivityDate: last.ActivityDate, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

func cursorEvent(c domain.Cursor) domain.ActivityEvent {
	return domain.ActivityEvent{ID: c.ID, ActivityDate: c.ActivityDate, CreatedAt: c.CreatedAt}
}

func compareActivity(a, b domain.ActivityEvent) int {
	return cmp.Or(
		a.ActivityDate.Time().Compare(b.ActivityDate.Time()),
		a.CreatedAt.Compare(b.CreatedAt),
		strings.Compare(a.ID, b.ID),
	)
}

// CountActivities implements domain.ActivityLog.
func (r *Repository) CountActivities(_ context.Context, userID string) (domain.ActivityCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(domain.ActivityCounts)
	for _, event := range r.activities[userID] {
		counts[event.ActivityType]++
	}
	return counts, nil
}

// GetLedger implements domain.LedgerStore.
func (r *Repository) GetLedger(_ context.Context, userID string) (*domain.StreakLedger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ledger, ok := r.ledgers[userID]
	if !ok {
		return nil, nil
	}
	return &ledger, nil
}

// UpdateLedger implements domain.LedgerStore. The write lock is held across apply.
func (r *Repository) UpdateLedger(_ context.Context, userID string, apply func(domain.StreakLedger) (domain.StreakLedger, bool)) (domain.StreakLedger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.ledgers[userID]
	if !ok {
		current = domain.StreakLedger{UserID: userID}
	}
	next, changed := apply(current)
	if !changed {
		return current, nil
	}
	r.ledgers[userID] = next
	return next, nil
}

// Leaderboard implements domain.LedgerStore.
func (r *Repository) Leaderboard(_ context.Context, metric domain.LeaderboardMetric, limit int) ([]domain.StreakLedger, error) {
	r.mu.RLock()
	entries := make([]domain.StreakLedger, 0, len(r.ledgers))
	for _, ledger := range r.ledgers {
		entries = append(entries, ledger)
	}
	r.mu.RUnlock()

	value := func(l domain.StreakLedger) int {
		if metric == domain.MetricLongest {
			return l.LongestStreak
		}
		return l.CurrentStreak
	}
	slices.SortFunc(entries, func(a, b domain.StreakLedger) int {
		return cmp.Or(cmp.Compare(value(b), value(a)), strings.Compare(a.UserID, b.UserID))
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ListAchievements implements domain.AchievementCatalog.
func (r *Repository) ListAchievements(_ context.Context) ([]domain.Achievement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Achievement, 0, len(r.achievements))
	for _, a := range r.achievements {
		out = append(out, a)
	}
	domain.SortAchievements(out)
	return out, nil
}

// UpsertAchievements inserts entries by name, updating existing ones in place.
// It returns the number of newly inserted entries.
func (r *Repository) UpsertAchievements(_ context.Context, entries []domain.Achievement) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]int64, len(r.achievements))
	for id, a := range r.achievements {
		byName[a.Name] = id
	}

	inserted := 0
	for _, entry := range entries {
		if id, ok := byName[entry.Name]; ok {
			entry.ID = id
			entry.CreatedAt = r.achievements[id].CreatedAt
			r.achievements[id] = entry
			continue
		}
		r.nextAchID++
		entry.ID = r.nextAchID
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		r.achievements[entry.ID] = entry
		byName[entry.Name] = entry.ID
		inserted++
	}
	return inserted, nil
}

// UnlockedAchievementIDs implements domain.UnlockStore.
func (r *Repository) UnlockedAchievementIDs(_ context.Context, userID string) (map[int64]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make(map[int64]struct{}, len(r.unlocks[userID]))
	for _, rec := range r.unlocks[userID] {
		ids[rec.AchievementID] = struct{}{}
	}
	return ids, nil
}

// Unlock implements domain.UnlockStore.
func (r *Repository) Unlock(_ context.Context, userID string, achievement domain.Achievement, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.unlocks[userID] {
		if rec.AchievementID == achievement.ID {
			return false, nil
		}
	}
	r.nextUnlockID++
	r.unlocks[userID] = append(r.unlocks[userID], domain.UnlockRecord{
		ID:            r.nextUnlockID,
		UserID:        userID,
		AchievementID: achievement.ID,
		UnlockedAt:    at,
	})
	return true, nil
}

// ListUnlocked implements domain.UnlockStore.
func (r *Repository) ListUnlocked(_ context.Context, userID string) ([]domain.UnlockRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.UnlockRecord, 0, len(r.unlocks[userID]))
	for _, rec := range r.unlocks[userID] {
		a, ok := r.achievements[rec.AchievementID]
		if !ok {
			continue
		}
		rec.Achievement = &a
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b domain.UnlockRecord) int {
		return cmp.Or(b.UnlockedAt.Compare(a.UnlockedAt), cmp.Compare(b.ID, a.ID))
	})
	return out, nil
}
