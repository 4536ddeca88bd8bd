package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/events"
)

// Repository provides Postgres-backed persistence for ledgers, achievements and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ledgerColumns = `user_id, current_streak, longest_streak, last_activity_date, total_activities, created_at, updated_at`

const achievementColumns = `achievement_id, name, description, icon, category, requirement_type, requirement_value, points, created_at`

// AppendActivity stores the event and its activity.logged outbox row in one transaction.
func (r *Repository) AppendActivity(ctx context.Context, event domain.ActivityEvent) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertActivity = `INSERT INTO daily_activities (activity_id, user_id, activity_type, activity_date, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`

	if _, err = tx.Exec(ctx, insertActivity,
		event.ID,
		event.UserID,
		string(event.ActivityType),
		event.ActivityDate.Time(),
		nullIfEmpty(event.Metadata),
		event.CreatedAt,
	); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, outboxRecord{
		AggregateType: "activity",
		AggregateID:   event.ID,
		EventType:     events.TypeActivityLogged,
		UserID:        event.UserID,
		Payload: events.ActivityLogged{
			ActivityID:   event.ID,
			UserID:       event.UserID,
			ActivityType: string(event.ActivityType),
			ActivityDate: event.ActivityDate.String(),
			Metadata:     event.Metadata,
			OccurredAt:   event.CreatedAt,
		},
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListActivities returns a page of the user's history ordered newest first.
func (r *Repository) ListActivities(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityEvent, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT activity_id, user_id, activity_type, activity_date, metadata, created_at
        FROM daily_activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (activity_date, created_at, activity_id) < ($3, $4, $5)`
		args = append(args, cursor.ActivityDate.Time(), cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY activity_date DESC, created_at DESC, activity_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityEvent, 0, limit)
	for rows.Next() {
		var (
			event        domain.ActivityEvent
			activityType string
			activityDate time.Time
			metadata     []byte
		)
		if err := rows.Scan(&event.ID, &event.UserID, &activityType, &activityDate, &metadata, &event.CreatedAt); err != nil {
			return nil, nil, err
		}
		event.ActivityType = domain.ActivityType(activityType)
		event.ActivityDate = domain.DateOf(activityDate)
		if len(metadata) > 0 {
			event.Metadata = json.RawMessage(metadata)
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{ActivityDate: last.ActivityDate, CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// CountActivities returns per-type totals for the user.
func (r *Repository) CountActivities(ctx context.Context, userID string) (domain.ActivityCounts, error) {
	const query = `SELECT activity_type, COUNT(*) FROM daily_activities WHERE user_id=$1 GROUP BY activity_type`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(domain.ActivityCounts)
	for rows.Next() {
		var (
			activityType string
			count        int
		)
		if err := rows.Scan(&activityType, &count); err != nil {
			return nil, err
		}
		counts[domain.ActivityType(activityType)] = count
	}
	return counts, rows.Err()
}

// GetLedger returns the user's ledger or nil when none exists.
func (r *Repository) GetLedger(ctx context.Context, userID string) (*domain.StreakLedger, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM user_streaks WHERE user_id=$1`, userID)
	ledger, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

// UpdateLedger locks the user's row for the duration of apply. A placeholder row is inserted
// first so concurrent first activities serialize on the same lock.
func (r *Repository) UpdateLedger(ctx context.Context, userID string, apply func(domain.StreakLedger) (domain.StreakLedger, bool)) (ledger domain.StreakLedger, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.StreakLedger{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `INSERT INTO user_streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return domain.StreakLedger{}, err
	}

	current, err := scanLedger(tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM user_streaks WHERE user_id=$1 FOR UPDATE`, userID))
	if err != nil {
		return domain.StreakLedger{}, err
	}

	next, changed := apply(current)
	if !changed {
		if err = tx.Rollback(ctx); err != nil {
			return domain.StreakLedger{}, err
		}
		return current, nil
	}

	const update = `UPDATE user_streaks
        SET current_streak=$2, longest_streak=$3, last_activity_date=$4, total_activities=$5, created_at=$6, updated_at=$7
        WHERE user_id=$1`

	var lastActivity any
	if next.LastActivityDate != nil {
		lastActivity = next.LastActivityDate.Time()
	}
	if _, err = tx.Exec(ctx, update,
		userID,
		next.CurrentStreak,
		next.LongestStreak,
		lastActivity,
		next.TotalActivities,
		next.CreatedAt,
		next.UpdatedAt,
	); err != nil {
		return domain.StreakLedger{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.StreakLedger{}, err
	}
	return next, nil
}

// Leaderboard ranks users with at least one activity by the metric, ties broken by user id.
func (r *Repository) Leaderboard(ctx context.Context, metric domain.LeaderboardMetric, limit int) ([]domain.StreakLedger, error) {
	order := "current_streak"
	if metric == domain.MetricLongest {
		order = "longest_streak"
	}
	query := `SELECT ` + ledgerColumns + ` FROM user_streaks
        WHERE last_activity_date IS NOT NULL
        ORDER BY ` + order + ` DESC, user_id ASC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.StreakLedger, 0, limit)
	for rows.Next() {
		ledger, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ledger)
	}
	return results, rows.Err()
}

// ListAchievements returns the catalog ordered by category, then threshold.
func (r *Repository) ListAchievements(ctx context.Context) ([]domain.Achievement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+achievementColumns+` FROM achievements
        ORDER BY category, requirement_value, achievement_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Achievement, 0)
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// UpsertAchievements writes entries keyed by name and returns how many rows were new.
func (r *Repository) UpsertAchievements(ctx context.Context, entries []domain.Achievement) (inserted int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const upsert = `INSERT INTO achievements (name, description, icon, category, requirement_type, requirement_value, points)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (name) DO UPDATE SET
            description=EXCLUDED.description,
            icon=EXCLUDED.icon,
            category=EXCLUDED.category,
            requirement_type=EXCLUDED.requirement_type,
            requirement_value=EXCLUDED.requirement_value,
            points=EXCLUDED.points
        RETURNING (xmax = 0)`

	for _, e := range entries {
		var isNew bool
		if err = tx.QueryRow(ctx, upsert,
			e.Name,
			e.Description,
			e.Icon,
			e.Category,
			string(e.RequirementType),
			e.RequirementValue,
			e.Points,
		).Scan(&isNew); err != nil {
			return 0, fmt.Errorf("upsert achievement %q: %w", e.Name, err)
		}
		if isNew {
			inserted++
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return inserted, nil
}

// UnlockedAchievementIDs returns the set of achievements the user already holds.
func (r *Repository) UnlockedAchievementIDs(ctx context.Context, userID string) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT achievement_id FROM user_achievements WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Unlock records the achievement once per user. The achievement.unlocked outbox row is written
// only when the unlock row is new.
func (r *Repository) Unlock(ctx context.Context, userID string, achievement domain.Achievement, at time.Time) (inserted bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertUnlock = `INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (user_id, achievement_id) DO NOTHING
        RETURNING unlock_id`

	var unlockID int64
	if err = tx.QueryRow(ctx, insertUnlock, userID, achievement.ID, at).Scan(&unlockID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, tx.Commit(ctx)
		}
		return false, err
	}

	if err = insertOutbox(ctx, tx, outboxRecord{
		AggregateType: "achievement",
		AggregateID:   fmt.Sprintf("%d", unlockID),
		EventType:     events.TypeAchievementUnlocked,
		UserID:        userID,
		Payload: events.AchievementUnlocked{
			UserID:        userID,
			AchievementID: achievement.ID,
			Name:          achievement.Name,
			Category:      achievement.Category,
			Points:        achievement.Points,
			UnlockedAt:    at,
		},
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListUnlocked returns the user's unlocks joined with their catalog entries, most recent first.
func (r *Repository) ListUnlocked(ctx context.Context, userID string) ([]domain.UnlockRecord, error) {
	const query = `SELECT ua.unlock_id, ua.user_id, ua.unlocked_at,
            a.achievement_id, a.name, a.description, a.icon, a.category, a.requirement_type, a.requirement_value, a.points, a.created_at
        FROM user_achievements ua
        JOIN achievements a ON a.achievement_id = ua.achievement_id
        WHERE ua.user_id=$1
        ORDER BY ua.unlocked_at DESC, ua.unlock_id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.UnlockRecord, 0)
	for rows.Next() {
		var (
			rec             domain.UnlockRecord
			a               domain.Achievement
			requirementType string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.UnlockedAt,
			&a.ID, &a.Name, &a.Description, &a.Icon, &a.Category, &requirementType, &a.RequirementValue, &a.Points, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.RequirementType = domain.RequirementType(requirementType)
		rec.AchievementID = a.ID
		rec.Achievement = &a
		results = append(results, rec)
	}
	return results, rows.Err()
}

func scanLedger(row pgx.Row) (domain.StreakLedger, error) {
	var (
		ledger       domain.StreakLedger
		lastActivity *time.Time
	)
	if err := row.Scan(
		&ledger.UserID,
		&ledger.CurrentStreak,
		&ledger.LongestStreak,
		&lastActivity,
		&ledger.TotalActivities,
		&ledger.CreatedAt,
		&ledger.UpdatedAt,
	); err != nil {
		return domain.StreakLedger{}, err
	}
	if lastActivity != nil {
		day := domain.DateOf(*lastActivity)
		ledger.LastActivityDate = &day
	}
	return ledger, nil
}

func scanAchievement(row pgx.Row) (domain.Achievement, error) {
	var (
		a               domain.Achievement
		requirementType string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Icon, &a.Category, &requirementType, &a.RequirementValue, &a.Points, &a.CreatedAt); err != nil {
		return domain.Achievement{}, err
	}
	a.RequirementType = domain.RequirementType(requirementType)
	return a, nil
}

func nullIfEmpty(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
