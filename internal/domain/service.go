// Package domain defines streak and achievement rules and the service that applies them.
package domain

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"example.com/gamification/internal/locking"
	"example.com/gamification/internal/observability"
	"example.com/gamification/internal/telemetry/tracing"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 50
	DefaultActivityLimit    = 50
	MaxActivityLimit        = 100
)

// ActivityLog is the append-only store of activity events.
type ActivityLog interface {
	AppendActivity(ctx context.Context, event ActivityEvent) error
	ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityEvent, *Cursor, error)
	CountActivities(ctx context.Context, userID string) (ActivityCounts, error)
}

// LedgerStore persists streak ledgers.
type LedgerStore interface {
	GetLedger(ctx context.Context, userID string) (*StreakLedger, error)
	// UpdateLedger runs apply against the current ledger (zero-valued when absent) and persists
	// the result when apply reports a change. The read and write form one atomic unit.
	UpdateLedger(ctx context.Context, userID string, apply func(StreakLedger) (StreakLedger, bool)) (StreakLedger, error)
	Leaderboard(ctx context.Context, metric LeaderboardMetric, limit int) ([]StreakLedger, error)
}

// AchievementCatalog reads catalog entries.
type AchievementCatalog interface {
	ListAchievements(ctx context.Context) ([]Achievement, error)
}

// UnlockStore records unlocked achievements.
type UnlockStore interface {
	UnlockedAchievementIDs(ctx context.Context, userID string) (map[int64]struct{}, error)
	// Unlock inserts the record unless one already exists and reports whether it inserted.
	Unlock(ctx context.Context, userID string, achievement Achievement, at time.Time) (bool, error)
	ListUnlocked(ctx context.Context, userID string) ([]UnlockRecord, error)
}

// Repository bundles the stores the service depends on.
type Repository interface {
	ActivityLog
	LedgerStore
	AchievementCatalog
	UnlockStore
}

// Locker serializes work per key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithCatalog reads achievements through catalog instead of the repository.
func WithCatalog(catalog AchievementCatalog) Option {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// WithLocker overrides the per-user locker.
func WithLocker(locker Locker) Option {
	return func(s *Service) {
		s.locker = locker
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLogger overrides the logger used for data-quality warnings.
func WithLogger(logger log.FieldLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates streak and achievement workflows.
type Service struct {
	repo    Repository
	catalog AchievementCatalog
	locker  Locker
	now     func() time.Time
	logger  log.FieldLogger
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		catalog: repo,
		locker:  locking.NewLocalLocker(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogActivityInput captures an activity submission.
type LogActivityInput struct {
	UserID       string
	ActivityType string
	ActivityDate string
	Metadata     json.RawMessage
}

// LogActivity validates and appends an event to the activity log.
func (s *Service) LogActivity(ctx context.Context, input LogActivityInput) (event ActivityEvent, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "streakService.logActivity")
	defer func() { tracing.EndSpan(span, err) }()

	userID, err := validateUserID(input.UserID)
	if err != nil {
		return ActivityEvent{}, err
	}
	activityType := ActivityType(strings.TrimSpace(input.ActivityType))
	if !activityType.Valid() {
		return ActivityEvent{}, invalid("activityType", CodeInvalidActivityType, "activityType must be one of: %s", joinActivityTypes())
	}
	day, err := validateDate(input.ActivityDate)
	if err != nil {
		return ActivityEvent{}, err
	}
	var metadata json.RawMessage
	if len(input.Metadata) > 0 && string(input.Metadata) != "null" {
		if !json.Valid(input.Metadata) {
			return ActivityEvent{}, invalid("metadata", CodeInvalidMetadata, "metadata must be valid JSON")
		}
		metadata = input.Metadata
	}

	event = ActivityEvent{
		ID:           uuid.NewString(),
		UserID:       userID,
		ActivityType: activityType,
		ActivityDate: day,
		Metadata:     metadata,
		CreatedAt:    s.now(),
	}
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("activity_type", string(activityType)))

	if err := s.repo.AppendActivity(ctx, event); err != nil {
		return ActivityEvent{}, persistenceErr("append activity", err)
	}
	observability.RecordActivityLogged(event.CreatedAt)
	return event, nil
}

// RecordActivity advances the user's streak ledger with one activity day.
func (s *Service) RecordActivity(ctx context.Context, userID, activityDate string) (update StreakUpdate, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "streakService.recordActivity")
	defer func() { tracing.EndSpan(span, err) }()

	userID, err = validateUserID(userID)
	if err != nil {
		return StreakUpdate{}, err
	}
	day, err := validateDate(activityDate)
	if err != nil {
		return StreakUpdate{}, err
	}

	outcome := StreakUnchanged
	ledger, err := s.repo.UpdateLedger(ctx, userID, func(current StreakLedger) (StreakLedger, bool) {
		next, result := AdvanceStreak(current, day)
		outcome = result
		if result == StreakUnchanged {
			return current, false
		}
		now := s.now()
		next.UserID = userID
		if result == StreakCreated || next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		return next, true
	})
	if err != nil {
		return StreakUpdate{}, persistenceErr("update ledger", err)
	}

	observability.RecordStreakUpdate(string(outcome))
	span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.Int("current_streak", ledger.CurrentStreak))
	return StreakUpdate{Ledger: ledger, Outcome: outcome}, nil
}

// GetStreak returns the user's ledger, zero-valued when the user has no activity.
func (s *Service) GetStreak(ctx context.Context, userID string) (StreakLedger, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return StreakLedger{}, err
	}
	ledger, err := s.repo.GetLedger(ctx, userID)
	if err != nil {
		return StreakLedger{}, persistenceErr("get ledger", err)
	}
	if ledger == nil {
		return StreakLedger{UserID: userID}, nil
	}
	return *ledger, nil
}

// EvaluateAchievements unlocks every catalog entry the user newly satisfies.
// Unlock write failures leave the entry out of the result and are reported as a *PartialUnlockError
// alongside the achievements that were unlocked.
func (s *Service) EvaluateAchievements(ctx context.Context, userID string) (result EvaluationResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "streakService.evaluateAchievements")
	defer func() { tracing.EndSpan(span, err) }()

	userID, err = validateUserID(userID)
	if err != nil {
		return EvaluationResult{}, err
	}

	start := time.Now()
	defer func() { observability.ObserveEvaluation(time.Since(start)) }()

	catalog, err := s.catalog.ListAchievements(ctx)
	if err != nil {
		return EvaluationResult{}, persistenceErr("list achievements", err)
	}
	unlocked, err := s.repo.UnlockedAchievementIDs(ctx, userID)
	if err != nil {
		return EvaluationResult{}, persistenceErr("list unlocked achievements", err)
	}
	counters, err := s.counters(ctx, userID)
	if err != nil {
		return EvaluationResult{}, err
	}

	result.NewlyUnlocked = make([]Achievement, 0)
	failed := make(map[int64]error)
	for _, achievement := range catalog {
		if _, done := unlocked[achievement.ID]; done {
			continue
		}
		if !achievement.RequirementType.Known() {
			s.logger.WithFields(log.Fields{
				"achievement_id":   achievement.ID,
				"achievement_name": achievement.Name,
				"requirement_type": string(achievement.RequirementType),
			}).Warn("skipping achievement with unknown requirement type")
			observability.RecordInvalidRequirement(string(achievement.RequirementType))
			continue
		}
		if !achievement.RequirementType.Satisfied(counters, achievement.RequirementValue) {
			continue
		}

		inserted, unlockErr := s.repo.Unlock(ctx, userID, achievement, s.now())
		if unlockErr != nil {
			failed[achievement.ID] = unlockErr
			observability.RecordUnlockFailure()
			continue
		}
		if !inserted {
			continue
		}
		observability.RecordUnlock(achievement.Category)
		result.NewlyUnlocked = append(result.NewlyUnlocked, achievement)
	}
	result.Count = len(result.NewlyUnlocked)
	span.SetAttributes(attribute.Int("newly_unlocked", result.Count))

	if len(failed) > 0 {
		return result, newPartialUnlockError(userID, failed)
	}
	return result, nil
}

func (s *Service) counters(ctx context.Context, userID string) (Counters, error) {
	ledger, err := s.repo.GetLedger(ctx, userID)
	if err != nil {
		return Counters{}, persistenceErr("get ledger", err)
	}
	counts, err := s.repo.CountActivities(ctx, userID)
	if err != nil {
		return Counters{}, persistenceErr("count activities", err)
	}
	if counts == nil {
		counts = ActivityCounts{}
	}
	c := Counters{Activities: counts}
	if ledger != nil {
		c.CurrentStreak = ledger.CurrentStreak
		c.TotalActivities = ledger.TotalActivities
	}
	return c, nil
}

// ProgressResult combines the streak update and evaluation triggered by one activity.
type ProgressResult struct {
	Streak       StreakUpdate
	Achievements EvaluationResult
}

// ProcessActivity records the activity day and evaluates achievements while holding the user's lock.
func (s *Service) ProcessActivity(ctx context.Context, userID, activityDate string) (ProgressResult, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return ProgressResult{}, err
	}
	if _, err := validateDate(activityDate); err != nil {
		return ProgressResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, "user:"+userID)
	if err != nil {
		return ProgressResult{}, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	defer unlock()

	update, err := s.RecordActivity(ctx, userID, activityDate)
	if err != nil {
		return ProgressResult{}, err
	}
	evaluation, err := s.EvaluateAchievements(ctx, userID)
	return ProgressResult{Streak: update, Achievements: evaluation}, err
}

// ListAchievements returns the catalog ordered by category, then threshold.
func (s *Service) ListAchievements(ctx context.Context) ([]Achievement, error) {
	catalog, err := s.catalog.ListAchievements(ctx)
	if err != nil {
		return nil, persistenceErr("list achievements", err)
	}
	out := slices.Clone(catalog)
	SortAchievements(out)
	return out, nil
}

// ListUnlockedAchievements returns the user's unlocks, most recent first.
func (s *Service) ListUnlockedAchievements(ctx context.Context, userID string) ([]UnlockRecord, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListUnlocked(ctx, userID)
	if err != nil {
		return nil, persistenceErr("list unlocked achievements", err)
	}
	if records == nil {
		records = []UnlockRecord{}
	}
	return records, nil
}

// AchievementSummary reports points and completion for the user.
func (s *Service) AchievementSummary(ctx context.Context, userID string) (AchievementSummary, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return AchievementSummary{}, err
	}
	catalog, err := s.catalog.ListAchievements(ctx)
	if err != nil {
		return AchievementSummary{}, persistenceErr("list achievements", err)
	}
	records, err := s.repo.ListUnlocked(ctx, userID)
	if err != nil {
		return AchievementSummary{}, persistenceErr("list unlocked achievements", err)
	}
	return Summarize(userID, catalog, records), nil
}

// ListLeaderboard returns the top users by the chosen streak metric.
// A zero limit selects the default; larger limits are capped.
func (s *Service) ListLeaderboard(ctx context.Context, metric string, limit int) ([]StreakLedger, error) {
	parsed, err := ParseLeaderboardMetric(metric)
	if err != nil {
		return nil, err
	}
	limit, err = clampLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.Leaderboard(ctx, parsed, limit)
	if err != nil {
		return nil, persistenceErr("leaderboard", err)
	}
	if entries == nil {
		entries = []StreakLedger{}
	}
	return entries, nil
}

// ListActivities pages through the user's activity history, newest first.
func (s *Service) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityEvent, *Cursor, error) {
	userID, err := validateUserID(userID)
	if err != nil {
		return nil, nil, err
	}
	limit, err = clampLimit(limit, DefaultActivityLimit, MaxActivityLimit)
	if err != nil {
		return nil, nil, err
	}
	events, next, err := s.repo.ListActivities(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, persistenceErr("list activities", err)
	}
	if events == nil {
		events = []ActivityEvent{}
	}
	return events, next, nil
}

// SortAchievements orders entries by category, requirement value, then id.
func SortAchievements(entries []Achievement) {
	slices.SortStableFunc(entries, func(a, b Achievement) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.RequirementValue, b.RequirementValue),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// ParseLimit parses an optional query limit. Empty selects def; values below 1 or non-numeric are rejected.
func ParseLimit(raw string, def, maxLimit int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return 0, invalid("limit", CodeInvalidLimit, "limit must be a positive integer")
	}
	return min(parsed, maxLimit), nil
}

// IsValidation reports whether err is a *ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func clampLimit(limit, def, maxLimit int) (int, error) {
	switch {
	case limit == 0:
		return def, nil
	case limit < 0:
		return 0, invalid("limit", CodeInvalidLimit, "limit must be a positive integer")
	default:
		return min(limit, maxLimit), nil
	}
}

func validateUserID(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return "", invalid("userId", CodeMissingUserID, "userId is required")
	}
	return trimmed, nil
}

func validateDate(value string) (Date, error) {
	day, err := ParseDate(strings.TrimSpace(value))
	if err != nil {
		return Date{}, invalid("activityDate", CodeInvalidDateFormat, "%v", err)
	}
	return day, nil
}

func joinActivityTypes() string {
	names := make([]string, 0, len(ActivityTypes))
	for _, t := range ActivityTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
