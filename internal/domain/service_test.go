package domain_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/observability"
	"example.com/gamification/internal/persistence/memory"
)

var fixedNow = time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, entries ...domain.Achievement) (*domain.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	if len(entries) > 0 {
		_, err := repo.UpsertAchievements(context.Background(), entries)
		require.NoError(t, err)
	}
	svc := domain.NewService(repo, domain.WithClock(func() time.Time { return fixedNow }))
	return svc, repo
}

func TestRecordActivityScenario(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, domain.Achievement{
		Name:             "Two Days",
		Category:         domain.CategoryStreak,
		RequirementType:  domain.RequirementStreakDays,
		RequirementValue: 2,
		Points:           25,
	})

	update, err := svc.RecordActivity(ctx, "u1", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, domain.StreakCreated, update.Outcome)
	assertLedger(t, update.Ledger, 1, 1, "2024-01-01", 1)

	update, err = svc.RecordActivity(ctx, "u1", "2024-01-02")
	require.NoError(t, err)
	assertLedger(t, update.Ledger, 2, 2, "2024-01-02", 2)

	result, err := svc.EvaluateAchievements(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "Two Days", result.NewlyUnlocked[0].Name)

	update, err = svc.RecordActivity(ctx, "u1", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, domain.StreakUnchanged, update.Outcome)
	assertLedger(t, update.Ledger, 2, 2, "2024-01-02", 2)

	update, err = svc.RecordActivity(ctx, "u1", "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, domain.StreakReset, update.Outcome)
	assertLedger(t, update.Ledger, 1, 2, "2024-01-10", 3)

	result, err = svc.EvaluateAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, result.Count)
	assert.Empty(t, result.NewlyUnlocked)
}

func TestRecordActivityValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	_, err := svc.RecordActivity(ctx, "  ", "2024-01-01")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.CodeMissingUserID, ve.Code)

	_, err = svc.RecordActivity(ctx, "u1", "01/02/2024")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.CodeInvalidDateFormat, ve.Code)

	ledger, err := repo.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, ledger)
}

func TestRecordActivityCountsOutcome(t *testing.T) {
	svc, _ := newService(t)
	before := testutil.ToFloat64(observability.StreakUpdates(string(domain.StreakUnchanged)))

	_, err := svc.RecordActivity(context.Background(), "metrics-user", "2024-03-01")
	require.NoError(t, err)
	_, err = svc.RecordActivity(context.Background(), "metrics-user", "2024-03-01")
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(observability.StreakUpdates(string(domain.StreakUnchanged))))
}

func TestGetStreakReturnsZeroLedgerForUnknownUser(t *testing.T) {
	svc, _ := newService(t)

	ledger, err := svc.GetStreak(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", ledger.UserID)
	assert.Zero(t, ledger.CurrentStreak)
	assert.Zero(t, ledger.LongestStreak)
	assert.Zero(t, ledger.TotalActivities)
	assert.Nil(t, ledger.LastActivityDate)
}

func TestLogActivityValidation(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t)

	cases := []struct {
		name  string
		input domain.LogActivityInput
		code  string
	}{
		{"missing user", domain.LogActivityInput{ActivityType: "goal_set", ActivityDate: "2024-01-01"}, domain.CodeMissingUserID},
		{"bad type", domain.LogActivityInput{UserID: "u1", ActivityType: "nap_taken", ActivityDate: "2024-01-01"}, domain.CodeInvalidActivityType},
		{"bad date", domain.LogActivityInput{UserID: "u1", ActivityType: "goal_set", ActivityDate: "2024-1-1"}, domain.CodeInvalidDateFormat},
		{"bad metadata", domain.LogActivityInput{UserID: "u1", ActivityType: "goal_set", ActivityDate: "2024-01-01", Metadata: json.RawMessage(`{"a":`)}, domain.CodeInvalidMetadata},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.LogActivity(ctx, tc.input)
			ve, ok := domain.IsValidation(err)
			require.True(t, ok, "expected validation error, got %v", err)
			assert.Equal(t, tc.code, ve.Code)
		})
	}

	counts, err := repo.CountActivities(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestLogActivityAppendsEvent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	event, err := svc.LogActivity(ctx, domain.LogActivityInput{
		UserID:       " u1 ",
		ActivityType: "workout_completed",
		ActivityDate: "2024-01-01",
		Metadata:     json.RawMessage(`{"minutes":30}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, fixedNow, event.CreatedAt)

	events, next, err := svc.ListActivities(ctx, "u1", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"minutes":30}`, string(events[0].Metadata))
}

func TestEvaluateAchievementsUsesActivityCounters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t,
		domain.Achievement{Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 10},
		domain.Achievement{Name: "Progress Tracker", Category: domain.CategoryProgress, RequirementType: domain.RequirementProgressLogged, RequirementValue: 2, Points: 30},
		domain.Achievement{Name: "Goal Setter", Category: domain.CategoryGoal, RequirementType: domain.RequirementGoalSet, RequirementValue: 1, Points: 15},
	)

	for _, date := range []string{"2024-01-01", "2024-01-02"} {
		_, err := svc.LogActivity(ctx, domain.LogActivityInput{UserID: "u1", ActivityType: "progress_logged", ActivityDate: date})
		require.NoError(t, err)
		_, err = svc.ProcessActivity(ctx, "u1", date)
		require.NoError(t, err)
	}

	records, err := svc.ListUnlockedAchievements(ctx, "u1")
	require.NoError(t, err)
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Achievement.Name)
	}
	assert.ElementsMatch(t, []string{"First Step", "Progress Tracker"}, names)

	again, err := svc.EvaluateAchievements(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, again.NewlyUnlocked)
}

func TestEvaluateAchievementsSkipsUnknownRequirement(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	_, err := repo.UpsertAchievements(ctx, []domain.Achievement{
		{Name: "Mystery", Category: "misc", RequirementType: "calories_burned", RequirementValue: 0, Points: 99},
		{Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 10},
	})
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	svc := domain.NewService(repo, domain.WithLogger(logger))
	before := testutil.ToFloat64(observability.InvalidRequirements("calories_burned"))

	_, err = svc.RecordActivity(ctx, "u1", "2024-01-01")
	require.NoError(t, err)
	result, err := svc.EvaluateAchievements(ctx, "u1")
	require.NoError(t, err)

	require.Equal(t, 1, result.Count)
	assert.Equal(t, "First Step", result.NewlyUnlocked[0].Name)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, before+1, testutil.ToFloat64(observability.InvalidRequirements("calories_burned")))
}

type flakyUnlockRepo struct {
	*memory.Repository
	failName string
}

func (r *flakyUnlockRepo) Unlock(ctx context.Context, userID string, a domain.Achievement, at time.Time) (bool, error) {
	if a.Name == r.failName {
		return false, errors.New("disk full")
	}
	return r.Repository.Unlock(ctx, userID, a, at)
}

func TestEvaluateAchievementsExcludesFailedWrites(t *testing.T) {
	ctx := context.Background()
	repo := &flakyUnlockRepo{Repository: memory.NewRepository(), failName: "Broken"}
	_, err := repo.UpsertAchievements(ctx, []domain.Achievement{
		{Name: "Broken", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 5},
		{Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 10},
	})
	require.NoError(t, err)
	svc := domain.NewService(repo)

	_, err = svc.RecordActivity(ctx, "u1", "2024-01-01")
	require.NoError(t, err)

	result, err := svc.EvaluateAchievements(ctx, "u1")
	var partial *domain.PartialUnlockError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []int64{1}, partial.AchievementIDs)
	assert.Contains(t, err.Error(), "disk full")

	require.Equal(t, 1, result.Count)
	assert.Equal(t, "First Step", result.NewlyUnlocked[0].Name)

	ids, err := repo.UnlockedAchievementIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestListAchievementsOrdering(t *testing.T) {
	svc, _ := newService(t,
		domain.Achievement{Name: "Week Warrior", Category: domain.CategoryStreak, RequirementType: domain.RequirementStreakDays, RequirementValue: 7},
		domain.Achievement{Name: "Progress Tracker", Category: domain.CategoryProgress, RequirementType: domain.RequirementProgressLogged, RequirementValue: 5},
		domain.Achievement{Name: "Consistency King", Category: domain.CategoryStreak, RequirementType: domain.RequirementStreakDays, RequirementValue: 3},
		domain.Achievement{Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1},
	)

	entries, err := svc.ListAchievements(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"First Step", "Progress Tracker", "Consistency King", "Week Warrior"}, names)
}

func TestListLeaderboard(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := svc.RecordActivity(ctx, "bob", date)
		require.NoError(t, err)
	}
	for _, date := range []string{"2024-01-02", "2024-01-03", "2024-01-04"} {
		_, err := svc.RecordActivity(ctx, "alice", date)
		require.NoError(t, err)
	}
	_, err := svc.RecordActivity(ctx, "carol", "2024-01-04")
	require.NoError(t, err)

	board, err := svc.ListLeaderboard(ctx, "current", 10)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "alice", board[0].UserID)
	assert.Equal(t, "bob", board[1].UserID)
	assert.Equal(t, "carol", board[2].UserID)

	board, err = svc.ListLeaderboard(ctx, "longest", 1)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, "alice", board[0].UserID)

	_, err = svc.ListLeaderboard(ctx, "current", -1)
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = svc.ListLeaderboard(ctx, "weekly", 10)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseLimit(t *testing.T) {
	limit, err := domain.ParseLimit("", 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)

	limit, err = domain.ParseLimit("500", 10, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	for _, raw := range []string{"0", "-2", "ten", "1.5"} {
		_, err := domain.ParseLimit(raw, 10, 50)
		require.ErrorIs(t, err, domain.ErrValidation, raw)
	}
}

func TestAchievementSummary(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t,
		domain.Achievement{Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 10},
		domain.Achievement{Name: "Consistency King", Category: domain.CategoryStreak, RequirementType: domain.RequirementStreakDays, RequirementValue: 3, Points: 25},
	)

	_, err := svc.ProcessActivity(ctx, "u1", "2024-01-01")
	require.NoError(t, err)

	summary, err := svc.AchievementSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, summary.TotalPoints)
	assert.Equal(t, 1, summary.UnlockedCount)
	assert.Equal(t, 2, summary.TotalCount)
	assert.Equal(t, 50, summary.CompletionPercent)
}

func TestProcessActivitySerializesPerUser(t *testing.T) {
	ctx := context.Background()
	svc, repo := newService(t, domain.Achievement{
		Name: "First Step", Category: domain.CategoryProgress, RequirementType: domain.RequirementActivitiesCount, RequirementValue: 1, Points: 10,
	})

	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		unlocked int
	)
	for i := 0; i < 4; i++ {
		for _, date := range dates {
			wg.Add(1)
			go func(date string) {
				defer wg.Done()
				res, err := svc.ProcessActivity(ctx, "racer", date)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				unlocked += res.Achievements.Count
				mu.Unlock()
			}(date)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, unlocked)
	ledger, err := repo.GetLedger(ctx, "racer")
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.GreaterOrEqual(t, ledger.LongestStreak, ledger.CurrentStreak)
	assert.LessOrEqual(t, ledger.TotalActivities, 4*len(dates))
}

func TestProcessActivityHonoursLocker(t *testing.T) {
	repo := memory.NewRepository()
	svc := domain.NewService(repo, domain.WithLocker(failingLocker{}))

	_, err := svc.ProcessActivity(context.Background(), "u1", "2024-01-01")
	require.ErrorIs(t, err, domain.ErrLockUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	ledger, err := repo.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, ledger)
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, context.DeadlineExceeded
}

func assertLedger(t *testing.T, l domain.StreakLedger, current, longest int, last string, total int) {
	t.Helper()
	assert.Equal(t, current, l.CurrentStreak)
	assert.Equal(t, longest, l.LongestStreak)
	require.NotNil(t, l.LastActivityDate)
	assert.Equal(t, last, l.LastActivityDate.String())
	assert.Equal(t, total, l.TotalActivities)
}
