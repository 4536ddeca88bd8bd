package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/events"
	"example.com/gamification/internal/persistence/memory"
)

type stubProgress struct {
	userID, date string
	result       domain.ProgressResult
	err          error
}

func (s *stubProgress) ProcessActivity(_ context.Context, userID, activityDate string) (domain.ProgressResult, error) {
	s.userID, s.date = userID, activityDate
	return s.result, s.err
}

func TestProgressHandlerAppliesActivity(t *testing.T) {
	repo := memory.NewRepository()
	svc := domain.NewService(repo)
	logger, _ := logtest.NewNullLogger()
	h := NewProgressHandler(svc, logger)

	for _, day := range []string{"2024-01-01", "2024-01-02"} {
		err := h.Handle(context.Background(), Message{
			EventType: events.TypeActivityLogged,
			Payload:   []byte(`{"activity_id":"a","user_id":"u1","activity_type":"workout_completed","activity_date":"` + day + `"}`),
		})
		require.NoError(t, err)
	}

	ledger, err := svc.GetStreak(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, ledger.CurrentStreak)
}

func TestProgressHandlerClassifiesFailures(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	cases := []struct {
		name   string
		stub   *stubProgress
		poison bool
	}{
		{name: "validation", stub: &stubProgress{err: domain.ErrValidation}, poison: true},
		{name: "persistence", stub: &stubProgress{err: &domain.PersistenceError{Op: "update ledger", Err: errors.New("timeout")}}},
		{name: "lock", stub: &stubProgress{err: domain.ErrLockUnavailable}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewProgressHandler(tc.stub, logger)
			err := h.Handle(context.Background(), Message{Payload: []byte(`{"user_id":"u1","activity_date":"2024-01-01"}`)})
			require.Error(t, err)
			assert.Equal(t, tc.poison, errors.Is(err, ErrPoisonMessage))
			assert.Equal(t, "u1", tc.stub.userID)
		})
	}

	h := NewProgressHandler(&stubProgress{}, logger)
	err := h.Handle(context.Background(), Message{Payload: []byte(`not json`)})
	assert.ErrorIs(t, err, ErrPoisonMessage)

	hook.Reset()
	partial := &domain.PartialUnlockError{UserID: "u1", AchievementIDs: []int64{3}, Err: errors.New("insert failed")}
	h = NewProgressHandler(&stubProgress{err: partial}, logger)
	require.NoError(t, h.Handle(context.Background(), Message{Payload: []byte(`{"user_id":"u1","activity_date":"2024-01-01"}`)}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRouterDispatchesByEventType(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	activity := &stubHandler{}
	router := NewRouter(logger).
		Route(events.TypeActivityLogged, activity).
		Route(events.TypeAchievementUnlocked, UnlockNotifier(logger))

	require.NoError(t, router.Handle(context.Background(), Message{EventType: events.TypeActivityLogged}))
	assert.Equal(t, 1, activity.calls)

	require.NoError(t, router.Handle(context.Background(), Message{
		EventType: events.TypeAchievementUnlocked,
		Payload:   []byte(`{"user_id":"u1","achievement_id":2,"name":"Consistency King","category":"streak","points":25}`),
	}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "achievement unlocked", hook.LastEntry().Message)
	assert.Equal(t, "Consistency King", hook.LastEntry().Data["name"])

	require.NoError(t, router.Handle(context.Background(), Message{EventType: "ledger.compacted"}))
	assert.Equal(t, 1, activity.calls)
}
