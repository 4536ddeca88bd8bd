package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/gamification/internal/domain"
	"example.com/gamification/internal/persistence/memory"
)

func useMemoryBackend(t *testing.T) {
	t.Helper()
	repo := memory.NewRepository()
	b := &backend{store: repo, service: domain.NewService(repo)}
	previous := openBackend
	openBackend = func(context.Context) (*backend, func(), error) {
		return b, func() {}, nil
	}
	t.Cleanup(func() { openBackend = previous })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootHelp(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "leaderboard")
}

func TestSeedIsIdempotent(t *testing.T) {
	useMemoryBackend(t)

	out, err := run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, "Seeded 8 new achievements (8 in catalog)\n", out)

	out, err = run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, "Seeded 0 new achievements (8 in catalog)\n", out)
}

func TestRecordStreakAndAchievements(t *testing.T) {
	useMemoryBackend(t)
	_, err := run(t, "seed")
	require.NoError(t, err)

	out, err := run(t, "record", "u1", "2024-01-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Streak created: current 1, longest 1")
	assert.Contains(t, out, "Unlocked: First Step (+10)")

	out, err = run(t, "record", "--no-evaluate", "u1", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "Streak consecutive: current 2, longest 2\n", out)
	recordSkipEvaluate = false

	out, err = run(t, "streak", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Current: 2")
	assert.Contains(t, out, "Last activity: 2024-01-02")
	assert.Contains(t, out, "Keep it going!")

	out, err = run(t, "achievements", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Points: 10")
	assert.Contains(t, out, "Unlocked: 1/8 (13%)")
	assert.Contains(t, out, "First Step")
}

func TestRecordRejectsBadDate(t *testing.T) {
	useMemoryBackend(t)
	_, err := run(t, "record", "u1", "2024/01/01")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLeaderboard(t *testing.T) {
	useMemoryBackend(t)
	for _, args := range [][]string{
		{"record", "bob", "2024-01-01"},
		{"record", "bob", "2024-01-02"},
		{"record", "amy", "2024-01-01"},
	} {
		_, err := run(t, args...)
		require.NoError(t, err)
	}

	out, err := run(t, "leaderboard", "--type", "longest", "--limit", "5")
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[1]), "bob")
	assert.Contains(t, string(lines[2]), "amy")

	_, err = run(t, "leaderboard", "--type", "weekly")
	require.ErrorIs(t, err, domain.ErrValidation)
	leaderboardType = "current"
}
