package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigAttachesTracer(t *testing.T) {
	cfg, err := ParseConfig(NewPoolParams{URL: "postgres://u:p@localhost:5432/gamification", TracingEnabled: true})
	require.NoError(t, err)
	assert.NotNil(t, cfg.ConnConfig.Tracer)
	assert.Equal(t, "gamification", cfg.ConnConfig.Database)

	cfg, err = ParseConfig(NewPoolParams{URL: "postgres://u:p@localhost:5432/gamification"})
	require.NoError(t, err)
	assert.Nil(t, cfg.ConnConfig.Tracer)
}

func TestParseConfigRejectsBadURL(t *testing.T) {
	_, err := ParseConfig(NewPoolParams{URL: "postgres://u:p@localhost:notaport/db"})
	require.ErrorContains(t, err, "parse db config")
}
