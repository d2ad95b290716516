package localscore_test

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/localscore"
)

func TestCache_SaveReadAll(t *testing.T) {
	ctx := context.Background()
	c := makeCache(t)

	require.NoError(t, c.Save(ctx, "u1", domain.DifficultyBasic, 42))

	assert.Equal(t, map[domain.Difficulty]int{
		domain.DifficultyBasic:        42,
		domain.DifficultyIntermediate: 0,
		domain.DifficultyAdvanced:     0,
	}, c.ReadAll(ctx, "u1"))

	assert.Equal(t, map[domain.Difficulty]int{
		domain.DifficultyBasic:        0,
		domain.DifficultyIntermediate: 0,
		domain.DifficultyAdvanced:     0,
	}, c.ReadAll(ctx, "u2"), "scores should be kept per user")
}

func TestCache_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := makeCache(t)

	require.NoError(t, c.Save(ctx, "u1", domain.DifficultyAdvanced, 80))
	require.NoError(t, c.Save(ctx, "u1", domain.DifficultyAdvanced, 20))

	assert.Equal(t, 20, c.Read(ctx, "u1", domain.DifficultyAdvanced), "a lower score should still overwrite")
}

func TestCache_Key(t *testing.T) {
	assert.Equal(t, "score_u1_intermediate", localscore.Key("u1", domain.DifficultyIntermediate))
}

func TestCache_Failures(t *testing.T) {
	ctx := context.Background()

	s := &brokenStore{values: map[string]string{localscore.Key("u1", domain.DifficultyBasic): "not-a-number"}}
	c := localscore.New(localscore.Config{Store: s})

	assert.Equal(t, 0, c.Read(ctx, "u1", domain.DifficultyBasic), "malformed values should read as 0")

	s.err = stderrors.New("disk full")
	require.ErrorIs(t, c.Save(ctx, "u1", domain.DifficultyBasic, 10), s.err)
	assert.Equal(t, 0, c.Read(ctx, "u1", domain.DifficultyBasic), "read errors should read as 0")
}

func makeCache(t *testing.T) *localscore.Cache {
	t.Helper()

	s, err := localscore.OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return localscore.New(localscore.Config{Store: s})
}

type brokenStore struct {
	values map[string]string
	err    error
}

func (s *brokenStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *brokenStore) Set(_ context.Context, key, value string) error {
	if s.err != nil {
		return s.err
	}
	s.values[key] = value
	return nil
}
