package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/store"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "checkin.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.EqualError(t, err, "db path is required")
}

func TestStoreRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, store.KeyDailyCount)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Set(ctx, store.KeyDailyCount, []byte(`{"date":"2025-03-10","count":1}`)))
	require.NoError(t, s.Set(ctx, store.KeyDailyCount, []byte(`{"date":"2025-03-10","count":2}`)))
	var d checkin.DailyCount
	ok, err := store.GetJSON(ctx, s, store.KeyDailyCount, &d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, d.Count)

	require.NoError(t, s.Remove(ctx, store.KeyDailyCount))
	_, err = s.Get(ctx, store.KeyDailyCount)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Ping(ctx))
}

func TestStoreSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	prefs := checkin.DefaultPreferences()
	prefs.MaxNudgesPerDay = 5
	require.NoError(t, store.SetJSON(ctx, s, store.KeyPreferences, prefs))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	var got checkin.Preferences
	ok, err := store.GetJSON(ctx, reopened, store.KeyPreferences, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5, got.MaxNudgesPerDay)
}
