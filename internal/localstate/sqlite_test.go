package localstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTripsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "client.db")

	s := openTestStore(t, path)
	require.NoError(t, s.SaveToken(ctx, "tok-1"))
	require.NoError(t, s.SaveGuest(ctx, 3, 5))
	require.NoError(t, s.SaveGuestID(ctx, "guest-abc"))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	snap, err := reopened.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, Snapshot{Token: "tok-1", GuestCount: 3, GuestCap: 5, GuestID: "guest-abc"}, snap)
}

func TestSQLiteStoreEmptyTokenDeletesKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "client.db"))

	require.NoError(t, s.SaveToken(ctx, "tok-1"))
	require.NoError(t, s.SaveToken(ctx, ""))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Token)
}

func TestSQLiteStoreFreshDatabaseIsZero(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "client.db"))
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Snapshot{}, snap)
}
