package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

func TestJournalRecordAndList(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "db", "journal.db")

	s, err := Open(dsn, storage.JournalOptions{}, zerolog.Nop())
	require.NoError(t, err)

	entries := []storage.Entry{
		{Collection: "alice/work", File: "cal-1.ics", Action: storage.ActionAdd, User: "alice", UserAgent: "test"},
		{Collection: "bob/home", File: "card-1.vcf", Action: storage.ActionAdd, User: "bob"},
		{Collection: "alice/work", File: "cal-1.ics", Action: storage.ActionRemove, User: "alice"},
	}
	for _, e := range entries {
		require.NoError(t, s.Record(ctx, e))
	}

	got, err := s.List(ctx, "alice/work", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, storage.ActionRemove, got[0].Action)
	assert.Equal(t, storage.ActionAdd, got[1].Action)
	assert.Equal(t, "test", got[1].UserAgent)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.Greater(t, got[0].ID, got[1].ID)

	all, err := s.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	s.Close()

	// migrations are idempotent on reopen
	again, err := Open(dsn, storage.JournalOptions{}, zerolog.Nop())
	require.NoError(t, err)
	defer again.Close()
	all, err = again.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestJournalRetainsNewestPerCollection(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), storage.JournalOptions{Retain: 2}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	for _, file := range []string{"cal-1.ics", "cal-2.ics", "cal-3.ics"} {
		require.NoError(t, s.Record(ctx, storage.Entry{Collection: "alice/work", File: file, Action: storage.ActionAdd}))
	}
	require.NoError(t, s.Record(ctx, storage.Entry{Collection: "bob/home", File: "card-1.vcf", Action: storage.ActionAdd}))

	got, err := s.List(ctx, "alice/work", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cal-3.ics", got[0].File)
	assert.Equal(t, "cal-2.ics", got[1].File)

	other, err := s.List(ctx, "bob/home", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
