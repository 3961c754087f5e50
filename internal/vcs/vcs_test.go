package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Commit(_ context.Context, dir string, files []string, mc storage.MutationContext) error {
	r.calls = append(r.calls, mc.Action+" "+strings.Join(files, ","))
	return r.err
}

type memJournal struct {
	entries []storage.Entry
}

func (m *memJournal) Close() {}

func (m *memJournal) Record(_ context.Context, e storage.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memJournal) List(context.Context, string, int) ([]storage.Entry, error) {
	return m.entries, nil
}

func TestMultiStopsOnFirstError(t *testing.T) {
	failing := &recorder{err: errors.New("boom")}
	after := &recorder{}
	m := Multi{Nop{}, failing, after}

	err := m.Commit(context.Background(), "/tmp", []string{"/tmp/a.ics"}, storage.MutationContext{Action: storage.ActionAdd})
	require.Error(t, err)
	assert.Len(t, failing.calls, 1)
	assert.Empty(t, after.calls)
}

func TestGitWithoutRepositoryIsNoop(t *testing.T) {
	g := &Git{Binary: filepath.Join(t.TempDir(), "missing-git"), Logger: zerolog.Nop()}
	err := g.Commit(context.Background(), t.TempDir(), []string{"x.ics"}, storage.MutationContext{Action: storage.ActionAdd})
	assert.NoError(t, err)
}

func TestGitFailureIsVersionControlError(t *testing.T) {
	bin, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not available")
	}
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	g := &Git{Binary: bin, Logger: zerolog.Nop()}
	err = g.Commit(context.Background(), dir, []string{filepath.Join(dir, "a.ics")}, storage.MutationContext{Action: storage.ActionAdd})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrVersionControl))
}

func gitOutput(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return strings.TrimSpace(string(out))
}

func TestGitCommitsWithAttribution(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	dir := t.TempDir()
	g := NewGit(zerolog.Nop())
	require.NoError(t, g.Init(ctx, dir))
	require.True(t, Enabled(dir))

	file := filepath.Join(dir, "cal-1.ics")
	require.NoError(t, os.WriteFile(file, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o644))

	mc := storage.MutationContext{User: "alice", UserAgent: "DAVx5/4.0", Action: storage.ActionAdd}
	require.NoError(t, g.Commit(ctx, dir, []string{file}, mc))

	assert.Equal(t, "alice <alice@gitdav>", gitOutput(t, dir, "log", "-1", "--format=%an <%ae>"))
	assert.Equal(t, "Add", gitOutput(t, dir, "log", "-1", "--format=%s"))
	assert.Equal(t, "User-Agent: DAVx5/4.0", gitOutput(t, dir, "log", "-1", "--format=%b"))
	assert.Equal(t, "cal-1.ics", gitOutput(t, dir, "ls-files"))

	require.NoError(t, os.Remove(file))
	require.NoError(t, g.Commit(ctx, dir, []string{file}, storage.MutationContext{Action: storage.ActionRemove}))

	assert.Equal(t, "gitdav <gitdav@localhost>", gitOutput(t, dir, "log", "-1", "--format=%an <%ae>"))
	assert.Equal(t, "Remove", gitOutput(t, dir, "log", "-1", "--format=%s"))
	assert.Empty(t, gitOutput(t, dir, "ls-files"))
}

func TestJournaledRecordsEntries(t *testing.T) {
	j := &memJournal{}
	v := &Journaled{Journal: j, Root: "/srv/dav"}

	err := v.Commit(context.Background(), "/srv/dav/alice/work", []string{"/srv/dav/alice/work/cal-1.ics"},
		storage.MutationContext{User: "alice", UserAgent: "curl", Action: storage.ActionModify})
	require.NoError(t, err)

	require.Len(t, j.entries, 1)
	e := j.entries[0]
	assert.Equal(t, "alice/work", e.Collection)
	assert.Equal(t, "cal-1.ics", e.File)
	assert.Equal(t, storage.ActionModify, e.Action)
	assert.Equal(t, "alice", e.User)
	assert.Equal(t, "curl", e.UserAgent)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestGitCommitOutlivesCancelledRequest(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	g := NewGit(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.Init(ctx, dir))

	file := filepath.Join(dir, "cal-1.ics")
	require.NoError(t, os.WriteFile(file, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o644))
	require.NoError(t, g.Commit(ctx, dir, []string{file}, storage.MutationContext{Action: storage.ActionAdd}))

	assert.Equal(t, "cal-1.ics", gitOutput(t, dir, "ls-files"))
	assert.NoFileExists(t, filepath.Join(dir, ".git", "index.lock"))
}
