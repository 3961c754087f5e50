package dav

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		base, path string
		want       []string
	}{
		{"", "/", nil},
		{"", "/alice/work/", []string{"alice", "work"}},
		{"", "/alice//work/abc.ics", []string{"alice", "work", "abc.ics"}},
		{"", "/alice/work/team%2Fsync", []string{"alice", "work", "team/sync"}},
		{"/dav", "/dav", nil},
		{"/dav/", "/dav/alice/", []string{"alice"}},
		{"", "/alice/caf%C3%A9", []string{"alice", "café"}},
	}
	for _, tt := range tests {
		got, err := SplitPath(tt.base, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	for _, bad := range []struct{ base, path string }{
		{"", "/alice/../bob/"},
		{"", "/alice/%2e%2e/bob"},
		{"", "/alice/./work"},
		{"", "/alice/%zz"},
		{"", "/alice/a%00b"},
		{"/dav", "/davx/alice"},
		{"/dav", "/other"},
	} {
		_, err := SplitPath(bad.base, bad.path)
		assert.ErrorIs(t, err, ErrBadPath, bad.path)
	}
}

func TestIfMatch(t *testing.T) {
	const etag = "3f786850e387550fdab836ed7e6dc881de23001b"
	for _, header := range []string{
		"",
		"*",
		etag,
		`"` + etag + `"`,
		`\"` + etag + `\"`,
		`W/"` + etag + `"`,
		`"other", "` + etag + `"`,
	} {
		assert.True(t, ifMatch(header, etag), header)
	}
	for _, header := range []string{`"other"`, "other", `"` + etag + `x"`} {
		assert.False(t, ifMatch(header, etag), header)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("x: %w", storage.ErrParse), http.StatusBadRequest},
		{fmt.Errorf("x: %w", storage.ErrFilter), http.StatusBadRequest},
		{ErrBadPath, http.StatusBadRequest},
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", storage.ErrPreconditionFailed), http.StatusPreconditionFailed},
		{fmt.Errorf("x: %w", storage.ErrDuplicateItem), http.StatusConflict},
		{fmt.Errorf("x: %w", storage.ErrVersionControl), http.StatusInternalServerError},
		{filestore.ErrOutsideRoot, http.StatusForbidden},
		{fmt.Errorf("x: %w", fs.ErrExist), http.StatusMethodNotAllowed},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), fmt.Sprint(tt.err))
	}
}

func TestHrefs(t *testing.T) {
	h := &Handlers{basePath: "/dav"}
	assert.Equal(t, "/dav/", h.collectionHref(""))
	assert.Equal(t, "/dav/alice/work/", h.collectionHref("alice/work"))
	assert.Equal(t, "/dav/alice/work/team%2Fsync", h.itemHref("alice/work", "team/sync"))
	assert.Equal(t, "/dav/alice/work/a%20b", h.targetHref(Target{Collection: "alice/work", Item: "a b"}))
	assert.Equal(t, "alice", Target{Collection: "alice/work"}.Owner())
	assert.Equal(t, "alice", Target{Item: "alice"}.Owner())
}
