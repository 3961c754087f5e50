package vcs

import (
	"context"
	"path/filepath"
	"time"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

// Journaled appends every commit to a storage.Journal. Root is stripped from
// collection directories so entries carry URL-style collection names.
type Journaled struct {
	Journal storage.Journal
	Root    string
}

func (j *Journaled) Commit(ctx context.Context, dir string, files []string, mc storage.MutationContext) error {
	collection := dir
	if j.Root != "" {
		if rel, err := filepath.Rel(j.Root, dir); err == nil {
			collection = filepath.ToSlash(rel)
		}
	}
	for _, f := range files {
		err := j.Journal.Record(ctx, storage.Entry{
			Collection: collection,
			File:       filepath.Base(f),
			Action:     mc.Action,
			User:       mc.User,
			UserAgent:  mc.UserAgent,
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return wrap(err, "journal %s", collection)
		}
	}
	return nil
}
