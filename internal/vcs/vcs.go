package vcs

import (
	"context"
	"fmt"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

// VersionControl records a completed write. dir is the collection directory
// and files are the changed paths inside it. Implementations must treat a
// collection they cannot version as a no-op.
type VersionControl interface {
	Commit(ctx context.Context, dir string, files []string, mc storage.MutationContext) error
}

type Nop struct{}

func (Nop) Commit(context.Context, string, []string, storage.MutationContext) error { return nil }

// Multi runs each adapter in order and stops at the first failure.
type Multi []VersionControl

func (m Multi) Commit(ctx context.Context, dir string, files []string, mc storage.MutationContext) error {
	for _, v := range m {
		if err := v.Commit(ctx, dir, files, mc); err != nil {
			return err
		}
	}
	return nil
}

func wrap(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %v", storage.ErrVersionControl, fmt.Sprintf(format, args...), err)
}
