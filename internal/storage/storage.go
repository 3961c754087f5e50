package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrParse              = errors.New("parse error")
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrDuplicateItem      = errors.New("duplicate item")
	ErrVersionControl     = errors.New("version control error")
	ErrFilter             = errors.New("invalid filter")
)

// Actions recorded for every mutation.
const (
	ActionAdd    = "Add"
	ActionModify = "Modify"
	ActionRemove = "Remove"
)

// MutationContext carries attribution for a single write. It is never persisted
// by the store itself; version control backends decide what to keep.
type MutationContext struct {
	User      string
	UserAgent string
	Action    string
}

// WithAction returns a copy of mc with Action replaced.
func (mc MutationContext) WithAction(action string) MutationContext {
	mc.Action = action
	return mc
}

type Entry struct {
	ID         int64
	Collection string
	File       string
	Action     string
	User       string
	UserAgent  string
	CreatedAt  time.Time
}

// Journal is an append-only log of committed mutations.
type Journal interface {
	Close()
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, collection string, limit int) ([]Entry, error)
}
