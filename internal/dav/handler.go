package dav

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/filter"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

// Initializer prepares a freshly created collection directory, typically by
// turning it into a git repository.
type Initializer interface {
	Init(ctx context.Context, dir string) error
}

type Options struct {
	BasePath        string
	MaxBodyBytes    int64
	RequestEncoding string
	Location        *time.Location
	// Init runs on every directory created by MKCALENDAR when set.
	Init Initializer
}

type Handlers struct {
	registry *filestore.Registry
	engine   *filter.Engine
	init     Initializer
	logger   zerolog.Logger

	basePath        string
	maxBody         int64
	requestEncoding string
	loc             *time.Location
	resolvers       map[string]propResolver
}

func NewHandlers(reg *filestore.Registry, opts Options, logger zerolog.Logger) *Handlers {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	h := &Handlers{
		registry:        reg,
		engine:          filter.NewEngine(loc),
		init:            opts.Init,
		logger:          logger,
		basePath:        strings.TrimRight(opts.BasePath, "/"),
		maxBody:         opts.MaxBodyBytes,
		requestEncoding: opts.RequestEncoding,
		loc:             loc,
	}
	h.resolvers = defaultResolvers()
	return h
}

func (h *Handlers) BasePath() string { return h.basePath }

func (h *Handlers) Registry() *filestore.Registry { return h.registry }

// Target is a request path resolved against the storage tree. Collection is
// the slash-joined collection URL ("alice/work"), empty for the root. Item
// is the unescaped item name, empty when the path names the collection.
type Target struct {
	Collection string
	Item       string
}

// Owner is the first path segment.
func (t Target) Owner() string {
	if t.Collection == "" {
		return t.Item
	}
	owner, _, _ := strings.Cut(t.Collection, "/")
	return owner
}

type targetKey struct{}

func WithTarget(ctx context.Context, t Target) context.Context {
	return context.WithValue(ctx, targetKey{}, t)
}

func TargetFrom(ctx context.Context) (Target, bool) {
	t, ok := ctx.Value(targetKey{}).(Target)
	return t, ok
}

// Handler returns the handler for an HTTP method, or false when the method
// is not served.
func (h *Handlers) Handler(method string) (http.HandlerFunc, bool) {
	switch method {
	case http.MethodOptions:
		return h.HandleOptions, true
	case http.MethodGet:
		return h.HandleGet, true
	case http.MethodHead:
		return h.HandleHead, true
	case http.MethodPut:
		return h.HandlePut, true
	case http.MethodDelete:
		return h.HandleDelete, true
	case "PROPFIND":
		return h.HandlePropfind, true
	case "REPORT":
		return h.HandleReport, true
	case "MKCALENDAR":
		return h.HandleMkcalendar, true
	case "SEARCH":
		return h.HandleSearch, true
	}
	return nil, false
}
