package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/auth"
	"github.com/sonroyaalmerol/gitdav/internal/dav"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

func New(h *dav.Handlers, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{
		handlers: h,
		auth:     authn,
		logger:   logger,
	}
	return r.setupRoutes()
}

func (r *Router) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/caldav", r.handleWellKnown)
	mux.HandleFunc("/.well-known/carddav", r.handleWellKnown)
	mux.HandleFunc("/healthz", r.handleHealth)

	base := r.handlers.BasePath() + "/"
	mux.HandleFunc(base, r.handleDAVRequest)
	if base != "/" {
		mux.HandleFunc(strings.TrimSuffix(base, "/"), r.handleDAVRequest)
	}
	return mux
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleWellKnown(w http.ResponseWriter, req *http.Request) {
	http.Redirect(w, req, r.handlers.BasePath()+"/", http.StatusMovedPermanently)
}

func (r *Router) handleDAVRequest(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	// OPTIONS is public for capability discovery
	if req.Method == http.MethodOptions {
		r.handlers.HandleOptions(rec, req)
		r.logRequest(req, rec, start)
		return
	}

	target, err := r.resolve(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, filestore.ErrOutsideRoot) {
			status = http.StatusForbidden
		}
		r.logger.Debug().Err(err).Str("path", req.URL.Path).Msg("unresolvable path")
		rec.WriteHeader(status)
		r.logRequest(req, rec, start)
		return
	}

	p, err := r.auth.Authorize(req, target.Owner()).Get()
	if err != nil {
		r.logAttempt(req, err)
		if errors.Is(err, auth.ErrForbidden) {
			http.Error(rec, "forbidden", http.StatusForbidden)
		} else {
			rec.Header().Set("WWW-Authenticate", r.auth.Challenge())
			http.Error(rec, "unauthorized", http.StatusUnauthorized)
		}
		r.logRequest(req, rec, start)
		return
	}

	ctx := auth.WithPrincipal(req.Context(), p)
	ctx = dav.WithTarget(ctx, target)
	req = req.WithContext(ctx)

	handler, ok := r.handlers.Handler(req.Method)
	if !ok {
		rec.Header().Set("Allow", dav.AllowHeader)
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
	} else {
		handler(rec, req)
	}
	r.logRequest(req, rec, start)
}

// resolve maps the request path onto the storage tree. A path naming an
// existing directory is a collection; otherwise its last segment is an item
// inside the parent collection.
func (r *Router) resolve(req *http.Request) (dav.Target, error) {
	segs, err := dav.SplitPath(r.handlers.BasePath(), req.URL.EscapedPath())
	if err != nil {
		return dav.Target{}, err
	}
	if len(segs) == 0 {
		return dav.Target{}, nil
	}

	reg := r.handlers.Registry()
	full := strings.Join(segs, "/")
	if _, err := reg.Dir(full); err != nil {
		return dav.Target{}, err
	}

	collection := segs
	var name string
	if !reg.IsCollection(full) {
		collection, name = segs[:len(segs)-1], segs[len(segs)-1]
	}
	for _, seg := range collection {
		if !dav.ValidCollectionSegment(seg) {
			return dav.Target{}, fmt.Errorf("collection segment %q: %w", seg, dav.ErrBadPath)
		}
	}
	return dav.Target{Collection: strings.Join(collection, "/"), Item: name}, nil
}

func (r *Router) logRequest(req *http.Request, rec *statusRecorder, start time.Time) {
	dur := time.Since(start)

	var ev *zerolog.Event
	switch req.Method {
	case "PROPFIND", "REPORT", http.MethodGet, http.MethodHead, http.MethodOptions:
		ev = r.logger.Debug()
	default:
		ev = r.logger.Info()
	}
	ev = ev.
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", statusOrDefault(rec.status)).
		Int("bytes", rec.bytes).
		Float64("duration_ms", float64(dur.Microseconds())/1000.0).
		Str("ip", realIP(req)).
		Str("user_agent", req.UserAgent())

	if p, ok := auth.PrincipalFrom(req.Context()); ok && p != nil && p.UserID != "" {
		ev = ev.Str("user", p.UserID)
	}
	ev.Msg("http request")
}

func (r *Router) logAttempt(req *http.Request, authErr error) {
	authz := req.Header.Get("Authorization")
	authType := ""
	if i := strings.IndexByte(authz, ' '); i > 0 {
		authType = strings.ToLower(authz[:i])
	}
	username := ""
	if u, _, ok := req.BasicAuth(); ok {
		username = u
	}

	logEvent := r.logger.Info().
		Bool("auth_success", false).
		Str("user", username).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("ip", realIP(req)).
		Str("user_agent", req.UserAgent()).
		Str("auth_type", authType)

	if authErr != nil {
		logEvent = logEvent.Str("error", authErr.Error())
	}

	logEvent.Msg("auth attempt")
}
