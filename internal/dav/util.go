package dav

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/sonroyaalmerol/gitdav/internal/auth"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

var (
	ErrBadPath    = errors.New("bad path")
	ErrBadRequest = errors.New("bad request")
)

// SplitPath strips basePath from an escaped URL path and returns its
// unescaped segments. Escaped slashes stay inside their segment. Empty
// segments are dropped; "." and ".." are refused.
func SplitPath(basePath, escaped string) ([]string, error) {
	basePath = strings.TrimRight(basePath, "/")
	if basePath != "" {
		if escaped != basePath && !strings.HasPrefix(escaped, basePath+"/") {
			return nil, fmt.Errorf("%q outside %q: %w", escaped, basePath, ErrBadPath)
		}
		escaped = strings.TrimPrefix(escaped, basePath)
	}
	var segs []string
	for _, raw := range strings.Split(escaped, "/") {
		if raw == "" {
			continue
		}
		seg, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", raw, ErrBadPath)
		}
		if seg == "." || seg == ".." || strings.ContainsRune(seg, 0) {
			return nil, fmt.Errorf("%q: %w", raw, ErrBadPath)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// ValidCollectionSegment reports whether seg can name a directory.
func ValidCollectionSegment(seg string) bool {
	return seg != "" && !strings.ContainsAny(seg, "/\\") && !strings.HasPrefix(seg, ".")
}

func (h *Handlers) collectionHref(col string) string {
	var b strings.Builder
	b.WriteString(h.basePath)
	b.WriteString("/")
	for _, seg := range strings.Split(col, "/") {
		if seg == "" {
			continue
		}
		b.WriteString(url.PathEscape(seg))
		b.WriteString("/")
	}
	return b.String()
}

func (h *Handlers) itemHref(col, name string) string {
	return h.collectionHref(col) + url.PathEscape(name)
}

func (h *Handlers) targetHref(t Target) string {
	if t.Item == "" {
		return h.collectionHref(t.Collection)
	}
	return h.itemHref(t.Collection, t.Item)
}

func quote(etag string) string { return `"` + etag + `"` }

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// ifMatch checks an If-Match header against etag. The bare, quoted and
// escaped-quoted forms are all accepted. An absent header always passes.
func ifMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return true
	}
	forms := []string{etag, quote(etag), `\"` + etag + `\"`}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "W/"))
		for _, cand := range []string{part, trimQuotes(part)} {
			for _, f := range forms {
				if cand == f {
					return true
				}
			}
		}
	}
	return false
}

// statusFor maps an error to the response status. Anything not in the
// taxonomy is an internal error.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, storage.ErrParse), errors.Is(err, storage.ErrFilter),
		errors.Is(err, ErrBadPath), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, storage.ErrDuplicateItem):
		return http.StatusConflict
	case errors.Is(err, filestore.ErrOutsideRoot):
		return http.StatusForbidden
	case errors.Is(err, fs.ErrExist):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and answers with its status and an empty body.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ev := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = h.logger.Error()
	}
	ev.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	w.WriteHeader(status)
}

func mutationContext(r *http.Request) storage.MutationContext {
	mc := storage.MutationContext{UserAgent: r.UserAgent()}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p != nil {
		mc.User = p.UserID
	}
	return mc
}

func charsetOf(r *http.Request) string {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return params["charset"]
}

func (h *Handlers) target(r *http.Request) (Target, error) {
	t, ok := TargetFrom(r.Context())
	if !ok {
		return Target{}, fmt.Errorf("%s: %w", r.URL.Path, storage.ErrNotFound)
	}
	return t, nil
}

func (h *Handlers) collection(t Target) (*filestore.Collection, error) {
	if t.Collection == "" {
		return nil, fmt.Errorf("no collection: %w", storage.ErrNotFound)
	}
	return h.registry.Get(t.Collection)
}
