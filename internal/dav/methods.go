package dav

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sonroyaalmerol/gitdav/internal/item"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

const (
	AllowHeader = "DELETE, HEAD, GET, MKCALENDAR, OPTIONS, PROPFIND, PUT, REPORT, SEARCH"
	davHeader   = "1, access-control, calendar-access, addressbook"
)

func (h *Handlers) HandleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", AllowHeader)
	w.Header().Set("DAV", davHeader)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, true)
}

func (h *Handlers) HandleHead(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, false)
}

// serveContent writes an item, or the concatenated items of a collection.
// A missing item answers 410 Gone.
func (h *Handlers) serveContent(w http.ResponseWriter, r *http.Request, withBody bool) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	col, err := h.collection(t)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var (
		body        string
		etag        string
		contentType string
		modified    time.Time
	)
	if t.Item != "" {
		it, err := col.Get(t.Item)
		if errors.Is(err, storage.ErrNotFound) {
			w.WriteHeader(http.StatusGone)
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		body, etag, contentType, modified = it.Text(), it.ETag(), it.ContentType(), it.LastModified()
	} else {
		if body, err = col.Text(); err != nil {
			h.fail(w, r, err)
			return
		}
		if etag, err = col.CTag(); err != nil {
			h.fail(w, r, err)
			return
		}
		if modified, err = col.LastModified(); err != nil {
			h.fail(w, r, err)
			return
		}
		kind, err := col.Kind()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		contentType = kind.ContentType()
	}

	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("ETag", quote(etag))
	if !modified.IsZero() {
		w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if withBody {
		_, _ = io.WriteString(w, body)
	}
}

// HandlePut stores the body under the item name of the request path. An
// existing item is replaced only when If-Match agrees with its etag.
func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if t.Item == "" {
		w.Header().Set("Allow", AllowHeader)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	col, err := h.collection(t)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	reader := io.Reader(r.Body)
	if h.maxBody > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	raw, err := io.ReadAll(reader)
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		h.fail(w, r, err)
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		h.fail(w, r, fmt.Errorf("empty body: %w", storage.ErrParse))
		return
	}

	charset := charsetOf(r)
	if charset == "" {
		charset = h.requestEncoding
	}
	data := []byte(item.Decode(raw, charset))
	mc := mutationContext(r)

	stored, err := col.Store(r.Context(), t.Item, data, func(current *item.Item) error {
		if current == nil {
			return nil
		}
		if r.Header.Get("If-None-Match") == "*" || !ifMatch(r.Header.Get("If-Match"), current.ETag()) {
			return fmt.Errorf("put %s: %w", t.Item, storage.ErrPreconditionFailed)
		}
		return nil
	}, mc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("ETag", quote(stored.ETag()))
	w.WriteHeader(http.StatusCreated)
}

// HandleDelete removes the item named by the request path. Deleting a name
// that does not exist succeeds.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if t.Item == "" {
		w.Header().Set("Allow", AllowHeader)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	col, err := h.collection(t)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	err = col.RemoveIf(r.Context(), t.Item, func(current *item.Item) error {
		if current != nil && !ifMatch(r.Header.Get("If-Match"), current.ETag()) {
			return fmt.Errorf("delete %s: %w", t.Item, storage.ErrPreconditionFailed)
		}
		return nil
	}, mutationContext(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ms := newMultistatus()
	resp := ms.response(h.targetHref(t))
	resp.CreateElement("D:status").SetText(statusLine(http.StatusOK))
	body, err := ms.bytes()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleMkcalendar creates the collection directory named by the request
// path.
func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxXMLBody))
	_ = r.Body.Close()

	url := t.Collection
	if t.Item != "" {
		if !ValidCollectionSegment(t.Item) {
			h.fail(w, r, fmt.Errorf("collection name %q: %w", t.Item, ErrBadPath))
			return
		}
		url = strings.Trim(url+"/"+t.Item, "/")
	}
	dir, err := h.registry.Create(url)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.init != nil {
		if err := h.init.Init(r.Context(), dir); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.logger.Info().Str("collection", url).Str("dir", dir).Msg("collection created")
	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxXMLBody))
	_ = r.Body.Close()
	w.WriteHeader(http.StatusNoContent)
}
