package dav

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/beevik/etree"

	"github.com/sonroyaalmerol/gitdav/internal/filter"
	"github.com/sonroyaalmerol/gitdav/internal/item"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

const maxReportBody = 8 << 20

var reportKinds = map[string]bool{
	clark(nsCalDAV, "calendar-multiget"):     true,
	clark(nsCardDAV, "addressbook-multiget"): true,
	clark(nsCalDAV, "calendar-query"):        false,
	clark(nsCardDAV, "addressbook-query"):    false,
}

// HandleReport answers multiget and query reports. Multiget targets the
// hrefs listed in the body; query targets the request path. Every matching
// item gets one response carrying the requested properties.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	root, err := readXML(r.Body, maxReportBody)
	_ = r.Body.Close()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if root == nil {
		h.fail(w, r, fmt.Errorf("empty REPORT body: %w", ErrBadRequest))
		return
	}
	multiget, known := reportKinds[elementKey(root)]
	if !known {
		h.fail(w, r, fmt.Errorf("unsupported REPORT %s: %w", elementKey(root), ErrBadRequest))
		return
	}

	col, err := h.collection(t)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	props := requestedProps(root)
	if props == nil {
		data := clark(nsCalDAV, "calendar-data")
		if root.NamespaceURI() == nsCardDAV {
			data = clark(nsCardDAV, "address-data")
		}
		props = []string{clark(nsDAV, "getetag"), data}
	}

	f, err := filter.Parse(findChild(root, "filter"), h.loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var refs []reference
	if multiget {
		refs = h.hrefReferences(t, root)
	} else {
		refs = []reference{{item: t.Item}}
	}

	items, err := h.referencedItems(col, refs)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ms := newMultistatus()
	for _, it := range items {
		if !h.engine.Match(it, f) {
			continue
		}
		res := &resource{href: h.itemHref(col.URL(), it.Name()), col: col, item: it}
		resp := ms.response(res.href)
		var ok, missing *etree.Element
		h.writeProps(r, res, props,
			func() *etree.Element {
				if ok == nil {
					ok = propstat(resp, http.StatusOK)
				}
				return ok
			},
			func() *etree.Element {
				if missing == nil {
					missing = propstat(resp, http.StatusNotFound)
				}
				return missing
			})
	}
	if err := ms.write(w); err != nil {
		h.logger.Error().Err(err).Msg("failed to write REPORT multistatus")
	}
}

// findChild returns the first direct child with the given local name in the
// CalDAV or CardDAV namespace.
func findChild(root *etree.Element, local string) *etree.Element {
	for _, child := range root.ChildElements() {
		if child.Tag != local {
			continue
		}
		if ns := child.NamespaceURI(); ns == nsCalDAV || ns == nsCardDAV {
			return child
		}
	}
	return nil
}

// reference narrows a report to one item, or to the whole collection when
// item is empty.
type reference struct {
	item string
}

// hrefReferences resolves the D:href children of a multiget against the
// request collection. Duplicates collapse and hrefs pointing elsewhere are
// dropped.
func (h *Handlers) hrefReferences(t Target, root *etree.Element) []reference {
	base, _ := url.Parse(h.collectionHref(t.Collection))
	seen := make(map[string]bool)
	var refs []reference
	for _, el := range root.ChildElements() {
		if elementKey(el) != clark(nsDAV, "href") {
			continue
		}
		raw := strings.TrimSpace(el.Text())
		ref, err := url.Parse(raw)
		if err != nil || raw == "" {
			h.logger.Debug().Str("href", raw).Msg("ignoring unparsable href")
			continue
		}
		segs, err := SplitPath(h.basePath, base.ResolveReference(ref).EscapedPath())
		if err != nil || len(segs) == 0 {
			continue
		}
		var rf reference
		switch joined := strings.Join(segs, "/"); {
		case joined == t.Collection:
		case strings.Join(segs[:len(segs)-1], "/") == t.Collection:
			rf.item = segs[len(segs)-1]
		default:
			h.logger.Debug().Str("href", raw).Str("collection", t.Collection).Msg("ignoring href outside collection")
			continue
		}
		if seen[rf.item] {
			continue
		}
		seen[rf.item] = true
		refs = append(refs, rf)
	}
	return refs
}

// referencedItems expands refs into items, skipping names that do not
// resolve and items already listed.
func (h *Handlers) referencedItems(col *filestore.Collection, refs []reference) ([]*item.Item, error) {
	var out []*item.Item
	listed := make(map[string]bool)
	add := func(it *item.Item) {
		if !listed[it.Name()] {
			listed[it.Name()] = true
			out = append(out, it)
		}
	}
	for _, rf := range refs {
		if rf.item == "" {
			all, err := col.Items()
			if err != nil {
				return nil, err
			}
			for _, it := range all {
				add(it)
			}
			continue
		}
		it, err := col.Get(rf.item)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		add(it)
	}
	return out, nil
}
