package dav

import (
	"net/http"

	"github.com/beevik/etree"
)

const maxXMLBody = 1 << 20

// HandlePropfind answers with one response per resource and one propstat
// per requested property. Depth "0" covers the target only; any other
// depth adds the items of a collection.
func (h *Handlers) HandlePropfind(w http.ResponseWriter, r *http.Request) {
	t, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	root, err := readXML(r.Body, maxXMLBody)
	_ = r.Body.Close()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	props := requestedProps(root)
	if props == nil {
		props = defaultProps
	}

	resources, err := h.propfindTargets(t, r.Header.Get("Depth"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ms := newMultistatus()
	for _, res := range resources {
		resp := ms.response(res.href)
		h.writeProps(r, res, props,
			func() *etree.Element { return propstat(resp, http.StatusOK) },
			func() *etree.Element { return propstat(resp, http.StatusNotFound) })
	}
	if err := ms.write(w); err != nil {
		h.logger.Error().Err(err).Msg("failed to write PROPFIND multistatus")
	}
}

func (h *Handlers) propfindTargets(t Target, depth string) ([]*resource, error) {
	if t.Collection == "" && t.Item == "" {
		return []*resource{{href: h.collectionHref("")}}, nil
	}
	col, err := h.collection(t)
	if err != nil {
		return nil, err
	}
	if t.Item != "" {
		it, err := col.Get(t.Item)
		if err != nil {
			return nil, err
		}
		return []*resource{{href: h.itemHref(col.URL(), it.Name()), col: col, item: it}}, nil
	}

	out := []*resource{{href: h.collectionHref(col.URL()), col: col}}
	if depth == "0" {
		return out, nil
	}
	items, err := col.Items()
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out = append(out, &resource{href: h.itemHref(col.URL(), it.Name()), col: col, item: it})
	}
	return out, nil
}
