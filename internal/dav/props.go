package dav

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/gitdav/internal/auth"
	"github.com/sonroyaalmerol/gitdav/internal/item"
	"github.com/sonroyaalmerol/gitdav/internal/storage/filestore"
)

var errNoProp = errors.New("property not available")

// resource is one entry of a multistatus: the server root, a collection, or
// an item inside a collection.
type resource struct {
	href string
	col  *filestore.Collection
	item *item.Item
}

func (r *resource) isCollection() bool { return r.item == nil }

// propResolver fills el with the value of one property, or reports
// errNoProp when the property does not apply to res.
type propResolver func(h *Handlers, req *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element]

var defaultProps = []string{
	clark(nsDAV, "resourcetype"),
	clark(nsDAV, "owner"),
	clark(nsDAV, "getcontenttype"),
	clark(nsDAV, "getetag"),
	clark(nsDAV, "principal-collection-set"),
	clark(nsCalDAV, "supported-calendar-component-set"),
	clark(nsDAV, "supported-report-set"),
	clark(nsDAV, "current-user-privilege-set"),
	clark(nsDAV, "getcontentlength"),
	clark(nsDAV, "getlastmodified"),
}

func defaultResolvers() map[string]propResolver {
	r := make(map[string]propResolver)
	r[clark(nsDAV, "resourcetype")] = resourceType
	r[clark(nsDAV, "owner")] = owner
	r[clark(nsDAV, "getcontenttype")] = contentType
	r[clark(nsDAV, "getetag")] = etag
	r[clark(nsCS, "getctag")] = ctag
	r[clark(nsDAV, "displayname")] = displayName
	r[clark(nsDAV, "current-user-principal")] = currentUserPrincipal
	r[clark(nsCalDAV, "supported-calendar-component-set")] = supportedComponents
	r[clark(nsDAV, "supported-report-set")] = supportedReports
	r[clark(nsDAV, "current-user-privilege-set")] = privileges
	r[clark(nsDAV, "getcontentlength")] = contentLength
	r[clark(nsDAV, "getlastmodified")] = lastModified
	r[clark(nsCalDAV, "calendar-data")] = objectData
	r[clark(nsCardDAV, "address-data")] = objectData
	for _, key := range []string{
		clark(nsDAV, "principal-URL"),
		clark(nsDAV, "principal-collection-set"),
		clark(nsCalDAV, "calendar-user-address-set"),
		clark(nsCalDAV, "calendar-home-set"),
		clark(nsCardDAV, "addressbook-home-set"),
	} {
		r[key] = selfHref
	}
	return r
}

func selfHref(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	el.CreateElement("D:href").SetText(res.href)
	return mo.Ok(el)
}

func resourceType(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	if res.isCollection() {
		el.CreateElement("D:collection")
		if res.col != nil {
			el.CreateElement("C:calendar")
			el.CreateElement("CARD:addressbook")
		}
	}
	return mo.Ok(el)
}

func owner(h *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	if res.col == nil {
		return mo.Err[*etree.Element](errNoProp)
	}
	el.CreateElement("D:href").SetText(h.collectionHref(res.col.Owner()))
	return mo.Ok(el)
}

func contentType(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	switch {
	case res.item != nil:
		el.SetText(res.item.ContentType())
	case res.col != nil:
		kind, err := res.col.Kind()
		if err != nil {
			return mo.Err[*etree.Element](err)
		}
		el.SetText(kind.ContentType())
	default:
		return mo.Err[*etree.Element](errNoProp)
	}
	return mo.Ok(el)
}

func etag(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	switch {
	case res.item != nil:
		el.SetText(quote(res.item.ETag()))
	case res.col != nil:
		tag, err := res.col.CTag()
		if err != nil {
			return mo.Err[*etree.Element](err)
		}
		el.SetText(quote(tag))
	default:
		return mo.Err[*etree.Element](errNoProp)
	}
	return mo.Ok(el)
}

func ctag(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	if res.col == nil || !res.isCollection() {
		return mo.Err[*etree.Element](errNoProp)
	}
	tag, err := res.col.CTag()
	if err != nil {
		return mo.Err[*etree.Element](err)
	}
	el.SetText(tag)
	return mo.Ok(el)
}

func displayName(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	switch {
	case res.item != nil:
		el.SetText(res.item.Name())
	case res.col != nil:
		el.SetText(res.col.Name())
	default:
		return mo.Err[*etree.Element](errNoProp)
	}
	return mo.Ok(el)
}

func currentUserPrincipal(h *Handlers, req *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	if p, ok := auth.PrincipalFrom(req.Context()); ok && p != nil && p.UserID != "" {
		el.CreateElement("D:href").SetText(h.collectionHref(p.UserID))
		return mo.Ok(el)
	}
	el.CreateElement("D:href").SetText(res.href)
	return mo.Ok(el)
}

func supportedComponents(_ *Handlers, _ *http.Request, _ *resource, el *etree.Element) mo.Result[*etree.Element] {
	for _, name := range []string{"VTODO", "VEVENT"} {
		el.CreateElement("C:comp").CreateAttr("name", name)
	}
	return mo.Ok(el)
}

func supportedReports(_ *Handlers, _ *http.Request, _ *resource, el *etree.Element) mo.Result[*etree.Element] {
	for _, name := range []string{"C:calendar-multiget", "C:calendar-query", "CARD:addressbook-multiget", "CARD:addressbook-query"} {
		el.CreateElement("D:supported-report").CreateElement("D:report").CreateElement(name)
	}
	return mo.Ok(el)
}

func privileges(_ *Handlers, _ *http.Request, _ *resource, el *etree.Element) mo.Result[*etree.Element] {
	el.CreateElement("D:privilege").CreateElement("D:all")
	return mo.Ok(el)
}

func contentLength(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	switch {
	case res.item != nil:
		el.SetText(strconv.Itoa(res.item.Length()))
	case res.col != nil:
		text, err := res.col.Text()
		if err != nil {
			return mo.Err[*etree.Element](err)
		}
		el.SetText(strconv.Itoa(len(text)))
	default:
		return mo.Err[*etree.Element](errNoProp)
	}
	return mo.Ok(el)
}

func lastModified(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	switch {
	case res.item != nil:
		el.SetText(res.item.LastModified().UTC().Format(http.TimeFormat))
	case res.col != nil:
		t, err := res.col.LastModified()
		if err != nil {
			return mo.Err[*etree.Element](err)
		}
		el.SetText(t.UTC().Format(http.TimeFormat))
	default:
		return mo.Err[*etree.Element](errNoProp)
	}
	return mo.Ok(el)
}

func objectData(_ *Handlers, _ *http.Request, res *resource, el *etree.Element) mo.Result[*etree.Element] {
	if res.item == nil {
		return mo.Err[*etree.Element](errNoProp)
	}
	el.SetText(res.item.Text())
	return mo.Ok(el)
}

// resolve evaluates the property key for res into a detached element.
func (h *Handlers) resolve(req *http.Request, res *resource, key string) mo.Result[*etree.Element] {
	el := newProp(etree.NewElement("scratch"), key)
	fn, ok := h.resolvers[key]
	if !ok {
		return mo.Err[*etree.Element](errNoProp)
	}
	return fn(h, req, res, el)
}

// writeProps appends key to prop when it resolves, and otherwise to
// missing. Resolver failures other than errNoProp are logged.
func (h *Handlers) writeProps(req *http.Request, res *resource, keys []string, found, missing func() *etree.Element) {
	for _, key := range keys {
		result := h.resolve(req, res, key)
		if el, err := result.Get(); err == nil {
			found().AddChild(el)
			continue
		} else if !errors.Is(err, errNoProp) {
			h.logger.Warn().Err(err).Str("href", res.href).Str("prop", key).Msg("property lookup failed")
		}
		newProp(missing(), key)
	}
}
