package dav

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/beevik/etree"
)

const (
	nsDAV     = "DAV:"
	nsCalDAV  = "urn:ietf:params:xml:ns:caldav"
	nsCardDAV = "urn:ietf:params:xml:ns:carddav"
	nsCS      = "http://calendarserver.org/ns/"
)

var prefixes = map[string]string{
	nsDAV:     "D",
	nsCalDAV:  "C",
	nsCardDAV: "CARD",
	nsCS:      "CS",
}

// clark returns the {namespace}local key of a property.
func clark(ns, local string) string { return "{" + ns + "}" + local }

func elementKey(el *etree.Element) string { return clark(el.NamespaceURI(), el.Tag) }

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// readXML parses a request body. An empty body yields a nil root.
func readXML(body io.Reader, limit int64) (*etree.Element, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("xml: %v: %w", err, ErrBadRequest)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("xml: no root element: %w", ErrBadRequest)
	}
	return doc.Root(), nil
}

type multistatus struct {
	doc  *etree.Document
	root *etree.Element
}

func newMultistatus() *multistatus {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("D:multistatus")
	for _, ns := range []string{nsDAV, nsCalDAV, nsCardDAV, nsCS} {
		root.CreateAttr("xmlns:"+prefixes[ns], ns)
	}
	return &multistatus{doc: doc, root: root}
}

func (m *multistatus) response(href string) *etree.Element {
	resp := m.root.CreateElement("D:response")
	resp.CreateElement("D:href").SetText(href)
	return resp
}

// propstat appends a propstat with the given status to resp and returns its
// D:prop element.
func propstat(resp *etree.Element, code int) *etree.Element {
	ps := resp.CreateElement("D:propstat")
	prop := ps.CreateElement("D:prop")
	ps.CreateElement("D:status").SetText(statusLine(code))
	return prop
}

func (m *multistatus) bytes() ([]byte, error) {
	m.doc.Indent(2)
	return m.doc.WriteToBytes()
}

func (m *multistatus) write(w http.ResponseWriter) error {
	body, err := m.bytes()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusMultiStatus)
	_, err = w.Write(body)
	return err
}

// newProp creates an empty element for the property key under parent,
// declaring its namespace when it has no well-known prefix.
func newProp(parent *etree.Element, key string) *etree.Element {
	ns, local := splitClark(key)
	if p, ok := prefixes[ns]; ok {
		return parent.CreateElement(p + ":" + local)
	}
	if ns == "" {
		return parent.CreateElement(local)
	}
	el := parent.CreateElement("X:" + local)
	el.CreateAttr("xmlns:X", ns)
	return el
}

func splitClark(key string) (ns, local string) {
	if len(key) > 0 && key[0] == '{' {
		for i := 1; i < len(key); i++ {
			if key[i] == '}' {
				return key[1:i], key[i+1:]
			}
		}
	}
	return "", key
}

// requestedProps lists the properties named under D:prop in root. It
// returns nil when root asks for everything (no D:prop, or D:allprop).
func requestedProps(root *etree.Element) []string {
	if root == nil {
		return nil
	}
	var props []string
	for _, child := range root.ChildElements() {
		if elementKey(child) != clark(nsDAV, "prop") {
			continue
		}
		for _, p := range child.ChildElements() {
			props = append(props, elementKey(p))
		}
		return props
	}
	return nil
}
