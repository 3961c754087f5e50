package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
	pkgical "github.com/sonroyaalmerol/gitdav/pkg/ical"
)

type Error struct {
	Msg string
}

func (e *Error) Error() string { return "filter: " + e.Msg }
func (e *Error) Unwrap() error { return storage.ErrFilter }

type Kind int

const (
	KindComp Kind = iota
	KindTimeRange
	KindProp
	KindTextMatch
	KindIsNotDefined
	// KindOther covers elements the engine does not evaluate; they match.
	KindOther
)

// Node is one parsed filter element.
type Node struct {
	Kind     Kind
	Name     string
	Start    mo.Option[time.Time]
	End      mo.Option[time.Time]
	Text     string
	Negate   bool
	Children []*Node
}

// Filter is the parsed <filter> root of a query REPORT. A nil *Filter
// matches everything.
type Filter struct {
	Children []*Node
}

// Parse reads a CalDAV or CardDAV <filter> element. Naive time-range bounds
// are interpreted in loc.
func Parse(el *etree.Element, loc *time.Location) (*Filter, error) {
	if el == nil {
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}
	f := &Filter{}
	for _, child := range el.ChildElements() {
		n, err := parseNode(child, loc)
		if err != nil {
			return nil, err
		}
		f.Children = append(f.Children, n)
	}
	return f, nil
}

func parseNode(el *etree.Element, loc *time.Location) (*Node, error) {
	n := &Node{Kind: KindOther}
	switch el.Tag {
	case "comp-filter":
		n.Kind = KindComp
		n.Name = strings.ToUpper(el.SelectAttrValue("name", ""))
	case "prop-filter":
		n.Kind = KindProp
		n.Name = strings.ToUpper(el.SelectAttrValue("name", ""))
	case "text-match":
		n.Kind = KindTextMatch
		n.Text = strings.TrimSpace(el.Text())
		n.Negate = el.SelectAttrValue("negate-condition", "no") == "yes"
	case "is-not-defined":
		n.Kind = KindIsNotDefined
	case "time-range":
		n.Kind = KindTimeRange
		tr, err := parseTimeRange(el, loc)
		if err != nil {
			return nil, err
		}
		n.Start, n.End = tr.Start, tr.End
	}
	for _, child := range el.ChildElements() {
		cn, err := parseNode(child, loc)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

type timeRange struct {
	Start mo.Option[time.Time]
	End   mo.Option[time.Time]
}

func parseTimeRange(el *etree.Element, loc *time.Location) (timeRange, error) {
	var tr timeRange
	bound := func(attr string) (mo.Option[time.Time], error) {
		v := el.SelectAttrValue(attr, "")
		if v == "" {
			return mo.None[time.Time](), nil
		}
		t, err := pkgical.ParseTime(v, loc)
		if err != nil {
			return mo.None[time.Time](), &Error{Msg: fmt.Sprintf("time-range %s: %v", attr, err)}
		}
		return mo.Some(t), nil
	}
	var err error
	if tr.Start, err = bound("start"); err != nil {
		return tr, err
	}
	if tr.End, err = bound("end"); err != nil {
		return tr, err
	}
	if tr.Start.IsAbsent() && tr.End.IsAbsent() {
		return tr, &Error{Msg: "time-range missing both start and end attribute"}
	}
	return tr, nil
}
