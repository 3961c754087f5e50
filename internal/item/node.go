package item

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
	govcard "github.com/emersion/go-vcard"
	"github.com/teambition/rrule-go"

	pkgical "github.com/sonroyaalmerol/gitdav/pkg/ical"
)

type Property struct {
	Name   string
	Params map[string][]string
	Value  string
}

// Node is one component of a parsed object: VCALENDAR, VEVENT, VTODO,
// VTIMEZONE, VCARD and so on. Properties the engine does not consult are
// kept in Props untouched.
type Node struct {
	Tag      string
	Props    map[string][]Property
	Children []*Node

	comp *ical.Component
}

func nodeFromComponent(c *ical.Component) *Node {
	n := &Node{
		Tag:   strings.ToUpper(c.Name),
		Props: make(map[string][]Property, len(c.Props)),
		comp:  c,
	}
	for name, props := range c.Props {
		for _, p := range props {
			n.Props[name] = append(n.Props[name], Property{
				Name:   p.Name,
				Params: map[string][]string(p.Params),
				Value:  p.Value,
			})
		}
	}
	for _, child := range c.Children {
		n.Children = append(n.Children, nodeFromComponent(child))
	}
	return n
}

func nodeFromCard(c govcard.Card) *Node {
	n := &Node{
		Tag:   "VCARD",
		Props: make(map[string][]Property, len(c)),
	}
	for name, fields := range c {
		for _, f := range fields {
			n.Props[name] = append(n.Props[name], Property{
				Name:   name,
				Params: map[string][]string(f.Params),
				Value:  f.Value,
			})
		}
	}
	return n
}

// Prop returns the first property called name, or nil.
func (n *Node) Prop(name string) *Property {
	props := n.Props[strings.ToUpper(name)]
	if len(props) == 0 {
		return nil
	}
	return &props[0]
}

func (n *Node) Value(name string) string {
	if p := n.Prop(name); p != nil {
		return p.Value
	}
	return ""
}

func (n *Node) UID() string     { return n.Value(ical.PropUID) }
func (n *Node) Summary() string { return n.Value(ical.PropSummary) }

// DTStart parses DTSTART, placing floating values in loc.
func (n *Node) DTStart(loc *time.Location) (time.Time, bool) {
	if n.comp == nil {
		return time.Time{}, false
	}
	p := n.comp.Props.Get(ical.PropDateTimeStart)
	if p == nil {
		return time.Time{}, false
	}
	t, err := pkgical.PropTime(p, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LastModified searches the tree depth-first for LAST-MODIFIED (or REV on
// cards).
func (n *Node) LastModified() (time.Time, bool) {
	for _, name := range []string{ical.PropLastModified, govcard.FieldRevision} {
		if p := n.Prop(name); p != nil {
			if t, err := pkgical.ParseTime(p.Value, time.UTC); err == nil {
				return t, true
			}
		}
	}
	for _, child := range n.Children {
		if t, ok := child.LastModified(); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// RecurrenceSet returns the occurrence set of this component. ok is false for
// components without DTSTART, which never take part in time-range matching.
func (n *Node) RecurrenceSet(loc *time.Location) (set *rrule.Set, ok bool, err error) {
	if n.comp == nil {
		return nil, false, nil
	}
	return pkgical.RecurrenceSet(n.comp, loc)
}
