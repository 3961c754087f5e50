package filter

import (
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/sonroyaalmerol/gitdav/internal/item"
	pkgical "github.com/sonroyaalmerol/gitdav/pkg/ical"
)

// Engine evaluates filters against items. Loc is used for floating
// DTSTART values.
type Engine struct {
	Loc *time.Location
}

func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{Loc: loc}
}

// Match reports whether it passes f. Any top-level child matching the
// item's root object is enough.
func (e *Engine) Match(it *item.Item, f *Filter) bool {
	if f == nil {
		return true
	}
	root := it.Object()
	for _, child := range f.Children {
		if e.visit(root, child) {
			return true
		}
	}
	return false
}

func (e *Engine) visit(obj *item.Node, f *Node) bool {
	switch f.Kind {
	case KindComp:
		return e.MatchComponent(obj, f)
	case KindTimeRange:
		ok, err := e.MatchTimeRange(obj, f.Start, f.End)
		return err == nil && ok
	case KindProp:
		return e.matchProp(obj, f)
	default:
		return true
	}
}

// MatchComponent matches a comp-filter. The name must equal obj's tag; when
// the filter has children, at least one of them has to match obj itself or
// one of obj's direct children. A nested comp-filter holding is-not-defined
// matches when obj has no child of that name.
func (e *Engine) MatchComponent(obj *item.Node, f *Node) bool {
	if f.Name == "" || f.Name != obj.Tag {
		return false
	}
	if len(f.Children) == 0 {
		return true
	}
	for _, fc := range f.Children {
		if fc.Kind == KindIsNotDefined {
			continue
		}
		if fc.Kind == KindComp && fc.negated() {
			if fc.Name != "" && !hasChild(obj, fc.Name) {
				return true
			}
			continue
		}
		if e.visit(obj, fc) {
			return true
		}
		for _, child := range obj.Children {
			if e.visit(child, fc) {
				return true
			}
		}
	}
	return false
}

func (n *Node) negated() bool {
	for _, c := range n.Children {
		if c.Kind == KindIsNotDefined {
			return true
		}
	}
	return false
}

func hasChild(obj *item.Node, tag string) bool {
	for _, c := range obj.Children {
		if c.Tag == tag {
			return true
		}
	}
	return false
}

// MatchTimeRange reports whether any occurrence of obj falls inside
// [start, end]. Objects without DTSTART never match. An unbounded range is
// an error.
func (e *Engine) MatchTimeRange(obj *item.Node, start, end mo.Option[time.Time]) (bool, error) {
	if start.IsAbsent() && end.IsAbsent() {
		return false, &Error{Msg: "time-range missing both start and end attribute"}
	}
	set, ok, err := obj.RecurrenceSet(e.Loc)
	if err != nil || !ok {
		return false, nil
	}
	return pkgical.Intersects(set, start.OrEmpty(), end.OrEmpty()), nil
}

func (e *Engine) matchProp(obj *item.Node, f *Node) bool {
	props := obj.Props[f.Name]
	for _, fc := range f.Children {
		if fc.Kind == KindIsNotDefined {
			return len(props) == 0
		}
	}
	if len(props) == 0 {
		return false
	}
	for _, fc := range f.Children {
		if fc.Kind != KindTextMatch {
			continue
		}
		if !textMatch(props, fc) {
			return false
		}
	}
	return true
}

func textMatch(props []item.Property, f *Node) bool {
	needle := strings.ToLower(f.Text)
	found := false
	for _, p := range props {
		if strings.Contains(strings.ToLower(p.Value), needle) {
			found = true
			break
		}
	}
	return found != f.Negate
}
