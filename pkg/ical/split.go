package ical

import (
	"github.com/emersion/go-ical"
)

// Split breaks cal into one calendar per UID. Components sharing a UID (a
// master and its RECURRENCE-ID overrides) stay together, and every
// non-object component (VTIMEZONE and friends) is copied into each result.
// Components without a UID each get their own calendar. When cal splits
// into several calendars the NameProp markers are dropped so that every
// result is named by its own UID.
func Split(cal *ical.Calendar) []*ical.Calendar {
	var shared []*ical.Component
	for _, child := range cal.Children {
		if !IsCalendarComponent(child.Name) {
			shared = append(shared, child)
		}
	}

	var order []string
	groups := make(map[string][]*ical.Component)
	var loose [][]*ical.Component
	for _, child := range ObjectComponents(cal) {
		ReconcileDuration(child)
		uid := ""
		if p := child.Props.Get(ical.PropUID); p != nil {
			uid = p.Value
		}
		if uid == "" {
			loose = append(loose, []*ical.Component{child})
			continue
		}
		if _, ok := groups[uid]; !ok {
			order = append(order, uid)
		}
		groups[uid] = append(groups[uid], child)
	}

	multi := len(order)+len(loose) > 1
	var out []*ical.Calendar
	build := func(comps []*ical.Component) {
		c := ical.NewCalendar()
		for name, props := range cal.Props {
			if name == NameProp {
				continue
			}
			c.Props[name] = append([]ical.Prop(nil), props...)
		}
		if multi {
			for _, comp := range comps {
				comp.Props.Del(NameProp)
			}
		}
		c.Children = append(append([]*ical.Component(nil), shared...), comps...)
		out = append(out, c)
	}
	for _, uid := range order {
		build(groups[uid])
	}
	for _, comps := range loose {
		build(comps)
	}
	return out
}

// ReconcileDuration resolves an event that carries both DTEND and DURATION,
// or a DURATION with no DTSTART, by keeping the DTSTART-anchored form. It
// reports whether comp was changed.
func ReconcileDuration(comp *ical.Component) bool {
	if comp.Props.Get(ical.PropDuration) == nil {
		return false
	}
	hasStart := comp.Props.Get(ical.PropDateTimeStart) != nil
	hasEnd := comp.Props.Get(ical.PropDateTimeEnd) != nil || comp.Props.Get(ical.PropDue) != nil
	if hasStart && !hasEnd {
		return false
	}
	comp.Props.Del(ical.PropDuration)
	return true
}
