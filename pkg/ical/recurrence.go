package ical

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// RecurrenceSet builds the occurrence set of comp. Without an RRULE the set
// holds DTSTART as its single occurrence plus any RDATEs; EXDATEs are
// always honored. Naive DTSTART values are interpreted in loc. ok is false
// when comp has no DTSTART.
func RecurrenceSet(comp *ical.Component, loc *time.Location) (set *rrule.Set, ok bool, err error) {
	if loc == nil {
		loc = time.Local
	}
	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, false, nil
	}
	start, err := PropTime(dtstart, loc)
	if err != nil {
		return nil, true, fmt.Errorf("invalid DTSTART: %w", err)
	}

	set = &rrule.Set{}
	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil {
		opt, err := rrule.StrToROptionInLocation(rr.Value, start.Location())
		if err != nil {
			return nil, true, fmt.Errorf("invalid RRULE: %w", err)
		}
		opt.Dtstart = start
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, true, fmt.Errorf("invalid RRULE: %w", err)
		}
		set.RRule(rule)
	} else {
		set.RDate(start)
	}

	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		for _, t := range parseMultipleDates(p.Value, propLocation(&p, loc)) {
			set.RDate(t)
		}
	}
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		for _, t := range parseMultipleDates(p.Value, propLocation(&p, loc)) {
			set.ExDate(t)
		}
	}
	return set, true, nil
}

// Intersects reports whether any occurrence of set falls inside the
// inclusive range [start, end]. A zero bound leaves that side open.
func Intersects(set *rrule.Set, start, end time.Time) bool {
	switch {
	case start.IsZero() && end.IsZero():
		return false
	case start.IsZero():
		return !set.Before(end, true).IsZero()
	default:
		next := set.After(start, true)
		if next.IsZero() {
			return false
		}
		return end.IsZero() || !next.After(end)
	}
}
