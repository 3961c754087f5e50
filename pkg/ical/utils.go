package ical

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// PropTime parses a DATE or DATE-TIME property. TZID parameters are honored;
// floating values and dates are placed in loc.
func PropTime(p *ical.Prop, loc *time.Location) (time.Time, error) {
	return parseDateTime(p.Value, propLocation(p, loc))
}

func propLocation(p *ical.Prop, loc *time.Location) *time.Location {
	if tzid := p.Params.Get(ical.ParamTimezoneID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			return l
		}
	}
	if loc == nil {
		return time.Local
	}
	return loc
}

func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	switch {
	case len(s) == 8:
		return time.ParseInLocation("20060102", s, loc)
	case len(s) == 15:
		return time.ParseInLocation("20060102T150405", s, loc)
	case len(s) == 16 && strings.HasSuffix(s, "Z"):
		return time.Parse("20060102T150405Z", s)
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
	}
	return t, nil
}

// ParseTime parses a bare DATE or DATE-TIME value. Values without a zone are
// interpreted in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return parseDateTime(s, loc)
}

func parseMultipleDates(dateStr string, loc *time.Location) []time.Time {
	var dates []time.Time
	for _, part := range strings.Split(dateStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		// PERIOD values carry a start before the slash
		if i := strings.IndexByte(part, '/'); i > 0 {
			part = part[:i]
		}
		date, err := parseDateTime(part, loc)
		if err != nil {
			continue
		}
		dates = append(dates, date)
	}
	return dates
}
