package ical

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// DefaultProdID is stamped on calendars that arrive without one.
const DefaultProdID = "-//gitdav//gitdav//EN"

// NameProp carries a stored object's identity on each of its components.
const NameProp = "X-GITDAV-NAME"

var bareComponents = []string{ical.CompEvent, ical.CompToDo, ical.CompJournal, ical.CompFreeBusy}

// IsCalendarComponent reports whether name is one of the storable calendar
// object components.
func IsCalendarComponent(name string) bool {
	for _, c := range bareComponents {
		if c == name {
			return true
		}
	}
	return false
}

// WrapBare encloses a bare VEVENT/VTODO/VJOURNAL/VFREEBUSY in a VCALENDAR so the
// decoder accepts it. Text that already starts with BEGIN:VCALENDAR is
// returned unchanged.
func WrapBare(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	upper := strings.ToUpper(firstLine(trimmed))
	for _, c := range bareComponents {
		if upper == "BEGIN:"+c {
			var b strings.Builder
			b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:")
			b.WriteString(DefaultProdID)
			b.WriteString("\r\n")
			b.WriteString(strings.TrimRight(trimmed, "\r\n"))
			b.WriteString("\r\nEND:VCALENDAR\r\n")
			return b.String()
		}
	}
	return text
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// DecodeAll decodes every VCALENDAR in data.
func DecodeAll(data []byte) ([]*ical.Calendar, error) {
	dec := ical.NewDecoder(bytes.NewReader(data))
	var cals []*ical.Calendar
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		cals = append(cals, cal)
	}
	if len(cals) == 0 {
		return nil, errors.New("no VCALENDAR found")
	}
	return cals, nil
}

// Encode serializes cal with the properties of every component in name
// order, so equal calendars always produce equal bytes.
func Encode(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return canonicalize(buf.Bytes()), nil
}

type block struct {
	begin string
	props []string
	body  []byte
}

// canonicalize reorders content lines inside each BEGIN/END block by
// property name. Folded continuation lines stay attached to their property
// and properties sharing a name keep their relative order.
func canonicalize(data []byte) []byte {
	var out bytes.Buffer
	var stack []*block

	flush := func(b *block) []byte {
		sort.SliceStable(b.props, func(i, j int) bool {
			return propName(b.props[i]) < propName(b.props[j])
		})
		var w bytes.Buffer
		w.WriteString(b.begin)
		for _, p := range b.props {
			w.WriteString(p)
		}
		w.Write(b.body)
		return w.Bytes()
	}

	lines := strings.SplitAfter(string(data), "\r\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			continue
		}
		for i+1 < len(lines) && (strings.HasPrefix(lines[i+1], " ") || strings.HasPrefix(lines[i+1], "\t")) {
			i++
			line += lines[i]
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "BEGIN:"):
			stack = append(stack, &block{begin: line})
		case strings.HasPrefix(upper, "END:") && len(stack) > 0:
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			b.body = append(b.body, line...)
			done := flush(b)
			if len(stack) == 0 {
				out.Write(done)
			} else {
				parent := stack[len(stack)-1]
				parent.body = append(parent.body, done...)
			}
		case len(stack) > 0:
			b := stack[len(stack)-1]
			b.props = append(b.props, line)
		default:
			out.WriteString(line)
		}
	}
	return out.Bytes()
}

func propName(line string) string {
	if i := strings.IndexAny(line, ";:"); i >= 0 {
		return strings.ToUpper(line[:i])
	}
	return strings.ToUpper(line)
}

// EnsureRequired adds the properties the encoder insists on: PRODID and
// VERSION on the calendar, DTSTAMP on each object component. It reports
// whether anything was added.
func EnsureRequired(cal *ical.Calendar, now time.Time) bool {
	modified := false
	if cal.Props.Get(ical.PropProductID) == nil {
		cal.Props.SetText(ical.PropProductID, DefaultProdID)
		modified = true
	}
	if cal.Props.Get(ical.PropVersion) == nil {
		cal.Props.SetText(ical.PropVersion, "2.0")
		modified = true
	}
	for _, child := range cal.Children {
		if !IsCalendarComponent(child.Name) {
			continue
		}
		if child.Props.Get(ical.PropDateTimeStamp) == nil {
			prop := ical.NewProp(ical.PropDateTimeStamp)
			prop.SetDateTime(now.UTC())
			child.Props.Set(prop)
			modified = true
		}
	}
	return modified
}

// ObjectComponents returns the storable children of cal in document order.
func ObjectComponents(cal *ical.Calendar) []*ical.Component {
	var out []*ical.Component
	for _, child := range cal.Children {
		if IsCalendarComponent(child.Name) {
			out = append(out, child)
		}
	}
	return out
}

// DetectComponent returns the name of the first storable component.
func DetectComponent(cal *ical.Calendar) (string, error) {
	for _, child := range cal.Children {
		if IsCalendarComponent(child.Name) {
			return child.Name, nil
		}
	}
	return "", errors.New("unsupported component")
}
