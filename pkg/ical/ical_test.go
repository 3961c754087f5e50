package ical

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:one\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240101T090000Z\r\n" +
	"SUMMARY:One\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:two\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240102T090000Z\r\n" +
	"SUMMARY:Two\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:one\r\n" +
	"RECURRENCE-ID:20240108T090000Z\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240108T100000Z\r\n" +
	"SUMMARY:One moved\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func decodeOne(t *testing.T, text string) *ical.Calendar {
	t.Helper()
	cals, err := DecodeAll([]byte(text))
	require.NoError(t, err)
	require.Len(t, cals, 1)
	return cals[0]
}

func TestWrapBare(t *testing.T) {
	bare := "BEGIN:VEVENT\r\nUID:x\r\nEND:VEVENT\r\n"
	wrapped := WrapBare(bare)
	assert.True(t, strings.HasPrefix(wrapped, "BEGIN:VCALENDAR\r\n"))
	assert.True(t, strings.HasSuffix(wrapped, "END:VEVENT\r\nEND:VCALENDAR\r\n"))

	assert.Equal(t, sample, WrapBare(sample))
}

func TestEncodeIsCanonical(t *testing.T) {
	cal := decodeOne(t, sample)
	first, err := Encode(cal)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Encode(decodeOne(t, string(first)))
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}

	text := string(first)
	assert.Less(t, strings.Index(text, "DTSTAMP"), strings.Index(text, "SUMMARY:One"))
	assert.Less(t, strings.Index(text, "SUMMARY:One\r\n"), strings.Index(text, "UID:one"))
}

func TestCanonicalizeKeepsFoldedLines(t *testing.T) {
	in := "BEGIN:X\r\nZ:last\r\nDESCRIPTION:long\r\n  continued\r\nA:first\r\nEND:X\r\n"
	out := string(canonicalize([]byte(in)))
	assert.Equal(t, "BEGIN:X\r\nA:first\r\nDESCRIPTION:long\r\n  continued\r\nZ:last\r\nEND:X\r\n", out)
}

func TestEnsureRequired(t *testing.T) {
	cal := decodeOne(t, "BEGIN:VCALENDAR\r\nBEGIN:VTODO\r\nUID:t\r\nEND:VTODO\r\nEND:VCALENDAR\r\n")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, EnsureRequired(cal, now))
	assert.Equal(t, DefaultProdID, cal.Props.Get(ical.PropProductID).Value)
	assert.Equal(t, "2.0", cal.Props.Get(ical.PropVersion).Value)
	assert.Equal(t, "20240501T120000Z", cal.Children[0].Props.Get(ical.PropDateTimeStamp).Value)

	assert.False(t, EnsureRequired(cal, now))
}

func TestSplitGroupsByUID(t *testing.T) {
	withTZ := strings.Replace(sample, "BEGIN:VEVENT", "BEGIN:VTIMEZONE\r\nTZID:UTC\r\nEND:VTIMEZONE\r\nBEGIN:VEVENT", 1)
	parts := Split(decodeOne(t, withTZ))
	require.Len(t, parts, 2)

	uids := func(c *ical.Calendar) []string {
		var out []string
		for _, comp := range ObjectComponents(c) {
			out = append(out, comp.Props.Get(ical.PropUID).Value)
		}
		return out
	}
	assert.Equal(t, []string{"one", "one"}, uids(parts[0]))
	assert.Equal(t, []string{"two"}, uids(parts[1]))

	for _, p := range parts {
		assert.Equal(t, ical.CompTimezone, p.Children[0].Name)
		assert.Equal(t, "-//test//EN", p.Props.Get(ical.PropProductID).Value)
	}
}

func TestSplitDropsMarkersAcrossParts(t *testing.T) {
	marked := strings.ReplaceAll(sample, "BEGIN:VEVENT\r\n", "BEGIN:VEVENT\r\n"+NameProp+":stored\r\n")
	marked = strings.Replace(marked, "PRODID:-//test//EN\r\n", "PRODID:-//test//EN\r\n"+NameProp+":stored\r\n", 1)

	parts := Split(decodeOne(t, marked))
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.Nil(t, p.Props.Get(NameProp))
		for _, comp := range ObjectComponents(p) {
			assert.Nil(t, comp.Props.Get(NameProp))
		}
	}

	single := strings.ReplaceAll(marked, "UID:two", "UID:one")
	parts = Split(decodeOne(t, single))
	require.Len(t, parts, 1)
	assert.Nil(t, parts[0].Props.Get(NameProp))
	for _, comp := range ObjectComponents(parts[0]) {
		assert.Equal(t, "stored", comp.Props.Get(NameProp).Value)
	}
}

func TestReconcileDuration(t *testing.T) {
	both := ical.NewComponent(ical.CompEvent)
	both.Props.SetText(ical.PropDateTimeStart, "20240101T090000Z")
	both.Props.SetText(ical.PropDateTimeEnd, "20240101T100000Z")
	both.Props.SetText(ical.PropDuration, "PT2H")
	assert.True(t, ReconcileDuration(both))
	assert.Nil(t, both.Props.Get(ical.PropDuration))
	assert.NotNil(t, both.Props.Get(ical.PropDateTimeEnd))

	valid := ical.NewComponent(ical.CompEvent)
	valid.Props.SetText(ical.PropDateTimeStart, "20240101T090000Z")
	valid.Props.SetText(ical.PropDuration, "PT2H")
	assert.False(t, ReconcileDuration(valid))

	orphan := ical.NewComponent(ical.CompEvent)
	orphan.Props.SetText(ical.PropDuration, "PT2H")
	assert.True(t, ReconcileDuration(orphan))
}

func TestRecurrenceSet(t *testing.T) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropDateTimeStart, "20240101T090000Z")
	comp.Props.SetText(ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5")
	comp.Props.SetText(ical.PropExceptionDates, "20240103T090000Z")
	comp.Props.SetText(ical.PropRecurrenceDates, "20240110T090000Z")

	set, ok, err := RecurrenceSet(comp, time.UTC)
	require.NoError(t, err)
	require.True(t, ok)

	all := set.All()
	require.Len(t, all, 5)
	assert.Equal(t, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC), all[4].UTC())

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	assert.True(t, Intersects(set, day(2), day(3)))
	assert.False(t, Intersects(set, day(3), day(4)))
	assert.True(t, Intersects(set, day(9), time.Time{}))
	assert.False(t, Intersects(set, day(11), time.Time{}))
	assert.True(t, Intersects(set, time.Time{}, day(2)))
	assert.False(t, Intersects(set, time.Time{}, time.Time{}))

	_, ok, err = RecurrenceSet(ical.NewComponent(ical.CompTimezone), time.UTC)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestPropTimeHonorsTZID(t *testing.T) {
	p := ical.NewProp(ical.PropDateTimeStart)
	p.Value = "20240701T120000"
	p.Params.Set(ical.ParamTimezoneID, "Europe/Berlin")

	got, err := PropTime(p, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC), got.UTC())

	floating := ical.NewProp(ical.PropDateTimeStart)
	floating.Value = "20240701T120000"
	got, err = PropTime(floating, time.FixedZone("X", 3600))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 11, 0, 0, 0, time.UTC), got.UTC())
}
