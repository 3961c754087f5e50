package item

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

const eventABC = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240102T100000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const cardJane = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Jane Doe\r\n" +
	"UID:jane-1\r\n" +
	"END:VCARD\r\n"

func TestParseCalendarUsesUID(t *testing.T) {
	it, err := Parse([]byte(eventABC), "", "/tmp/x.ics")
	require.NoError(t, err)

	assert.Equal(t, "abc", it.Name())
	assert.Equal(t, "VEVENT", it.Tag())
	assert.Equal(t, Calendar, it.Kind())
	assert.Equal(t, "text/calendar", it.ContentType())
	assert.Equal(t, "/tmp/x.ics", it.Path())
	assert.Equal(t, ETag(it.Serialize()), it.ETag())
	assert.Contains(t, it.Text(), NameProp+":abc")
	assert.Equal(t, "abc", it.UID())
}

func TestParseRoundTrip(t *testing.T) {
	for _, text := range []string{eventABC, cardJane} {
		first, err := Parse([]byte(text), "", "")
		require.NoError(t, err)

		second, err := Parse(first.Serialize(), "", "")
		require.NoError(t, err)

		assert.Equal(t, first.Name(), second.Name())
		assert.Equal(t, first.ETag(), second.ETag())
		assert.Equal(t, first.Text(), second.Text())
	}
}

func TestParseIdentityOrder(t *testing.T) {
	explicit, err := Parse([]byte(eventABC), "chosen.ics", "")
	require.NoError(t, err)
	assert.Equal(t, "chosen.ics", explicit.Name())

	// the marker written above now wins over any caller supplied name
	again, err := Parse(explicit.Serialize(), "other", "")
	require.NoError(t, err)
	assert.Equal(t, "chosen.ics", again.Name())
}

func TestParseCollapsesDuplicateMarkers(t *testing.T) {
	text := strings.Replace(eventABC, "PRODID:-//test//EN\r\n",
		"PRODID:-//test//EN\r\n"+NameProp+":first\r\n"+NameProp+":second\r\n", 1)

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)

	assert.Equal(t, "first", it.Name())
	assert.Equal(t, 1, strings.Count(it.Text(), NameProp))
	assert.NotContains(t, it.Text(), "second")
}

func TestParseMarksEveryComponent(t *testing.T) {
	text := strings.Replace(eventABC, "END:VCALENDAR\r\n",
		"BEGIN:VEVENT\r\n"+
			"UID:abc\r\n"+
			"RECURRENCE-ID:20240109T100000Z\r\n"+
			NameProp+":other\r\n"+
			"DTSTAMP:20240101T000000Z\r\n"+
			"DTSTART:20240109T120000Z\r\n"+
			"END:VEVENT\r\n"+
			"END:VCALENDAR\r\n", 1)

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)

	// the only marker present wins and is copied to the master
	assert.Equal(t, "other", it.Name())
	assert.Equal(t, 2, strings.Count(it.Text(), NameProp+":other"))
	for _, child := range it.Object().Children {
		assert.Equal(t, "other", child.Value(NameProp))
	}
	assert.Empty(t, it.Object().Value(NameProp))

	again, err := Parse(it.Serialize(), "", "")
	require.NoError(t, err)
	assert.Equal(t, it.ETag(), again.ETag())
}

func TestParseWithoutUIDFallsBackToContentHash(t *testing.T) {
	text := strings.Replace(eventABC, "UID:abc\r\n", "", 1)

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)

	assert.Equal(t, contentHash(text), it.Name())
	assert.Equal(t, it.Name(), it.UID())
}

func TestParseCard(t *testing.T) {
	it, err := Parse([]byte(cardJane), "", "")
	require.NoError(t, err)

	assert.Equal(t, "jane-1", it.Name())
	assert.Equal(t, "VCARD", it.Tag())
	assert.Equal(t, Card, it.Kind())
	assert.Equal(t, "text/vcard", it.ContentType())
	assert.Equal(t, "jane-1", it.UID())
	assert.Contains(t, it.Text(), NameProp)
}

func TestParseOpaque(t *testing.T) {
	text := "BEGIN:VCALENDAR\r\n" +
		"VERSION:2.0\r\n" +
		"PRODID:-//test//EN\r\n" +
		"BEGIN:VTIMEZONE\r\n" +
		"TZID:Europe/Berlin\r\n" +
		"BEGIN:STANDARD\r\n" +
		"DTSTART:19701025T030000\r\n" +
		"TZOFFSETFROM:+0200\r\n" +
		"TZOFFSETTO:+0100\r\n" +
		"END:STANDARD\r\n" +
		"END:VTIMEZONE\r\n" +
		"END:VCALENDAR\r\n"

	it, err := Parse([]byte(text), "tz", "")
	require.NoError(t, err)

	assert.Equal(t, Opaque, it.Classify())
	assert.Equal(t, "VCALENDAR", it.Tag())
	assert.Equal(t, "text/calendar", it.ContentType())
	assert.Equal(t, ".dav", it.Kind().Extension())
}

func TestParseBareComponent(t *testing.T) {
	text := "BEGIN:VTODO\r\n" +
		"UID:bare\r\n" +
		"DTSTAMP:20240101T000000Z\r\n" +
		"SUMMARY:Buy milk\r\n" +
		"END:VTODO\r\n"

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)

	assert.Equal(t, "bare", it.Name())
	assert.Equal(t, "VTODO", it.Tag())
	assert.True(t, strings.HasPrefix(it.Text(), "BEGIN:VCALENDAR"))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\n"), "broken", "/c/broken.ics")
	require.Error(t, err)

	assert.True(t, errors.Is(err, storage.ErrParse))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "/c/broken.ics", pe.Path)
}

func TestParseNormalizesText(t *testing.T) {
	text := strings.Replace(eventABC, "SUMMARY:Standup", "SUMMARY:Caf\xe9\x01 talk", 1)

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)

	assert.Contains(t, it.Text(), "Café talk")
	assert.NotContains(t, it.Text(), "\x01")
	assert.Equal(t, "Café talk", it.Object().Children[0].Summary())
}

func TestParseLastModified(t *testing.T) {
	text := strings.Replace(eventABC, "SUMMARY:Standup\r\n", "SUMMARY:Standup\r\nLAST-MODIFIED:20240305T101500Z\r\n", 1)

	it, err := Parse([]byte(text), "", "")
	require.NoError(t, err)
	assert.True(t, it.LastModified().Equal(time.Date(2024, 3, 5, 10, 15, 0, 0, time.UTC)))

	fixed := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	t.Cleanup(func() { now = time.Now })

	plain, err := Parse([]byte(eventABC), "", "")
	require.NoError(t, err)
	assert.Equal(t, fixed, plain.LastModified())
}

func TestKindFileNames(t *testing.T) {
	cal, err := Parse([]byte(eventABC), "", "")
	require.NoError(t, err)
	card, err := Parse([]byte(cardJane), "", "")
	require.NoError(t, err)

	assert.Equal(t, "cal-123.ics", cal.FileName("123"))
	assert.Equal(t, "card-123.vcf", card.FileName("123"))
}

func TestDecodeCharset(t *testing.T) {
	assert.Equal(t, "€", Decode([]byte{0x80}, "windows-1252"))
	assert.Equal(t, "é", Decode([]byte{0xe9}, ""))
	assert.Equal(t, "é", Decode([]byte("é"), "utf-8"))
	assert.Equal(t, "a\tb\r\nc", StripControl("a\tb\x00\r\n\x1bc\x7f"))
}
